package calc_test

import (
	"math"
	"testing"

	"github.com/m-lab/pvgo/calc"
	"github.com/m-lab/pvgo/state"
)

func newState(size int64, historyLen int) *state.State {
	ctl := state.NewControl()
	ctl.Size = size
	ctl.SetAverageRateWindow((historyLen - 1))
	st := state.New(ctl)
	return st
}

func TestAntiSpikeCarriesBytesForward(t *testing.T) {
	st := newState(0, 1)
	st.Transfer.TotalWritten = 100
	st.Transfer.ElapsedSeconds = 0.005 // below AntiSpikeThreshold
	calc.Calculate(st, false)

	if st.Calc.PrevTrans != 100 {
		t.Errorf("PrevTrans = %d, want 100 carried forward", st.Calc.PrevTrans)
	}
	if st.Calc.TransferRate != 0 {
		t.Errorf("TransferRate = %v, want 0 (no prior rate yet)", st.Calc.TransferRate)
	}

	// Second tick: still below threshold relative to the first tick's
	// PrevElapsedSec (0.005), so it should carry forward again.
	st.Transfer.TotalWritten = 150
	st.Transfer.ElapsedSeconds = 0.008
	calc.Calculate(st, false)
	if st.Calc.PrevTrans != 150 {
		t.Errorf("PrevTrans = %d, want 150", st.Calc.PrevTrans)
	}
}

func TestRateComputedAfterThreshold(t *testing.T) {
	st := newState(0, 1)
	st.Transfer.TotalWritten = 1000
	st.Transfer.ElapsedSeconds = 1.0
	calc.Calculate(st, false)
	if math.Abs(st.Calc.TransferRate-1000) > 1e-9 {
		t.Errorf("TransferRate = %v, want 1000", st.Calc.TransferRate)
	}
	if st.Calc.RateMin != 1000 || st.Calc.RateMax != 1000 {
		t.Errorf("min/max = %v/%v, want 1000/1000", st.Calc.RateMin, st.Calc.RateMax)
	}
	if st.Calc.MeasurementsTaken != 1 {
		t.Errorf("MeasurementsTaken = %d, want 1", st.Calc.MeasurementsTaken)
	}
}

func TestBitsModeScalesStats(t *testing.T) {
	st := newState(0, 1)
	st.Control.Bits = true
	st.Transfer.TotalWritten = 1000
	st.Transfer.ElapsedSeconds = 1.0
	calc.Calculate(st, false)
	if st.Calc.RateMax != 8000 {
		t.Errorf("RateMax = %v, want 8000 (bits-adjusted)", st.Calc.RateMax)
	}
	// TransferRate itself (used for display rate formatting) stays in
	// bytes/sec; only the accumulated stats are bits-adjusted.
	if st.Calc.TransferRate != 1000 {
		t.Errorf("TransferRate = %v, want 1000 unscaled", st.Calc.TransferRate)
	}
}

func TestPercentageClampedWithKnownSize(t *testing.T) {
	st := newState(100, 1)
	st.Transfer.TotalWritten = 1000 // far beyond size
	st.Transfer.ElapsedSeconds = 1.0
	calc.Calculate(st, false)
	if st.Calc.Percentage != 100 {
		t.Errorf("Percentage = %v, want clamped to 100", st.Calc.Percentage)
	}
}

func TestPercentageSweepsAndWrapsWithUnknownSize(t *testing.T) {
	st := newState(0, 1)
	for i := 0; i < 5; i++ {
		st.Transfer.TotalWritten += 10
		st.Transfer.ElapsedSeconds += 1.0
		calc.Calculate(st, false)
	}
	if st.Calc.Percentage != 10 {
		t.Errorf("Percentage after 5 positive ticks = %v, want 10 (2 per tick)", st.Calc.Percentage)
	}
}

func TestFinalRecomputesWholeTransferAverage(t *testing.T) {
	st := newState(0, 1)
	st.Transfer.InitialOffset = 0
	st.Transfer.TotalWritten = 500
	st.Transfer.ElapsedSeconds = 5.0
	calc.Calculate(st, true)
	want := 500.0 / 5.0
	if math.Abs(st.Calc.AverageRate-want) > 1e-9 {
		t.Errorf("AverageRate = %v, want %v", st.Calc.AverageRate, want)
	}
	if st.Calc.TransferRate != st.Calc.AverageRate {
		t.Error("TransferRate should equal AverageRate on final update")
	}
}

func TestHistoryFirstEqualsLastWithOneEntry(t *testing.T) {
	st := newState(0, 3)
	st.Transfer.TotalWritten = 10
	st.Transfer.ElapsedSeconds = 1.0
	calc.Calculate(st, false)
	if st.Calc.HistoryFirst != st.Calc.HistoryLast {
		t.Error("first should equal last with exactly one history entry")
	}
}

func TestHistoryAdvancesAndEvicts(t *testing.T) {
	st := newState(0, 2) // HistoryLen=2 => window requested was 1
	for i := 0; i < 10; i++ {
		st.Transfer.TotalWritten += 100
		st.Transfer.ElapsedSeconds += 1.0
		calc.Calculate(st, false)
	}
	if st.Calc.HistoryCount != 2 {
		t.Errorf("HistoryCount = %d, want 2 (ring full)", st.Calc.HistoryCount)
	}
	// Average rate over the 2-slot window should equal the instantaneous
	// rate once ticks are evenly spaced at 1 unit/sec each.
	if math.Abs(st.Calc.CurrentAvgRate-100) > 1e-6 {
		t.Errorf("CurrentAvgRate = %v, want 100", st.Calc.CurrentAvgRate)
	}
}
