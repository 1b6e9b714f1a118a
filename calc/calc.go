// Package calc implements the rate and history calculator: the per-tick
// routine that turns raw byte/line counts into a smoothed transfer rate,
// a windowed average rate, running min/max/sum statistics for
// --show-stats, and the progress percentage.
//
// It is grounded on pv/calc.c, translated field-for-field onto
// state.Calc/state.Transfer/state.Control. The history is a
// fixed-capacity ring, sized up front since the window length is known:
// each advance writes the newest slot and, once the ring is full, evicts
// the oldest.
package calc

import (
	"math"

	"github.com/m-lab/pvgo/state"
)

// Calculate runs one tick of the rate/history/percentage update. final
// should be true on the tick that observes EOF, triggering the
// whole-transfer average recompute described in pv/calc.c.
func Calculate(st *state.State, final bool) {
	c := st.Calc
	tr := st.Transfer
	ctl := st.Control

	deltaB := tr.TotalWritten - c.PrevTotalWritten
	deltaT := tr.ElapsedSeconds - c.PrevElapsedSec

	if deltaT <= state.AntiSpikeThreshold {
		// Anti-spike: too little time has passed to get a meaningful
		// rate sample, so carry the bytes forward and reuse the last
		// rate rather than dividing by a near-zero duration.
		c.PrevTrans += deltaB
		c.TransferRate = c.PrevRate
	} else {
		rate := (float64(deltaB) + float64(c.PrevTrans)) / deltaT
		c.PrevTrans = 0
		c.TransferRate = rate
		c.PrevRate = rate

		observed := rate
		if ctl.Bits {
			observed *= 8
		}
		if c.MeasurementsTaken == 0 || observed < c.RateMin {
			c.RateMin = observed
		}
		if observed > c.RateMax {
			c.RateMax = observed
		}
		c.RateSum += observed
		c.RateSquaredSum += observed * observed
		c.MeasurementsTaken++
	}

	updateHistory(st)
	updatePercentage(st)

	if final {
		elapsed := tr.ElapsedSeconds
		if elapsed < 1e-6 {
			elapsed = 1e-6
		}
		avg := float64(tr.TotalWritten-tr.InitialOffset) / elapsed
		c.TransferRate = avg
		c.AverageRate = avg
	}

	c.PrevElapsedSec = tr.ElapsedSeconds
	c.PrevTotalWritten = tr.TotalWritten
}

// updateHistory advances the history ring and recomputes CurrentAvgRate.
func updateHistory(st *state.State) {
	c := st.Calc
	tr := st.Transfer
	ctl := st.Control

	sample := state.HistorySample{ElapsedSec: tr.ElapsedSeconds, Transferred: tr.TotalWritten}

	switch {
	case c.HistoryCount == 0:
		c.History[0] = sample
		c.HistoryFirst = 0
		c.HistoryLast = 0
		c.HistoryCount = 1
	case tr.ElapsedSeconds >= c.HistoryNewest().ElapsedSec+ctl.HistoryInterval:
		c.HistoryLast = (c.HistoryLast + 1) % len(c.History)
		c.History[c.HistoryLast] = sample
		if c.HistoryCount < len(c.History) {
			c.HistoryCount++
		} else {
			c.HistoryFirst = (c.HistoryFirst + 1) % len(c.History)
		}
	default:
		// Not time to advance yet; the newest slot just gets denser,
		// matching pv_calculate_transferrate's "update in place" path.
		c.History[c.HistoryLast] = sample
	}

	if c.HistoryCount <= 1 {
		c.CurrentAvgRate = c.TransferRate
		return
	}
	oldest, newest := c.HistoryOldest(), c.HistoryNewest()
	dt := newest.ElapsedSec - oldest.ElapsedSec
	if dt <= 0 {
		c.CurrentAvgRate = c.TransferRate
		return
	}
	c.CurrentAvgRate = float64(newest.Transferred-oldest.Transferred) / dt
}

// updatePercentage advances Calc.Percentage: a clamped 0-100 value when
// the total size is known, or a sweeping-and-bouncing 0-200 value
// otherwise (the progress-bar formatter folds 100-200 back to 200-p).
func updatePercentage(st *state.State) {
	c := st.Calc
	tr := st.Transfer
	ctl := st.Control

	if ctl.Size > 0 {
		pct := 100 * float64(tr.Transferred()) / float64(ctl.Size)
		c.Percentage = math.Min(100, math.Max(0, pct))
		return
	}
	if c.TransferRate > 0 {
		c.Percentage = math.Mod(c.Percentage+2, 200)
	}
}
