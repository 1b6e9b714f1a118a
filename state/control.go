package state

import "github.com/m-lab/pvgo/status"

// Control holds the options that shape a run. It is set up once from the
// command line (or, for a subset of fields, replaced wholesale by a remote
// reconfigure message) and is otherwise read-only from the main loop's
// point of view.
type Control struct {
	Size              int64 // expected total bytes/lines; 0 = unknown
	RateLimit         int64 // bytes/sec; 0 = unlimited
	TargetBufferSize  int64
	Interval          float64 // seconds between display updates
	DelayStart        float64
	Width             int
	Height            int
	WidthSetManually  bool
	HeightSetManually bool
	Name              string
	FormatString      string
	ExtraFormatString string
	OutputFd          int // defaults to 1 (stdout)

	SkipErrors     int
	ErrorSkipBlock int64

	// AverageRateWindow decomposes into HistoryLen (>=1) slots spaced
	// HistoryInterval seconds apart: if window<20, len=window+1,
	// interval=1; else len=window/5+1, interval=5.
	AverageRateWindow int
	HistoryLen        int
	HistoryInterval   float64

	Force             bool
	Cursor            bool
	Numeric           bool
	Wait              bool
	RateGauge         bool
	LineMode          bool
	Bits              bool
	DecimalUnits      bool
	NullTerminated    bool
	NoDisplay         bool
	StopAtSize        bool
	SyncAfterWrite    bool
	DirectIO          bool
	NoSplice          bool
	DiscardInput      bool
	ShowStats         bool
	CanDisplayUTF8    bool

	CountType status.CountType

	// WatchPID/WatchFd select the watch-loop variant in place of normal
	// transfer; a zero WatchPID means "not watching", and a negative
	// WatchFd watches every open fd of WatchPID.
	WatchPID int
	WatchFd  int

	// ExtraDisplayWindowTitle/ExtraDisplayProcessTitle enable the two
	// optional "extra" display targets.
	ExtraDisplayWindowTitle  bool
	ExtraDisplayProcessTitle bool
}

// NewControl returns a Control with pv's documented defaults: a 1-second
// display interval and a single-slot average-rate window.
func NewControl() *Control {
	c := &Control{
		Interval: 1,
	}
	c.SetAverageRateWindow(0)
	return c
}

// SetAverageRateWindow recomputes HistoryLen/HistoryInterval from a
// window size in seconds, per pv-internal.h's documented rule.
func (c *Control) SetAverageRateWindow(window int) {
	c.AverageRateWindow = window
	if window < 20 {
		c.HistoryLen = window + 1
		c.HistoryInterval = 1
		return
	}
	c.HistoryLen = window/5 + 1
	c.HistoryInterval = 5
}
