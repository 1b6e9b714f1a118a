// Package state is the single owning root for a pv run: control options,
// transient signal flags, transfer buffers, rate/history calculator state,
// compiled display state, and cursor-coordination bookkeeping.
//
// It is grounded on pv-internal.h's pvstate_s/pvcontrol_s/pvtransientsigs_s/
// pvtransfercalc_s/pvdisplay_s/pvcursorstate_s field layout, and follows the
// teacher repository's cache.go in treating the container as the sole owner
// of its buffers: nothing else in the program retains a reference across
// tick boundaries.
package state

import "time"

// Size and timing constants lifted from pv-internal.h.
const (
	// BufferSize is the default transfer buffer size in bytes, used when
	// no better hint (block size, explicit option) is available.
	BufferSize = 409600
	// BufferSizeMax bounds how large an auto-sized buffer may grow to.
	BufferSizeMax = 524288
	// MaxReadAtOnce bounds a single read(2)/splice(2) call.
	MaxReadAtOnce = 524288
	// MaxWriteAtOnce bounds a single write(2) call.
	MaxWriteAtOnce = 524288
	// MaxLinePositions is the capacity of the line-position ring buffer
	// used to translate byte-level pipe back-pressure into line counts.
	MaxLinePositions = 100000
	// LastWrittenBufferSize is the capacity of the rolling "last bytes
	// written" buffer backing the %A last-written formatter.
	LastWrittenBufferSize = 256
	// LineBufferSize is the capacity of the previous-line/next-line
	// buffers backing the %L previous-line formatter.
	LineBufferSize = 1024

	// RateGranularity is how often the rate-limit token bucket refills.
	RateGranularity = 100 * time.Millisecond
	// RateBurstWindowMultiple caps the token bucket at this many times
	// the configured rate limit, in bytes-per-second terms.
	RateBurstWindowMultiple = 5

	// TransferReadTimeout bounds a single read phase within a tick.
	TransferReadTimeout = 90 * time.Millisecond
	// TransferWriteTimeout bounds a single write phase within a tick.
	TransferWriteTimeout = 900 * time.Millisecond

	// EOFSleep is the pause between ticks once EOF has been reached but
	// the output pipe buffer is still draining, avoiding a busy spin.
	EOFSleep = 50 * time.Millisecond

	// AdaptiveSkipBlockMax bounds the adaptive read-error skip block
	// size (doubles on consecutive failures, resets on success).
	AdaptiveSkipBlockMax = 1 << 20

	// AntiSpikeThreshold is the minimum elapsed time between two rate
	// samples before a rate is computed directly rather than carried
	// forward (pv_calculate_transferrate's "less than 10ms" guard).
	AntiSpikeThreshold = 0.01 // seconds

	// ElapsedClamp bounds timer/ETA/FINETA seconds fields (100 hours).
	ElapsedClamp = 360000.0
)
