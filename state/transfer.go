package state

// Transfer holds the buffer, positions, and per-tick bookkeeping the
// transfer engine owns. Invariant: 0 <= WritePosition <= ReadPosition <=
// len(Buffer).
type Transfer struct {
	Buffer        []byte
	BufferSize    int64
	ReadPosition  int64
	WritePosition int64

	TotalWritten         int64 // cumulative, bytes or lines per CountType
	WrittenButNotConsumed int64 // bytes sitting in the output pipe's kernel buffer
	ElapsedSeconds       float64
	InitialOffset        int64 // input position at open, for watched-fd mode

	LastReadSkipFd       int
	ReadErrorsInARow     int
	ReadErrorWarningShown bool

	SpliceFailedFd int
	SpliceUsed     bool

	// LinePositions is a ring of TotalWritten values recorded at each
	// line-separator write, used to translate WrittenButNotConsumed
	// (bytes) back into a line count in line mode.
	LinePositions      []int64
	LinePositionsHead  int // next slot to write
	LinePositionsCount int // number of valid entries, <= cap

	EOFIn  bool
	EOFOut bool

	// LastWritten is a rolling tail of the most recently written bytes,
	// capped at LastWrittenBufferSize, backing the %A last-written
	// formatter. Populated by the transfer engine only when the format
	// compiler has set ShowingLastWritten.
	LastWritten []byte

	// PreviousLine and NextLine back the %L previous-line formatter:
	// NextLine accumulates bytes since the last separator; when a
	// separator is seen, NextLine becomes PreviousLine and NextLine
	// resets. Populated only when ShowingPreviousLine is set.
	PreviousLine []byte
	NextLine     []byte
}

// NewTransfer allocates a Transfer with the given initial buffer size and
// line-position ring capacity.
func NewTransfer(bufferSize int64) *Transfer {
	return &Transfer{
		Buffer:        make([]byte, bufferSize),
		BufferSize:    bufferSize,
		LinePositions: make([]int64, MaxLinePositions),
	}
}

// Grow resizes the buffer up to newSize, preserving unread bytes. It is a
// no-op if newSize is not larger than the current buffer.
func (t *Transfer) Grow(newSize int64) {
	if newSize <= t.BufferSize {
		return
	}
	buf := make([]byte, newSize)
	copy(buf, t.Buffer[:t.ReadPosition])
	t.Buffer = buf
	t.BufferSize = newSize
}

// PushLinePosition records TotalWritten into the ring, evicting the oldest
// entry once capacity is reached.
func (t *Transfer) PushLinePosition() {
	t.LinePositions[t.LinePositionsHead] = t.TotalWritten
	t.LinePositionsHead = (t.LinePositionsHead + 1) % len(t.LinePositions)
	if t.LinePositionsCount < len(t.LinePositions) {
		t.LinePositionsCount++
	}
}

// LinesNotConsumed walks the ring backwards to count how many recorded
// line positions lie beyond threshold (the TotalWritten value up to which
// the downstream has consumed), giving the line-mode equivalent of
// WrittenButNotConsumed.
func (t *Transfer) LinesNotConsumed(threshold int64) int64 {
	var lines int64
	n := len(t.LinePositions)
	for i := 0; i < t.LinePositionsCount; i++ {
		idx := (t.LinePositionsHead - 1 - i + n) % n
		if t.LinePositions[idx] <= threshold {
			break
		}
		lines++
	}
	return lines
}

// CollapseIfDrained resets ReadPosition/WritePosition to 0 once every
// buffered byte has been written out.
func (t *Transfer) CollapseIfDrained() {
	if t.WritePosition == t.ReadPosition {
		t.ReadPosition = 0
		t.WritePosition = 0
	}
}

// Transferred returns what the downstream has actually consumed: the
// total written minus whatever is still sitting in the output pipe.
func (t *Transfer) Transferred() int64 {
	v := t.TotalWritten - t.WrittenButNotConsumed
	if v < 0 {
		return 0
	}
	return v
}

// ResetFdErrorState clears the per-fd error counters, called whenever the
// active input fd changes (new file, or watched fd re-opened).
func (t *Transfer) ResetFdErrorState(fd int) {
	t.LastReadSkipFd = fd
	t.ReadErrorsInARow = 0
	t.ReadErrorWarningShown = false
	t.SpliceFailedFd = -1
}

// AppendLastWritten folds newly written bytes into the rolling
// last-written tail, trimming from the front once it exceeds
// LastWrittenBufferSize.
func (t *Transfer) AppendLastWritten(data []byte) {
	t.LastWritten = append(t.LastWritten, data...)
	if len(t.LastWritten) > LastWrittenBufferSize {
		t.LastWritten = t.LastWritten[len(t.LastWritten)-LastWrittenBufferSize:]
	}
}

// ScanLines folds newly written bytes into PreviousLine/NextLine,
// rotating NextLine into PreviousLine on each separator byte.
func (t *Transfer) ScanLines(data []byte, sep byte) {
	for _, b := range data {
		if b == sep {
			t.PreviousLine = append(t.PreviousLine[:0], t.NextLine...)
			t.NextLine = t.NextLine[:0]
			continue
		}
		if len(t.NextLine) < LineBufferSize {
			t.NextLine = append(t.NextLine, b)
		}
	}
}
