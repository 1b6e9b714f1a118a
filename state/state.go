package state

import "github.com/m-lab/pvgo/status"

// State is the single owning root for one input file's worth of transfer
// and calculation bookkeeping, shared across a run. Display and cursor
// state live in their own packages (display, cursor) since they also
// depend on the compiled format plan and on OS-level IPC respectively;
// both take a *State as an argument rather than embedding it, keeping the
// dependency direction one-way.
type State struct {
	Control  *Control
	Transfer *Transfer
	Calc     *Calc
	Exit     status.Exit
}

// New builds a State from a Control, sizing the transfer buffer and
// history ring from the control's current settings.
func New(c *Control) *State {
	bufSize := c.TargetBufferSize
	if bufSize <= 0 {
		bufSize = BufferSize
	}
	return &State{
		Control:  c,
		Transfer: NewTransfer(bufSize),
		Calc:     NewCalc(c.HistoryLen),
	}
}

// ResetForNextFile re-initializes the per-file transfer state (fd error
// state, buffer positions, EOF flags) for a new input file within the same
// run (e.g. when advancing to the next file in a multi-file invocation),
// preserving TotalWritten and leaving Calc untouched.
func (s *State) ResetForNextFile(fd int) {
	s.Transfer.ResetFdErrorState(fd)
	s.Transfer.ReadPosition = 0
	s.Transfer.WritePosition = 0
	s.Transfer.EOFIn = false
	s.Transfer.EOFOut = false
}
