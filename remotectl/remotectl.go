// Package remotectl implements the optional remote-reconfigure channel:
// a running instance accepts option updates from another process and
// applies them to its control block, invalidating the compiled display
// format so the next tick reparses it.
//
// The original tool uses a SysV message queue keyed by the target pid;
// §6 of the specification calls the transport an implementation choice
// as long as the semantic contract holds ("atomic replacement of the
// in-memory control block followed by reparse_display = 1"). This
// package is grounded on the teacher repository's eventsocket client/
// server pair: a Unix-domain socket carrying JSONL messages, read with
// bufio.Scanner exactly as eventsocket.MustRun does, and served to one
// or more writers the way eventsocket.server accepts multiple readers.
package remotectl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/m-lab/go/rtx"
	"github.com/m-lab/pvgo/metrics"
	"github.com/m-lab/pvgo/state"
)

// Message is the wire format for a reconfigure request. Only non-nil
// fields are applied, so a sender can change just the rate limit, just
// the format string, or any subset of the fields.
type Message struct {
	FormatString      *string  `json:"format,omitempty"`
	ExtraFormatString *string  `json:"extra_format,omitempty"`
	RateLimit         *int64   `json:"rate_limit,omitempty"`
	Size              *int64   `json:"size,omitempty"`
	Interval          *float64 `json:"interval,omitempty"`
	Name              *string  `json:"name,omitempty"`
}

// Listener accepts reconfigure messages on a Unix-domain socket and
// applies them to a *state.State under lock.
type Listener struct {
	path string
	st   *state.State

	// OnApply is called after each successfully applied message, under
	// the same lock held during the apply; main wiring sets this to the
	// signal router's RequestReparse.
	OnApply func()

	mu  sync.Mutex
	ln  net.Listener
	wg  sync.WaitGroup
}

// NewListener prepares a Listener for the given socket path. Listen must
// be called before Serve.
func NewListener(path string, st *state.State) *Listener {
	return &Listener{path: path, st: st}
}

// Listen creates the Unix-domain socket, removing any stale socket file
// left behind by an unclean shutdown first.
func (l *Listener) Listen() error {
	os.Remove(l.path)
	ln, err := net.Listen("unix", l.path)
	if err != nil {
		return fmt.Errorf("remotectl: listen on %s: %w", l.path, err)
	}
	l.ln = ln
	return nil
}

// Serve accepts connections until ctx is canceled, applying each
// newline-delimited JSON message it receives. It should be run in its
// own goroutine after Listen succeeds.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
		os.Remove(l.path)
	}()

	var err error
	for ctx.Err() == nil {
		var conn net.Conn
		conn, err = l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("remotectl: accept on %s: %s\n", l.path, err)
			continue
		}
		l.wg.Add(1)
		go l.serveConn(ctx, conn)
	}
	l.wg.Wait()
	return nil
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	s := bufio.NewScanner(conn)
	for s.Scan() {
		var msg Message
		if err := json.Unmarshal(s.Bytes(), &msg); err != nil {
			log.Println("remotectl: bad message:", err)
			continue
		}
		l.apply(msg)
	}
	if err := s.Err(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		log.Println("remotectl: connection scan ended:", err)
	}
}

func (l *Listener) apply(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ctl := l.st.Control
	if msg.FormatString != nil {
		ctl.FormatString = *msg.FormatString
	}
	if msg.ExtraFormatString != nil {
		ctl.ExtraFormatString = *msg.ExtraFormatString
	}
	if msg.RateLimit != nil {
		ctl.RateLimit = *msg.RateLimit
	}
	if msg.Size != nil {
		ctl.Size = *msg.Size
	}
	if msg.Interval != nil {
		ctl.Interval = *msg.Interval
	}
	if msg.Name != nil {
		ctl.Name = *msg.Name
	}

	metrics.RemoteReconfigureCount.Inc()
	if l.OnApply != nil {
		l.OnApply()
	}
}

// Client sends reconfigure messages to a running instance's Listener.
type Client struct {
	conn net.Conn
}

// Dial connects to a Listener's socket.
func Dial(path string) (*Client, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("remotectl: dial %s: %w", path, err)
	}
	return &Client{conn: conn}, nil
}

// MustDial is Dial with a fatal-on-error wrapper, for CLI entry points
// that treat a missing target instance as a usage error.
func MustDial(path string) *Client {
	c, err := Dial(path)
	rtx.Must(err, "remotectl: could not connect to %s", path)
	return c
}

// Send marshals msg as one JSON line and writes it to the connection.
func (c *Client) Send(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = c.conn.Write(b)
	return err
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
