// Package dap drives a debugger backend through the Debug Adapter Protocol
// (DAP).
//
// This package provides:
//   - Transport: framed message sending/receiving over TCP or a pipe pair
//   - Client: request/response correlation and event delivery
//   - Backend: an engine.Engine that turns breakpoint and variable commands
//     into DAP requests and adapter events into engine events
//
// The adapter must already be running; this package only connects to it.
// The protocol is described at: https://microsoft.github.io/debug-adapter-protocol/
package dap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"
	"go.uber.org/multierr"
)

// Transport frames DAP messages over a byte stream. Send may be called from
// several goroutines; Receive is meant for a single reader.
type Transport struct {
	rd *bufio.Reader

	sendMu sync.Mutex
	wr     *bufio.Writer

	seq atomic.Int64

	closers   []io.Closer
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func newTransport(r io.Reader, w io.Writer, closers ...io.Closer) *Transport {
	return &Transport{
		rd:      bufio.NewReader(r),
		wr:      bufio.NewWriter(w),
		closers: closers,
	}
}

// NewTCPTransport dials the debug adapter listening on address. timeout
// bounds the dial only.
func NewTCPTransport(ctx context.Context, address string, timeout time.Duration) (*Transport, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial debug adapter %s: %w", address, err)
	}
	return newTransport(conn, conn, conn), nil
}

// NewPipeTransport frames messages over a separate reader and writer, such
// as an in-memory pipe pair. Close closes both.
func NewPipeTransport(r io.ReadCloser, w io.WriteCloser) *Transport {
	return newTransport(r, w, r, w)
}

// NextSeq returns the sequence number for the next outgoing message,
// starting at 1.
func (t *Transport) NextSeq() int {
	return int(t.seq.Add(1))
}

// Send writes msg and flushes it.
func (t *Transport) Send(msg dap.Message) error {
	if t.closed.Load() {
		return fmt.Errorf("send DAP message: %w", net.ErrClosed)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if err := dap.WriteProtocolMessage(t.wr, msg); err != nil {
		return fmt.Errorf("send DAP message: %w", err)
	}
	if err := t.wr.Flush(); err != nil {
		return fmt.Errorf("flush DAP message: %w", err)
	}
	return nil
}

// Receive blocks until the next message arrives. After Close it reports
// net.ErrClosed.
func (t *Transport) Receive() (dap.Message, error) {
	msg, err := dap.ReadProtocolMessage(t.rd)
	if err != nil {
		if t.closed.Load() {
			return nil, fmt.Errorf("read DAP message: %w", net.ErrClosed)
		}
		return nil, fmt.Errorf("read DAP message: %w", err)
	}
	return msg, nil
}

// Close closes the underlying streams. Further calls return the first
// result.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		for _, c := range t.closers {
			t.closeErr = multierr.Append(t.closeErr, c.Close())
		}
	})
	return t.closeErr
}
