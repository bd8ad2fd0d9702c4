/*Package comm provides transport primitives for talking to lab instruments.

An instrument driver holds a Pool of connections and, per transaction, wraps
the leased connection in a deadline (NewTimeout).  Writes go through a
Terminator so they carry the transmission terminator; reads go through
ReadUntil on the undressed connection, which accumulates frames until the
receipt terminator appears.  The wrappers are cheap and are remade on each
lease; the underlying connection is what the pool recycles.

Makers for TCP and serial links are provided here.  Other transports (GPIB
controllers, USBTMC) live in their own packages and produce the same
io.ReadWriteCloser shape.
*/
package comm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotDeadliner is generated when a timeout is requested on a
	// connection that cannot carry deadlines
	ErrNotDeadliner = errors.New("connection does not support deadlines, cannot apply timeout")

	// ErrTerminatorNotFound is generated when the termination byte is not
	// found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// frameSize is one ethernet MTU, a good chunk size for ASCII replies
const frameSize = 1500

// CreationFunc returns a new "connection" to something.  A closure is used
// to encapsulate the variables needed (address, serial config, ...)
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackoffDial dials addr over TCP, retrying with exponential backoff.
// Instruments and terminal servers do not like being connection thrashed,
// so the retry starts gentle.  Connection refused is surfaced immediately.
func BackoffDial(addr string, timeout time.Duration) (net.Conn, error) {
	var (
		conn       net.Conn
		wasTimeout bool
	)
	op := func() error {
		var err error
		conn, err = TCPSetup(addr, timeout)
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		wasTimeout = false
		return nil
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		return nil, err
	}
	if wasTimeout {
		return nil, fmt.Errorf("connection timeout to %s", addr)
	}
	return conn, nil
}

// TCPMaker returns a CreationFunc which dials addr with BackoffDial
func TCPMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return BackoffDial(addr, timeout)
	}
}

// SerialMaker returns a CreationFunc which opens the port described by conf
func SerialMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// Terminator wraps a Writer, appending the Tx terminator on writes.  Reads
// stay on the bare connection so that ReadUntil can see the receipt
// terminator; stripping it here would leave ReadUntil blocking for a byte
// that never arrives.
type Terminator struct {
	w io.Writer

	// Tx is the transmission terminator
	Tx byte
}

// NewTerminator returns a Terminator wrapping w
func NewTerminator(w io.Writer, tx byte) *Terminator {
	return &Terminator{w: w, Tx: tx}
}

// Write sends b with the Tx terminator appended
func (t *Terminator) Write(b []byte) (int, error) {
	b2 := make([]byte, len(b)+1)
	copy(b2, b)
	b2[len(b)] = t.Tx
	n, err := t.w.Write(b2)
	if n == len(b2) {
		n-- // do not count the terminator against the caller
	}
	return n, err
}

// ReadUntil accumulates reads from r until the terminator is seen,
// returning everything before it.  It is used for replies that can be
// longer than one frame, e.g. a full sweep buffer.
func ReadUntil(r io.Reader, term byte) ([]byte, error) {
	var out []byte
	for {
		buf := make([]byte, frameSize)
		n, err := r.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if idx := bytes.IndexByte(out, term); idx != -1 {
			return out[:idx], nil
		}
		if err != nil {
			if err == io.EOF && len(out) > 0 {
				return out, ErrTerminatorNotFound
			}
			return out, err
		}
	}
}

// deadliner is the piece of net.Conn needed to enforce timeouts
type deadliner interface {
	SetDeadline(time.Time) error
}

// timeoutRW pushes the deadline forward before each read or write
type timeoutRW struct {
	rw io.ReadWriter
	d  deadliner
	t  time.Duration
}

func (trw *timeoutRW) Read(b []byte) (int, error) {
	trw.d.SetDeadline(time.Now().Add(trw.t))
	return trw.rw.Read(b)
}

func (trw *timeoutRW) Write(b []byte) (int, error) {
	trw.d.SetDeadline(time.Now().Add(trw.t))
	return trw.rw.Write(b)
}

// NewTimeout wraps rw so that each read or write carries a fresh deadline
// of duration t.  An error is returned if rw cannot carry deadlines.
func NewTimeout(rw io.ReadWriter, t time.Duration) (io.ReadWriter, error) {
	d, ok := rw.(deadliner)
	if !ok {
		return nil, ErrNotDeadliner
	}
	return &timeoutRW{rw: rw, d: d, t: t}, nil
}
