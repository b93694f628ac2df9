/*Package comm provides connection management for remote lab hardware.

Most devices in this repository speak a line-oriented ASCII protocol over
TCP or RS232.  The pieces here are composable:

 1. a CreationFunc opens a connection (with retry/backoff)
 2. a Pool owns one or more connections and leases them out
 3. Terminator wraps a leased connection with Tx/Rx framing bytes
 4. Timeout puts a deadline on the exchange, when the underlying
    connection supports deadlines

A typical driver holds a Pool and wraps each leased connection per
transaction, so connections are shared safely between HTTP requests.
*/
package comm

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNotConnected is generated when an exchange is attempted on a nil connection
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

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

func expBackoff() *backoff.ExponentialBackOff {
	// some devices (embedded TCP stacks especially) do not like being
	// connection thrashed, so reconnects are spaced out
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr with
// exponential backoff, up to ~3 seconds of cumulative waiting
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, expBackoff())
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// BackingOffSerialConnMaker returns a CreationFunc that opens the serial
// port described by conf with exponential backoff
func BackingOffSerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var port *serial.Port
		op := func() error {
			var err error
			port, err = serial.OpenPort(conf)
			return err
		}
		err := backoff.Retry(op, expBackoff())
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// Terminator wraps a ReadWriter with messaging termination bytes.
// Writes have the Tx terminator appended, reads consume up to and strip
// the Rx terminator.
type Terminator struct {
	rw io.ReadWriter

	// Rx is the byte ending messages from the remote
	Rx byte

	// Tx is the byte ending messages to the remote
	Tx byte
}

// NewTerminator wraps rw with rx/tx framing
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, Rx: rx, Tx: tx}
}

// Write sends b followed by the Tx terminator in a single write to the remote
func (t *Terminator) Write(b []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	buf := make([]byte, len(b)+1)
	copy(buf, b)
	buf[len(b)] = t.Tx
	n, err := t.rw.Write(buf)
	if n > len(b) {
		n = len(b) // do not report the terminator to the caller
	}
	return n, err
}

// Read fills b up to the Rx terminator, which is consumed but not copied.
// If b fills before the terminator is seen the read simply ends; use a
// buffer larger than the longest reply.
func (t *Terminator) Read(b []byte) (int, error) {
	if t.rw == nil {
		return 0, ErrNotConnected
	}
	n := 0
	single := make([]byte, 1)
	for n < len(b) {
		_, err := io.ReadFull(t.rw, single)
		if err != nil {
			return n, err
		}
		if single[0] == t.Rx {
			return n, nil
		}
		b[n] = single[0]
		n++
	}
	return n, nil
}

// deadliner is the part of net.Conn used to bound an exchange in time
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// SetReadDeadline forwards to the underlying connection if it supports
// deadlines, and is a no-op for those (serial ports) that do not
func (t *Terminator) SetReadDeadline(tt time.Time) error {
	if d, ok := t.rw.(deadliner); ok {
		return d.SetReadDeadline(tt)
	}
	return nil
}

// SetWriteDeadline forwards to the underlying connection if it supports deadlines
func (t *Terminator) SetWriteDeadline(tt time.Time) error {
	if d, ok := t.rw.(deadliner); ok {
		return d.SetWriteDeadline(tt)
	}
	return nil
}

// NewTimeout applies a deadline d from now to both directions of rw, if
// rw knows how to do that.  Wrappers from this package forward deadlines
// to the connection they hold.
func NewTimeout(rw io.ReadWriter, d time.Duration) (io.ReadWriter, error) {
	if dl, ok := rw.(deadliner); ok {
		deadline := time.Now().Add(d)
		if err := dl.SetReadDeadline(deadline); err != nil {
			return rw, err
		}
		if err := dl.SetWriteDeadline(deadline); err != nil {
			return rw, err
		}
	}
	return rw, nil
}
