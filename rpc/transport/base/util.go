package base

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/artic/rpc/transport"
	"io"
	"net"
	"os"
	"time"
)

// ErrTimeout is returned when a bounded read or write did not complete in time
var ErrTimeout = errors.New("i/o timeout")

// ReadExact reads exactly len(buf) bytes from the connection.
// With a zero timeout it waits until the data arrives or the connection fails,
// otherwise it gives up with ErrTimeout once the timeout is exceeded.
// Every partial read is reported to traffic (may be nil).
func ReadExact(conn net.Conn, buf []byte, timeout time.Duration, traffic transport.TrafficFunc) error {
	if err := conn.SetReadDeadline(deadline(timeout)); err != nil {
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		if n > 0 {
			read += n
			if traffic != nil {
				traffic(n)
			}
		}
		if err != nil && read < len(buf) {
			if isTimeout(err) {
				return fmt.Errorf("%w: read %d of %d bytes", ErrTimeout, read, len(buf))
			}
			return err
		}
	}
	return nil
}

// WriteExact writes all of buf to the connection with the same timeout semantics as ReadExact
func WriteExact(conn net.Conn, buf []byte, timeout time.Duration, traffic transport.TrafficFunc) error {
	if err := conn.SetWriteDeadline(deadline(timeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}

	written := 0
	for written < len(buf) {
		n, err := conn.Write(buf[written:])
		if n > 0 {
			written += n
			if traffic != nil {
				traffic(n)
			}
		}
		if err != nil && written < len(buf) {
			if isTimeout(err) {
				return fmt.Errorf("%w: wrote %d of %d bytes", ErrTimeout, written, len(buf))
			}
			return err
		}
	}
	return nil
}

// IsClosed reports whether err means the connection is gone for good
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.ErrClosedPipe)
}

// deadline converts a timeout to a deadline, zero means none
func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}

// isTimeout checks for deadline errors of the net package
func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
