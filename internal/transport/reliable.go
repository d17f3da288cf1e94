// Package transport moves whole protocol messages over one blocking byte stream
// with a bounded number of I/O attempts.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/danmuck/homelink/internal/observability"
	"github.com/danmuck/homelink/internal/protocol"
	"github.com/rs/zerolog/log"
)

const DefaultMaxAttempts = 10

var (
	ErrAttemptsExhausted = fmt.Errorf("%w: attempt budget exhausted", protocol.ErrTransport)
	ErrPeerClosed        = fmt.Errorf("%w: peer closed the stream", protocol.ErrTransport)
)

// Stream is the byte stream a Reliable drives. net.Conn satisfies it.
type Stream interface {
	io.Reader
	io.Writer
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// Reliable sends and receives exact byte counts. A timed-out call uses up one
// attempt without aborting; any other I/O error aborts at once. Partial
// results are never returned as success.
type Reliable struct {
	MaxAttempts int
	// AttemptTimeout bounds each call when the stream supports deadlines. Zero blocks.
	AttemptTimeout time.Duration
}

func New(maxAttempts int, attemptTimeout time.Duration) Reliable {
	return Reliable{MaxAttempts: maxAttempts, AttemptTimeout: attemptTimeout}
}

func (r Reliable) attempts() int {
	if r.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return r.MaxAttempts
}

// Send writes all of buf or fails.
func (r Reliable) Send(s Stream, buf []byte) error {
	wd, hasDeadline := s.(writeDeadliner)
	if hasDeadline && r.AttemptTimeout > 0 {
		defer wd.SetWriteDeadline(time.Time{})
	}

	sent, used := 0, 0
	for used < r.attempts() && sent < len(buf) {
		used++
		if hasDeadline && r.AttemptTimeout > 0 {
			_ = wd.SetWriteDeadline(time.Now().Add(r.AttemptTimeout))
		}
		n, err := s.Write(buf[sent:])
		sent += n
		if err == nil {
			continue
		}
		if isTimeout(err) {
			log.Debug().Int("attempt", used).Int("sent", sent).Int("want", len(buf)).Msg("transport.Send timeout")
			continue
		}
		observability.RecordTransfer("send", used, sent, false)
		return fmt.Errorf("%w: write after %d/%d bytes: %w", protocol.ErrTransport, sent, len(buf), err)
	}

	ok := sent == len(buf)
	observability.RecordTransfer("send", used, sent, ok)
	if !ok {
		return fmt.Errorf("%w: sent %d/%d bytes in %d attempts", ErrAttemptsExhausted, sent, len(buf), used)
	}
	return nil
}

// Receive reads exactly n bytes or fails.
func (r Reliable) Receive(s Stream, n int) ([]byte, error) {
	rd, hasDeadline := s.(readDeadliner)
	if hasDeadline && r.AttemptTimeout > 0 {
		defer rd.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, n)
	got, used := 0, 0
	for used < r.attempts() && got < n {
		used++
		if hasDeadline && r.AttemptTimeout > 0 {
			_ = rd.SetReadDeadline(time.Now().Add(r.AttemptTimeout))
		}
		m, err := s.Read(buf[got:])
		got += m
		switch {
		case err == nil && m == 0:
			observability.RecordTransfer("receive", used, got, false)
			return nil, fmt.Errorf("%w: zero-byte read after %d/%d bytes", ErrPeerClosed, got, n)
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			if got == n {
				continue
			}
			observability.RecordTransfer("receive", used, got, false)
			return nil, fmt.Errorf("%w: after %d/%d bytes", ErrPeerClosed, got, n)
		case isTimeout(err):
			log.Debug().Int("attempt", used).Int("received", got).Int("want", n).Msg("transport.Receive timeout")
			continue
		default:
			observability.RecordTransfer("receive", used, got, false)
			return nil, fmt.Errorf("%w: read after %d/%d bytes: %w", protocol.ErrTransport, got, n, err)
		}
	}

	ok := got == n
	observability.RecordTransfer("receive", used, got, ok)
	if !ok {
		return nil, fmt.Errorf("%w: received %d/%d bytes in %d attempts", ErrAttemptsExhausted, got, n, used)
	}
	return buf, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
