package transport

import (
	"bytes"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/testutil/testlog"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// chunkStream moves at most max bytes per call.
type chunkStream struct {
	max   int
	src   []byte
	dst   bytes.Buffer
	calls int
}

func (c *chunkStream) Read(p []byte) (int, error) {
	c.calls++
	if len(c.src) == 0 {
		return 0, io.EOF
	}
	n := min(c.max, len(p), len(c.src))
	copy(p, c.src[:n])
	c.src = c.src[n:]
	return n, nil
}

func (c *chunkStream) Write(p []byte) (int, error) {
	c.calls++
	n := min(c.max, len(p))
	c.dst.Write(p[:n])
	if n < len(p) {
		return n, timeoutError{}
	}
	return n, nil
}

// stallStream never makes progress.
type stallStream struct {
	calls int
	err   error
}

func (s *stallStream) Read(p []byte) (int, error) {
	s.calls++
	return 0, s.err
}

func (s *stallStream) Write(p []byte) (int, error) {
	s.calls++
	return 0, s.err
}

func TestSendCompletesAcrossPartialWrites(t *testing.T) {
	testlog.Start(t)
	buf := bytes.Repeat([]byte{0xab}, 224)
	s := &chunkStream{max: 32}
	if err := New(10, 0).Send(s, buf); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !bytes.Equal(s.dst.Bytes(), buf) {
		t.Fatalf("stream got %d bytes, want %d", s.dst.Len(), len(buf))
	}
	if s.calls != 7 {
		t.Fatalf("calls=%d want 7", s.calls)
	}
}

func TestSendFailsWhenProgressTooSlow(t *testing.T) {
	testlog.Start(t)
	s := &chunkStream{max: 1}
	err := New(10, 0).Send(s, make([]byte, 224))
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected ErrTransport root, got %v", err)
	}
	if s.calls != 10 {
		t.Fatalf("calls=%d want 10", s.calls)
	}
}

func TestSendStallsFailDeterministically(t *testing.T) {
	testlog.Start(t)
	s := &stallStream{err: timeoutError{}}
	err := New(10, 0).Send(s, []byte("hello"))
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if s.calls != 10 {
		t.Fatalf("calls=%d want 10", s.calls)
	}
}

func TestSendHardErrorAbortsImmediately(t *testing.T) {
	testlog.Start(t)
	s := &stallStream{err: syscall.ECONNRESET}
	err := New(10, 0).Send(s, []byte("hello"))
	if !errors.Is(err, protocol.ErrTransport) || !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("expected wrapped ECONNRESET, got %v", err)
	}
	if errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("hard error reported as exhaustion: %v", err)
	}
	if s.calls != 1 {
		t.Fatalf("calls=%d want 1", s.calls)
	}
}

func TestReceiveAccumulatesPartialReads(t *testing.T) {
	testlog.Start(t)
	want := bytes.Repeat([]byte{1, 2, 3, 4}, 20)
	s := &chunkStream{max: 9, src: append([]byte(nil), want...)}
	got, err := New(10, 0).Receive(s, len(want))
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload mismatch")
	}
}

func TestReceivePeerClosedIsHardFailure(t *testing.T) {
	testlog.Start(t)
	s := &chunkStream{max: 4, src: []byte("abc")}
	got, err := New(10, 0).Receive(s, 8)
	if !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}
	if got != nil {
		t.Fatalf("partial buffer returned: %q", got)
	}
	if s.calls != 2 {
		t.Fatalf("calls=%d want 2", s.calls)
	}
}

func TestReceiveZeroByteReadIsPeerClosure(t *testing.T) {
	testlog.Start(t)
	s := &stallStream{}
	if _, err := New(10, 0).Receive(s, 4); !errors.Is(err, ErrPeerClosed) {
		t.Fatalf("expected ErrPeerClosed, got %v", err)
	}
	if s.calls != 1 {
		t.Fatalf("calls=%d want 1", s.calls)
	}
}

func TestReceiveTimeoutsOnRealConnExhaustBudget(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	start := time.Now()
	_, err := New(3, 20*time.Millisecond).Receive(client, 16)
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("receive did not fail promptly: %v", elapsed)
	}
}

func TestReceiveAfterCloseIsHardFailure(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	_ = server.Close()
	defer client.Close()
	if _, err := New(10, 50*time.Millisecond).Receive(client, 4); !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestPacketHelpersRoundTrip(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	r := New(10, time.Second)
	errc := make(chan error, 1)
	go func() {
		errc <- r.SendPacket(server, protocol.RegisterResponse{Status: protocol.RegisterAlreadyExists})
	}()
	got, err := ReceivePacket[protocol.RegisterResponse](r, client)
	if err != nil {
		t.Fatalf("receive packet: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatalf("send packet: %v", err)
	}
	if got.Status != protocol.RegisterAlreadyExists {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestReceivePacketRejectsWrongTag(t *testing.T) {
	testlog.Start(t)
	s := &chunkStream{max: 64, src: []byte{byte(protocol.TypeRegisterResponse), 1}}
	_, err := ReceivePacket[protocol.RegisterResponse](New(10, 0), s)
	if err != nil {
		t.Fatalf("matching tag rejected: %v", err)
	}
	s = &chunkStream{max: 64, src: []byte{byte(protocol.TypeAck), 1}}
	if _, err := ReceivePacket[protocol.RegisterResponse](New(10, 0), s); !errors.Is(err, protocol.ErrUnexpectedType) {
		t.Fatalf("expected ErrUnexpectedType, got %v", err)
	}
}
