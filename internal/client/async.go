package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrAsyncUnavailable = fmt.Errorf("%w: no async channel configured", protocol.ErrState)

// NotificationHandler receives each inbound notification with the directory
// the listener was started for.
type NotificationHandler func(directory string, n protocol.AsyncNotification)

// AsyncChannel is the lifecycle of the secondary channel. It shares only the
// read-only host and service ids with the control session. File transfer
// over this channel is not specified.
type AsyncChannel interface {
	Begin(ctx context.Context, directory string, handler NotificationHandler) error
	// Wait blocks until the channel ends. A requested Stop yields nil.
	Wait() error
	Stop() error
	// Close stops the channel and releases its socket. It is idempotent.
	Close() error
}

// NotificationListener reads AsyncNotification packets from the data port.
type NotificationListener struct {
	Address string
	Dialer  Dialer

	mu       sync.Mutex
	conn     net.Conn
	group    *errgroup.Group
	cancel   context.CancelFunc
	stopping bool
	closed   bool
}

func NewNotificationListener(address string, dialer Dialer) *NotificationListener {
	return &NotificationListener{Address: address, Dialer: dialer}
}

func (l *NotificationListener) Begin(ctx context.Context, directory string, handler NotificationHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil notification handler", protocol.ErrValidation)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.group != nil {
		return fmt.Errorf("%w: listener already used", protocol.ErrState)
	}
	dialer := l.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", l.Address)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %w", protocol.ErrTransport, l.Address, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	l.conn = conn
	l.group = g
	l.cancel = cancel

	g.Go(func() error {
		defer cancel()
		return l.read(conn, directory, handler)
	})
	g.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})
	log.Info().Str("address", l.Address).Str("directory", directory).Msg("client: async listener started")
	return nil
}

func (l *NotificationListener) read(conn net.Conn, directory string, handler NotificationHandler) error {
	rt := transport.New(0, 0)
	for {
		n, err := transport.ReceivePacket[protocol.AsyncNotification](rt, conn)
		if err != nil {
			if l.isStopping() {
				return nil
			}
			return err
		}
		log.Debug().Uint8("event", uint8(n.Event)).Uint32("tag", n.Tag).Msg("client: async notification")
		handler(directory, n)
	}
}

func (l *NotificationListener) isStopping() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopping
}

func (l *NotificationListener) Wait() error {
	l.mu.Lock()
	g := l.group
	l.mu.Unlock()
	if g == nil {
		return fmt.Errorf("%w: async listener not started", protocol.ErrState)
	}
	return g.Wait()
}

// Stop closes the socket, which unblocks the reader.
func (l *NotificationListener) Stop() error {
	l.mu.Lock()
	if l.group == nil {
		l.mu.Unlock()
		return fmt.Errorf("%w: async listener not started", protocol.ErrState)
	}
	l.stopping = true
	cancel := l.cancel
	conn := l.conn
	l.mu.Unlock()

	cancel()
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: close async socket: %w", protocol.ErrTransport, err)
	}
	return nil
}

func (l *NotificationListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	started := l.group != nil
	l.mu.Unlock()
	if !started {
		return nil
	}
	if err := l.Stop(); err != nil {
		return err
	}
	// Run errors belong to Wait; Close only releases.
	_ = l.Wait()
	return nil
}
