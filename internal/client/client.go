// Package client is the HomeLink client facade: one synchronous control
// connection plus an optional asynchronous notification channel.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/danmuck/homelink/internal/keystore"
	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/protocol/session"
	"github.com/danmuck/homelink/internal/security"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dialer opens the control stream. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Options struct {
	// Address is host:port of the control channel.
	Address   string
	HostID    string
	ServiceID string
	Session   session.Config

	HostSecret keystore.Source
	// Dialer defaults to a net.Dialer bounded by Session.ConnectTimeout.
	Dialer Dialer
	// Async handles the notification channel. Nil disables the async hooks.
	Async AsyncChannel
	// Provider defaults to security.Standard.
	Provider security.Provider
}

type Client struct {
	id     string
	opts   Options
	keys   security.Keypair
	sess   *session.Session
	conn   net.Conn
	logger zerolog.Logger

	asyncStarted bool
	closed       bool
}

// New validates opts and generates the client keypair.
func New(opts Options) (*Client, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("%w: missing server address", protocol.ErrValidation)
	}
	if opts.HostSecret == nil {
		return nil, fmt.Errorf("%w: missing host secret source", protocol.ErrValidation)
	}
	if err := protocol.ValidateIdentifier("host id", opts.HostID); err != nil {
		return nil, err
	}
	if err := protocol.ValidateIdentifier("service id", opts.ServiceID); err != nil {
		return nil, err
	}
	suite := security.NewSuite(opts.Provider)
	keys, err := suite.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	sess, err := session.New(opts.Session, suite, keys, opts.HostID, opts.ServiceID, opts.HostSecret)
	if err != nil {
		return nil, err
	}
	opts.Session = sess.Config()
	if opts.Dialer == nil {
		opts.Dialer = &net.Dialer{Timeout: opts.Session.ConnectTimeout}
	}
	id := uuid.NewString()
	return &Client{
		id:     id,
		opts:   opts,
		keys:   keys,
		sess:   sess,
		logger: log.With().Str("client_id", id).Str("host_id", opts.HostID).Logger(),
	}, nil
}

func (c *Client) ID() string { return c.id }

// PublicKeyPEM is the client key sent in every handshake.
func (c *Client) PublicKeyPEM() string { return c.keys.PublicPEM }

func (c *Client) State() session.State { return c.sess.State() }

func (c *Client) Context() session.Snapshot { return c.sess.Snapshot() }

// Session exposes the state machine for read-only inspection.
func (c *Client) Session() *session.Session { return c.sess }

// Connect dials the control channel and runs the handshake. On any failure
// the new socket is closed and the client stays in Init, so Connect may be
// called again.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed {
		return fmt.Errorf("%w: client closed", protocol.ErrState)
	}
	if c.sess.State() != session.StateInit {
		return fmt.Errorf("%w: connect in state %s", session.ErrWrongState, c.sess.State())
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.Session.ConnectTimeout)
	defer cancel()
	conn, err := c.opts.Dialer.DialContext(dialCtx, "tcp", c.opts.Address)
	if err != nil {
		c.logger.Warn().Err(err).Str("address", c.opts.Address).Msg("client: dial failed")
		return fmt.Errorf("%w: dial %s: %w", protocol.ErrTransport, c.opts.Address, err)
	}
	if err := c.sess.Handshake(conn); err != nil {
		_ = conn.Close()
		return err
	}
	c.conn = conn
	c.logger.Info().Str("address", c.opts.Address).Msg("client: connected")
	return nil
}

func (c *Client) RegisterHost() (protocol.RegisterStatus, error) {
	return c.sess.RegisterHost()
}

func (c *Client) RegisterService(serviceID, password string) (protocol.RegisterStatus, error) {
	return c.sess.RegisterService(serviceID, password)
}

func (c *Client) Login(password string) (protocol.LoginStatus, error) {
	return c.sess.Login(password)
}

func (c *Client) Command(text string) error {
	return c.sess.Command(text)
}

func (c *Client) Logout() error {
	return c.sess.Logout()
}

// BeginAsyncListener starts the notification channel for directory.
func (c *Client) BeginAsyncListener(ctx context.Context, directory string, handler NotificationHandler) error {
	if c.opts.Async == nil {
		return ErrAsyncUnavailable
	}
	if c.closed {
		return fmt.Errorf("%w: client closed", protocol.ErrState)
	}
	if c.asyncStarted {
		return fmt.Errorf("%w: async listener already started", protocol.ErrState)
	}
	if err := c.opts.Async.Begin(ctx, directory, handler); err != nil {
		return err
	}
	c.asyncStarted = true
	return nil
}

func (c *Client) WaitAsync() error {
	if c.opts.Async == nil {
		return ErrAsyncUnavailable
	}
	return c.opts.Async.Wait()
}

func (c *Client) StopAsync() error {
	if c.opts.Async == nil {
		return ErrAsyncUnavailable
	}
	return c.opts.Async.Stop()
}

// Close releases the async channel and then the control socket, each once.
// It never fails; release errors are logged.
func (c *Client) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	if c.opts.Async != nil && c.asyncStarted {
		if err := c.opts.Async.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
		c.conn = nil
	}
	c.sess.Close()
	c.logger.Debug().Msg("client: closed")
	if err := errors.Join(errs...); err != nil {
		c.logger.Warn().Err(err).Msg("client: close")
	}
	return nil
}
