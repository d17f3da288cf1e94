package session

import (
	"bytes"
	"crypto/rsa"
	"fmt"

	"github.com/danmuck/homelink/internal/keystore"
	"github.com/danmuck/homelink/internal/observability"
	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/security"
	"github.com/danmuck/homelink/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	ErrHandshakeRejected = fmt.Errorf("%w: server rejected handshake", protocol.ErrProtocol)
	ErrWrongState        = fmt.Errorf("%w: operation not allowed in current state", protocol.ErrState)
)

// Session holds the connection context for one synchronous stream.
// It is not safe for concurrent use.
type Session struct {
	cfg   Config
	io    transport.Reliable
	suite security.Suite
	keys  security.Keypair

	hostID    string
	serviceID string
	secrets   keystore.Source

	stream       transport.Stream
	state        State
	connectionID uint32
	serverPEM    string
	serverKey    *rsa.PublicKey
	aesKey       []byte
	sessionKey   string
}

// New validates identifiers and returns a Session in StateInit. keys is the
// client keypair, generated once per client.
func New(cfg Config, suite security.Suite, keys security.Keypair, hostID, serviceID string, secrets keystore.Source) (*Session, error) {
	if err := protocol.ValidateIdentifier("host id", hostID); err != nil {
		return nil, err
	}
	if err := protocol.ValidateIdentifier("service id", serviceID); err != nil {
		return nil, err
	}
	if keys.Private == nil {
		return nil, fmt.Errorf("%w: missing client keypair", protocol.ErrValidation)
	}
	cfg = cfg.withDefaults()
	return &Session{
		cfg:       cfg,
		io:        cfg.transport(),
		suite:     suite,
		keys:      keys,
		hostID:    hostID,
		serviceID: serviceID,
		secrets:   secrets,
		state:     StateInit,
	}, nil
}

func (s *Session) Config() Config { return s.cfg }

func (s *Session) State() State { return s.state }

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		State:         s.state,
		ConnectionID:  s.connectionID,
		HostID:        s.hostID,
		ServiceID:     s.serviceID,
		HasServerKey:  s.serverKey != nil,
		HasAESKey:     len(s.aesKey) > 0,
		HasSessionKey: s.sessionKey != "",
	}
}

// AESKey returns a copy of the handshake AES key, or nil before Connected.
func (s *Session) AESKey() []byte {
	return bytes.Clone(s.aesKey)
}

// SessionKey returns the token granted at login.
func (s *Session) SessionKey() string { return s.sessionKey }

// ServerPublicKeyPEM returns the PEM text received during the handshake.
func (s *Session) ServerPublicKeyPEM() string { return s.serverPEM }

func (s *Session) require(op string, allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	observability.RecordOperation(op, "state")
	return fmt.Errorf("%w: %s in state %s", ErrWrongState, op, s.state)
}

// Handshake exchanges public keys over stream and recovers the AES key. On
// failure the session stays in StateInit and the caller owns stream cleanup.
func (s *Session) Handshake(stream transport.Stream) (err error) {
	const op = "handshake"
	if err := s.require(op, StateInit); err != nil {
		return err
	}
	defer func() { s.finish(op, err) }()

	connID, err := s.suite.ConnectionID()
	if err != nil {
		return err
	}
	req := protocol.ConnectionRequest{ConnectionID: connID, PublicKey: s.keys.PublicPEM}
	if err := s.io.SendPacket(stream, req); err != nil {
		return err
	}
	resp, err := transport.ReceivePacket[protocol.ConnectionResponse](s.io, stream)
	if err != nil {
		return err
	}
	if !resp.Success {
		return ErrHandshakeRejected
	}
	serverKey, err := security.ParsePublicKeyPEM(resp.PublicKey)
	if err != nil {
		return err
	}
	aesKey, err := s.suite.OpenHandshakeKey(s.keys, resp.AESKey[:])
	if err != nil {
		return err
	}

	s.stream = stream
	s.connectionID = connID
	s.serverPEM = resp.PublicKey
	s.serverKey = serverKey
	s.aesKey = aesKey
	s.state = StateConnected
	log.Info().Uint32("conn_id", connID).Str("host_id", s.hostID).Msg("session: connected")
	return nil
}

// RegisterHost registers this host's secret with the server.
func (s *Session) RegisterHost() (status protocol.RegisterStatus, err error) {
	const op = "register_host"
	if err := s.require(op, StateConnected, StateAuthenticated); err != nil {
		return protocol.RegisterFailed, err
	}
	defer func() { s.finishStatus(op, status.String(), err) }()

	secret, err := s.secrets.ReadOrCreateHostSecret()
	if err != nil {
		return protocol.RegisterFailed, err
	}
	data, err := s.suite.HostRegistrationPayload(s.serverKey, secret)
	if err != nil {
		return protocol.RegisterFailed, err
	}
	return s.register(protocol.RegisterRequest{
		Registration: protocol.RegistrationHost,
		HostID:       s.hostID,
		Data:         data,
	})
}

// RegisterService registers serviceID on this host with password. An
// oversized serviceID fails before anything is sent.
func (s *Session) RegisterService(serviceID, password string) (status protocol.RegisterStatus, err error) {
	const op = "register_service"
	if err := protocol.ValidateIdentifier("service id", serviceID); err != nil {
		observability.RecordOperation(op, "validation")
		return protocol.RegisterFailed, err
	}
	if err := s.require(op, StateConnected, StateAuthenticated); err != nil {
		return protocol.RegisterFailed, err
	}
	defer func() { s.finishStatus(op, status.String(), err) }()

	secret, err := s.secrets.ReadOrCreateHostSecret()
	if err != nil {
		return protocol.RegisterFailed, err
	}
	data, err := s.suite.LoginPayload(s.serverKey, secret, password)
	if err != nil {
		return protocol.RegisterFailed, err
	}
	return s.register(protocol.RegisterRequest{
		Registration: protocol.RegistrationService,
		HostID:       s.hostID,
		ServiceID:    serviceID,
		Data:         data,
	})
}

func (s *Session) register(req protocol.RegisterRequest) (protocol.RegisterStatus, error) {
	if err := s.io.SendPacket(s.stream, req); err != nil {
		return protocol.RegisterFailed, err
	}
	resp, err := transport.ReceivePacket[protocol.RegisterResponse](s.io, s.stream)
	if err != nil {
		return protocol.RegisterFailed, err
	}
	switch resp.Status {
	case protocol.RegisterFailed, protocol.RegisterSuccess, protocol.RegisterAlreadyExists:
		return resp.Status, nil
	default:
		log.Warn().Uint8("status", uint8(resp.Status)).Msg("session: unknown register status")
		return protocol.RegisterFailed, nil
	}
}

// Login authenticates the session's service. Only LoginSuccess advances the
// state; a server-reported failure is returned with a nil error.
func (s *Session) Login(password string) (status protocol.LoginStatus, err error) {
	const op = "login"
	if err := s.require(op, StateConnected); err != nil {
		return protocol.LoginFailed, err
	}
	defer func() { s.finishStatus(op, status.String(), err) }()

	secret, err := s.secrets.ReadOrCreateHostSecret()
	if err != nil {
		return protocol.LoginFailed, err
	}
	data, err := s.suite.LoginPayload(s.serverKey, secret, password)
	if err != nil {
		return protocol.LoginFailed, err
	}
	req := protocol.LoginRequest{
		ConnectionID: s.connectionID,
		HostID:       s.hostID,
		ServiceID:    s.serviceID,
		Data:         data,
	}
	if err := s.io.SendPacket(s.stream, req); err != nil {
		return protocol.LoginFailed, err
	}
	resp, err := transport.ReceivePacket[protocol.LoginResponse](s.io, s.stream)
	if err != nil {
		return protocol.LoginFailed, err
	}
	switch resp.Status {
	case protocol.LoginSuccess:
	case protocol.LoginFailed, protocol.LoginNoSuchService:
		return resp.Status, nil
	default:
		log.Warn().Uint8("status", uint8(resp.Status)).Msg("session: unknown login status")
		return protocol.LoginFailed, nil
	}

	token, err := s.suite.UnwrapSessionKey(resp.SessionKey, s.aesKey)
	if err != nil {
		return protocol.LoginFailed, err
	}
	s.sessionKey = token
	s.state = StateAuthenticated
	return protocol.LoginSuccess, nil
}

// Command sends text with a freshly wrapped session token. The reply, if
// any, is not read here.
func (s *Session) Command(text string) (err error) {
	const op = "command"
	if err := s.require(op, StateAuthenticated); err != nil {
		return err
	}
	defer func() { s.finish(op, err) }()

	token, err := s.suite.WrapSessionKey(s.sessionKey, s.aesKey)
	if err != nil {
		return err
	}
	data, err := s.suite.CommandPayload(text, s.aesKey)
	if err != nil {
		return err
	}
	return s.io.SendPacket(s.stream, protocol.Command{
		ConnectionID: s.connectionID,
		SessionToken: token,
		Data:         data,
	})
}

// Logout proves session ownership and moves to StateClosed once the packet
// is sent. The stream stays open; closing it is the caller's job.
func (s *Session) Logout() (err error) {
	const op = "logout"
	if err := s.require(op, StateAuthenticated); err != nil {
		return err
	}
	defer func() { s.finish(op, err) }()

	proof, err := s.suite.LogoutProof(s.serverKey, s.aesKey)
	if err != nil {
		return err
	}
	if err := s.io.SendPacket(s.stream, protocol.Logout{ConnectionID: s.connectionID, Data: proof}); err != nil {
		return err
	}
	s.markClosed()
	return nil
}

// Close marks the session closed and drops key material. It does not touch
// the stream.
func (s *Session) Close() {
	if s.state != StateClosed {
		s.markClosed()
	}
}

func (s *Session) markClosed() {
	s.state = StateClosed
	s.stream = nil
	clear(s.aesKey)
	s.aesKey = nil
	s.sessionKey = ""
}

func (s *Session) finish(op string, err error) {
	result := "ok"
	if err != nil {
		result = protocol.KindOf(err)
	}
	s.finishStatus(op, result, err)
}

func (s *Session) finishStatus(op, result string, err error) {
	if err != nil {
		result = protocol.KindOf(err)
		observability.RecordOperation(op, result)
		log.Warn().Err(err).Str("op", op).Str("kind", result).Uint32("conn_id", s.connectionID).Msg("session: operation failed")
		return
	}
	observability.RecordOperation(op, result)
	log.Debug().Str("op", op).Str("result", result).Uint32("conn_id", s.connectionID).Msg("session: operation done")
}
