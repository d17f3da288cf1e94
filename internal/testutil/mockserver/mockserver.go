// Package mockserver runs the server half of the HomeLink protocol in-process
// for tests.
package mockserver

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/security"
	"github.com/danmuck/homelink/internal/transport"
	"github.com/rs/zerolog/log"
)

const DefaultSessionToken = "tok-123"

type Options struct {
	RejectHandshake bool
	// CorruptHandshakeKey wraps a 16-byte AES key instead of 32.
	CorruptHandshakeKey bool
	// CorruptSessionKey flips one ciphertext bit of the wrapped session key.
	CorruptSessionKey bool
	// ServerPEM overrides the public key sent in the handshake.
	ServerPEM string
	// LoginStatus and RegisterStatus override the reply status when set.
	LoginStatus    *protocol.LoginStatus
	RegisterStatus *protocol.RegisterStatus
	SessionToken   string
	// Notifications are written to every connection on the data listener.
	Notifications []protocol.AsyncNotification
	// HangAfterRequest reads one request and never answers it.
	HangAfterRequest bool
}

// Server records every packet it decodes.
type Server struct {
	opts  Options
	suite security.Suite
	keys  security.Keypair
	aes   []byte

	control net.Listener
	data    net.Listener
	wg      sync.WaitGroup
	closed  atomic.Bool

	mu       sync.Mutex
	conns    []net.Conn
	received []protocol.Packet
	commands []string
	tokens   []string
	secrets  []string
	digests  []string
	dataSeen int
}

var (
	keysOnce sync.Once
	keys     security.Keypair
	keysErr  error
)

func serverKeys(t testing.TB) security.Keypair {
	t.Helper()
	keysOnce.Do(func() {
		keys, keysErr = security.NewSuite(nil).GenerateKeypair()
	})
	if keysErr != nil {
		t.Fatalf("generate server key: %v", keysErr)
	}
	return keys
}

// Start listens on two loopback ports (control and data) and serves until
// the test ends.
func Start(t testing.TB, opts Options) *Server {
	t.Helper()
	if opts.SessionToken == "" {
		opts.SessionToken = DefaultSessionToken
	}
	suite := security.NewSuite(nil)
	aes, err := suite.Provider().Random(protocol.AESKeySize)
	if err != nil {
		t.Fatalf("aes key: %v", err)
	}
	control, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen control: %v", err)
	}
	data, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = control.Close()
		t.Fatalf("listen data: %v", err)
	}
	s := &Server{
		opts:    opts,
		suite:   suite,
		keys:    serverKeys(t),
		aes:     aes,
		control: control,
		data:    data,
	}
	s.wg.Add(2)
	go s.accept(control, s.serveControl)
	go s.accept(data, s.serveData)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string     { return s.control.Addr().String() }
func (s *Server) DataAddr() string { return s.data.Addr().String() }

// AESKey is the key the server hands out in every handshake.
func (s *Server) AESKey() []byte { return append([]byte(nil), s.aes...) }

func (s *Server) PublicKeyPEM() string { return s.keys.PublicPEM }

func (s *Server) Received() []protocol.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Packet(nil), s.received...)
}

// Commands returns decrypted command texts in arrival order.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Tokens returns the session tokens unwrapped from Command packets.
func (s *Server) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// Credentials returns the host secrets and password digests decrypted from
// login and register requests.
func (s *Server) Credentials() (secrets, digests []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.secrets...), append([]string(nil), s.digests...)
}

func (s *Server) DataConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataSeen
}

func (s *Server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	_ = s.control.Close()
	_ = s.data.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) accept(ln net.Listener, serve func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			serve(conn)
		}()
	}
}

func (s *Server) serveData(conn net.Conn) {
	s.mu.Lock()
	s.dataSeen++
	s.mu.Unlock()
	rt := transport.New(0, 0)
	for _, n := range s.opts.Notifications {
		if err := rt.SendPacket(conn, n); err != nil {
			return
		}
	}
	// Hold the channel open until the client hangs up.
	_, _ = rt.Receive(conn, 1)
}

func (s *Server) serveControl(conn net.Conn) {
	rt := transport.New(0, 0)
	for {
		p, err := readPacket(rt, conn)
		if err != nil {
			if !errors.Is(err, transport.ErrPeerClosed) && !s.closed.Load() {
				log.Debug().Err(err).Msg("mockserver: read failed")
			}
			return
		}
		s.mu.Lock()
		s.received = append(s.received, p)
		s.mu.Unlock()
		if s.opts.HangAfterRequest {
			continue
		}

		var reply protocol.Packet
		switch req := p.(type) {
		case protocol.ConnectionRequest:
			reply = s.handshake(req)
		case protocol.RegisterRequest:
			s.recordCredentials(req.Data)
			status := protocol.RegisterSuccess
			if s.opts.RegisterStatus != nil {
				status = *s.opts.RegisterStatus
			}
			reply = protocol.RegisterResponse{Status: status}
		case protocol.LoginRequest:
			s.recordCredentials(req.Data)
			reply = s.login()
		case protocol.Command:
			s.recordCommand(req)
		case protocol.Logout:
		}
		if reply == nil {
			continue
		}
		if err := rt.SendPacket(conn, reply); err != nil {
			return
		}
	}
}

func readPacket(rt transport.Reliable, conn net.Conn) (protocol.Packet, error) {
	tag, err := rt.Receive(conn, 1)
	if err != nil {
		return nil, err
	}
	typ := protocol.PacketType(tag[0])
	size, ok := protocol.Size(typ)
	if !ok {
		return nil, protocol.ErrUnknownType
	}
	rest, err := rt.Receive(conn, size-1)
	if err != nil {
		return nil, err
	}
	return protocol.Decode(append(tag, rest...), typ)
}

func (s *Server) handshake(req protocol.ConnectionRequest) protocol.Packet {
	if s.opts.RejectHandshake {
		return protocol.ConnectionResponse{Success: false}
	}
	pub, err := security.ParsePublicKeyPEM(req.PublicKey)
	if err != nil {
		log.Debug().Err(err).Msg("mockserver: bad client key")
		return protocol.ConnectionResponse{Success: false}
	}
	key := s.aes
	if s.opts.CorruptHandshakeKey {
		key = key[:16]
	}
	wrapped, err := s.suite.Provider().EncryptRSA(pub, key)
	if err != nil {
		return protocol.ConnectionResponse{Success: false}
	}
	resp := protocol.ConnectionResponse{Success: true, PublicKey: s.keys.PublicPEM}
	if s.opts.ServerPEM != "" {
		resp.PublicKey = s.opts.ServerPEM
	}
	copy(resp.AESKey[:], wrapped)
	return resp
}

func (s *Server) login() protocol.Packet {
	status := protocol.LoginSuccess
	if s.opts.LoginStatus != nil {
		status = *s.opts.LoginStatus
	}
	resp := protocol.LoginResponse{Status: status}
	if status != protocol.LoginSuccess {
		return resp
	}
	wrapped, err := s.suite.WrapSessionKey(s.opts.SessionToken, s.aes)
	if err != nil {
		return protocol.LoginResponse{Status: protocol.LoginFailed}
	}
	if s.opts.CorruptSessionKey {
		wrapped[3] ^= 0x01
	}
	resp.SessionKey = wrapped
	return resp
}

func (s *Server) recordCredentials(data [protocol.DataFieldSize]byte) {
	plain, err := s.suite.Provider().DecryptRSA(s.keys.Private, data[:])
	if err != nil || len(plain) < protocol.RandomPrefixSize+protocol.HostSecretHexSize+1 {
		log.Debug().Err(err).Msg("mockserver: undecryptable credentials")
		return
	}
	off := protocol.RandomPrefixSize
	secret := string(plain[off : off+protocol.HostSecretHexSize])
	off += protocol.HostSecretHexSize + 1
	digest := ""
	if off+protocol.PasswordHashSize <= len(plain) && plain[off] != 0 {
		digest = string(plain[off : off+protocol.PasswordHashSize])
	}
	s.mu.Lock()
	s.secrets = append(s.secrets, secret)
	s.digests = append(s.digests, digest)
	s.mu.Unlock()
}

func (s *Server) recordCommand(req protocol.Command) {
	text, err := s.suite.OpenCommandPayload(req.Data, s.aes)
	if err != nil {
		log.Debug().Err(err).Msg("mockserver: undecryptable command")
		return
	}
	token, err := s.suite.UnwrapSessionKey(req.SessionToken, s.aes)
	if err != nil {
		log.Debug().Err(err).Msg("mockserver: undecryptable token")
		return
	}
	s.mu.Lock()
	s.commands = append(s.commands, text)
	s.tokens = append(s.tokens, token)
	s.mu.Unlock()
}
