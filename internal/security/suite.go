package security

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"unicode/utf8"

	"github.com/danmuck/homelink/internal/protocol"
)

var (
	ErrAuthentication  = fmt.Errorf("%w: message authentication failed", protocol.ErrCrypto)
	ErrRSADecrypt      = fmt.Errorf("%w: rsa decrypt failed", protocol.ErrCrypto)
	ErrPayloadTooLarge = fmt.Errorf("%w: payload exceeds rsa capacity", protocol.ErrCrypto)
	ErrInvalidKey      = fmt.Errorf("%w: invalid key material", protocol.ErrCrypto)

	ErrSessionKeyTooLong = fmt.Errorf("%w: session key too long", protocol.ErrValidation)
	ErrCommandTooLong    = fmt.Errorf("%w: command too long", protocol.ErrValidation)
	ErrBadHostSecret     = fmt.Errorf("%w: host secret must be %d hex characters", protocol.ErrValidation, protocol.HostSecretHexSize)
)

// Keypair is the client's RSA key and its PEM public half as sent on the wire.
type Keypair struct {
	Private   *rsa.PrivateKey
	PublicPEM string
}

// Suite builds every encrypted payload the client sends or receives.
type Suite struct {
	p Provider
}

// NewSuite wraps p. A nil provider selects Standard.
func NewSuite(p Provider) Suite {
	if p == nil {
		p = Standard()
	}
	return Suite{p: p}
}

func (s Suite) Provider() Provider { return s.p }

func (s Suite) GenerateKeypair() (Keypair, error) {
	key, err := s.p.GenerateRSAKey(protocol.RSAKeyBits)
	if err != nil {
		return Keypair{}, err
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return Keypair{}, fmt.Errorf("%w: marshal public key: %w", protocol.ErrCrypto, err)
	}
	pemText := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
	if len(pemText) > protocol.PublicKeyFieldSize {
		return Keypair{}, fmt.Errorf("%w: public key pem is %d bytes", ErrInvalidKey, len(pemText))
	}
	return Keypair{Private: key, PublicPEM: pemText}, nil
}

// ParsePublicKeyPEM accepts a PKIX or PKCS#1 RSA public key of exactly RSAKeyBits.
func ParsePublicKeyPEM(pemText string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("%w: no pem block", ErrInvalidKey)
	}
	var pub *rsa.PublicKey
	switch block.Type {
	case "RSA PUBLIC KEY":
		k, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		pub = k
	default:
		k, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		rk, ok := k.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not rsa", ErrInvalidKey, k)
		}
		pub = rk
	}
	if pub.N.BitLen() != protocol.RSAKeyBits {
		return nil, fmt.Errorf("%w: rsa key is %d bits", ErrInvalidKey, pub.N.BitLen())
	}
	return pub, nil
}

// OpenHandshakeKey recovers the session AES key the server wrapped under kp.
func (s Suite) OpenHandshakeKey(kp Keypair, wrapped []byte) ([]byte, error) {
	key, err := s.p.DecryptRSA(kp.Private, wrapped)
	if err != nil {
		return nil, err
	}
	if len(key) != protocol.AESKeySize {
		return nil, fmt.Errorf("%w: aes key is %d bytes", ErrInvalidKey, len(key))
	}
	return key, nil
}

// WrapSessionKey pads token to SessionKeyPlainSize and seals it under aesKey
// as ciphertext || nonce || tag.
func (s Suite) WrapSessionKey(token string, aesKey []byte) ([protocol.WrappedSessionKeySize]byte, error) {
	var out [protocol.WrappedSessionKeySize]byte
	if len(token) > protocol.SessionKeyContentSize {
		return out, fmt.Errorf("%w: %d bytes, max %d", ErrSessionKeyTooLong, len(token), protocol.SessionKeyContentSize)
	}
	plain := make([]byte, protocol.SessionKeyPlainSize)
	copy(plain, token)
	sealed, err := s.seal(plain, aesKey)
	if err != nil {
		return out, err
	}
	copy(out[:], sealed)
	return out, nil
}

// UnwrapSessionKey opens a wrapped session key. The token ends at the first
// NUL within its SessionKeyContentSize bytes.
func (s Suite) UnwrapSessionKey(wrapped [protocol.WrappedSessionKeySize]byte, aesKey []byte) (string, error) {
	plain, err := s.open(wrapped[:], protocol.SessionKeyPlainSize, aesKey)
	if err != nil {
		return "", err
	}
	content := plain[:protocol.SessionKeyContentSize]
	if i := bytes.IndexByte(content, 0); i >= 0 {
		content = content[:i]
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("%w: session key is not utf-8", protocol.ErrCrypto)
	}
	return string(content), nil
}

// LoginPayload encrypts the host secret and password digest for a login or
// service registration.
func (s Suite) LoginPayload(server *rsa.PublicKey, hostSecret, password string) ([protocol.DataFieldSize]byte, error) {
	return s.credentialPayload(server, hostSecret, s.p.SHA256Hex([]byte(password)))
}

// HostRegistrationPayload is LoginPayload without a password digest.
func (s Suite) HostRegistrationPayload(server *rsa.PublicKey, hostSecret string) ([protocol.DataFieldSize]byte, error) {
	return s.credentialPayload(server, hostSecret, "")
}

// credentialPayload lays out
// random(32) || hostSecret(64) || 0x00 || digest(64) || 0x00 || zeros
// in CredentialPayloadSize bytes and RSA-encrypts it.
func (s Suite) credentialPayload(server *rsa.PublicKey, hostSecret, digest string) ([protocol.DataFieldSize]byte, error) {
	var out [protocol.DataFieldSize]byte
	if len(hostSecret) != protocol.HostSecretHexSize {
		return out, ErrBadHostSecret
	}
	if _, err := hex.DecodeString(hostSecret); err != nil {
		return out, ErrBadHostSecret
	}
	if capacity := s.p.RSACapacity(server); protocol.CredentialPayloadSize > capacity {
		return out, fmt.Errorf("%w: credential payload %d bytes, capacity %d", ErrPayloadTooLarge, protocol.CredentialPayloadSize, capacity)
	}
	prefix, err := s.p.Random(protocol.RandomPrefixSize)
	if err != nil {
		return out, err
	}
	plain := make([]byte, 0, protocol.CredentialPayloadSize)
	plain = append(plain, prefix...)
	plain = append(plain, hostSecret...)
	plain = append(plain, 0)
	plain = append(plain, digest...)
	plain = append(plain, 0)
	plain = plain[:protocol.CredentialPayloadSize]

	return s.rsaField(server, plain)
}

// CommandPayload seals random(32) || cmd || zeros under aesKey.
func (s Suite) CommandPayload(cmd string, aesKey []byte) ([protocol.DataFieldSize]byte, error) {
	var out [protocol.DataFieldSize]byte
	if len(cmd) > protocol.MaxCommandLen {
		return out, fmt.Errorf("%w: %d bytes, max %d", ErrCommandTooLong, len(cmd), protocol.MaxCommandLen)
	}
	prefix, err := s.p.Random(protocol.RandomPrefixSize)
	if err != nil {
		return out, err
	}
	plain := make([]byte, protocol.CommandContentSize)
	copy(plain, prefix)
	copy(plain[protocol.RandomPrefixSize:], cmd)
	sealed, err := s.seal(plain, aesKey)
	if err != nil {
		return out, err
	}
	copy(out[:], sealed)
	return out, nil
}

// OpenCommandPayload reverses CommandPayload. The mock server uses it.
func (s Suite) OpenCommandPayload(data [protocol.DataFieldSize]byte, aesKey []byte) (string, error) {
	plain, err := s.open(data[:], protocol.CommandContentSize, aesKey)
	if err != nil {
		return "", err
	}
	body := plain[protocol.RandomPrefixSize:]
	if i := bytes.IndexByte(body, 0); i >= 0 {
		body = body[:i]
	}
	return string(body), nil
}

// LogoutProof encrypts the raw session AES key under the server key.
func (s Suite) LogoutProof(server *rsa.PublicKey, aesKey []byte) ([protocol.DataFieldSize]byte, error) {
	if len(aesKey) != protocol.AESKeySize {
		var out [protocol.DataFieldSize]byte
		return out, fmt.Errorf("%w: aes key is %d bytes", ErrInvalidKey, len(aesKey))
	}
	return s.rsaField(server, aesKey)
}

// ConnectionID draws a fresh random connection id.
func (s Suite) ConnectionID() (uint32, error) {
	b, err := s.p.Random(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (s Suite) rsaField(server *rsa.PublicKey, plain []byte) ([protocol.DataFieldSize]byte, error) {
	var out [protocol.DataFieldSize]byte
	ct, err := s.p.EncryptRSA(server, plain)
	if err != nil {
		return out, err
	}
	if len(ct) != protocol.RSACiphertextSize {
		return out, fmt.Errorf("%w: rsa ciphertext is %d bytes", ErrInvalidKey, len(ct))
	}
	copy(out[:], ct)
	return out, nil
}

func (s Suite) seal(plain, aesKey []byte) ([]byte, error) {
	if len(aesKey) != protocol.AESKeySize {
		return nil, fmt.Errorf("%w: aes key is %d bytes", ErrInvalidKey, len(aesKey))
	}
	nonce, err := s.p.Random(protocol.NonceSize)
	if err != nil {
		return nil, err
	}
	ct, tag, err := s.p.SealAESGCM(aesKey, nonce, plain)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(ct)+protocol.NonceSize+protocol.TagSize)
	out = append(out, ct...)
	out = append(out, nonce...)
	return append(out, tag...), nil
}

func (s Suite) open(sealed []byte, plainSize int, aesKey []byte) ([]byte, error) {
	if len(aesKey) != protocol.AESKeySize {
		return nil, fmt.Errorf("%w: aes key is %d bytes", ErrInvalidKey, len(aesKey))
	}
	if len(sealed) != plainSize+protocol.NonceSize+protocol.TagSize {
		return nil, ErrAuthentication
	}
	ct := sealed[:plainSize]
	nonce := sealed[plainSize : plainSize+protocol.NonceSize]
	tag := sealed[plainSize+protocol.NonceSize:]
	return s.p.OpenAESGCM(aesKey, nonce, ct, tag)
}
