// Package security composes RSA-OAEP, AES-GCM and SHA-256 primitives into the
// handshake, credential, session-key, command and logout payloads.
package security

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/danmuck/homelink/internal/protocol"
)

// Provider is the primitive layer the Suite is built on.
type Provider interface {
	GenerateRSAKey(bits int) (*rsa.PrivateKey, error)
	EncryptRSA(pub *rsa.PublicKey, msg []byte) ([]byte, error)
	DecryptRSA(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error)
	// RSACapacity is the largest plaintext EncryptRSA accepts for pub.
	RSACapacity(pub *rsa.PublicKey) int
	// SealAESGCM encrypts under key with a NonceSize nonce and returns the
	// ciphertext and the TagSize tag separately.
	SealAESGCM(key, nonce, plaintext []byte) (ciphertext, tag []byte, err error)
	OpenAESGCM(key, nonce, ciphertext, tag []byte) ([]byte, error)
	SHA256Hex(data []byte) string
	Random(n int) ([]byte, error)
}

type standard struct {
	hash crypto.Hash
	rand io.Reader
}

// Standard returns the Go crypto provider with SHA-1 OAEP, which is what the
// HomeLink server decrypts with.
func Standard() Provider {
	return standard{hash: crypto.SHA1, rand: rand.Reader}
}

// NewProvider returns the Go crypto provider using hash for OAEP. Only SHA-1
// and SHA-256 are accepted.
func NewProvider(hash crypto.Hash) (Provider, error) {
	switch hash {
	case crypto.SHA1, crypto.SHA256:
		return standard{hash: hash, rand: rand.Reader}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported oaep hash %s", protocol.ErrValidation, hash)
	}
}

func (s standard) GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(s.rand, bits)
	if err != nil {
		return nil, fmt.Errorf("%w: generate rsa key: %w", protocol.ErrCrypto, err)
	}
	return key, nil
}

func (s standard) EncryptRSA(pub *rsa.PublicKey, msg []byte) ([]byte, error) {
	if len(msg) > s.RSACapacity(pub) {
		return nil, fmt.Errorf("%w: %d bytes, capacity %d", ErrPayloadTooLarge, len(msg), s.RSACapacity(pub))
	}
	out, err := rsa.EncryptOAEP(s.hash.New(), s.rand, pub, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: rsa encrypt: %w", protocol.ErrCrypto, err)
	}
	return out, nil
}

func (s standard) DecryptRSA(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(s.hash.New(), s.rand, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRSADecrypt, err)
	}
	return out, nil
}

func (s standard) RSACapacity(pub *rsa.PublicKey) int {
	return pub.Size() - 2*s.hash.Size() - 2
}

func (s standard) gcm(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, protocol.NonceSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return gcm, nil
}

func (s standard) SealAESGCM(key, nonce, plaintext []byte) ([]byte, []byte, error) {
	gcm, err := s.gcm(key)
	if err != nil {
		return nil, nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, nil, fmt.Errorf("%w: nonce is %d bytes", ErrInvalidKey, len(nonce))
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - gcm.Overhead()
	return sealed[:split], sealed[split:], nil
}

func (s standard) OpenAESGCM(key, nonce, ciphertext, tag []byte) ([]byte, error) {
	gcm, err := s.gcm(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() || len(tag) != gcm.Overhead() {
		return nil, ErrAuthentication
	}
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	out, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return out, nil
}

func (standard) SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s standard) Random(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return nil, fmt.Errorf("%w: random source: %w", protocol.ErrCrypto, err)
	}
	return buf, nil
}
