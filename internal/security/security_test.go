package security

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/testutil/testlog"
)

var (
	keysOnce   sync.Once
	clientKeys Keypair
	serverKeys Keypair
	keysErr    error
)

func testKeys(t *testing.T) (Keypair, Keypair) {
	t.Helper()
	keysOnce.Do(func() {
		s := NewSuite(nil)
		clientKeys, keysErr = s.GenerateKeypair()
		if keysErr != nil {
			return
		}
		serverKeys, keysErr = s.GenerateKeypair()
	})
	if keysErr != nil {
		t.Fatalf("generate keys: %v", keysErr)
	}
	return clientKeys, serverKeys
}

func testAESKey(t *testing.T) []byte {
	t.Helper()
	key, err := Standard().Random(protocol.AESKeySize)
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	return key
}

const testHostSecret = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func TestRandomHasNoDuplicates(t *testing.T) {
	testlog.Start(t)
	p := Standard()
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		b, err := p.Random(32)
		if err != nil {
			t.Fatalf("random: %v", err)
		}
		if len(b) != 32 {
			t.Fatalf("len=%d want 32", len(b))
		}
		if _, dup := seen[string(b)]; dup {
			t.Fatalf("duplicate random output at draw %d", i)
		}
		seen[string(b)] = struct{}{}
	}
}

func TestGeneratedKeypairIsWireSized(t *testing.T) {
	testlog.Start(t)
	client, _ := testKeys(t)
	if got := client.Private.N.BitLen(); got != protocol.RSAKeyBits {
		t.Fatalf("key bits=%d want %d", got, protocol.RSAKeyBits)
	}
	if len(client.PublicPEM) > protocol.PublicKeyFieldSize {
		t.Fatalf("pem is %d bytes, field holds %d", len(client.PublicPEM), protocol.PublicKeyFieldSize)
	}
	pub, err := ParsePublicKeyPEM(client.PublicPEM)
	if err != nil {
		t.Fatalf("parse own pem: %v", err)
	}
	if pub.N.Cmp(client.Private.N) != 0 {
		t.Fatalf("parsed modulus differs")
	}
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	testlog.Start(t)
	for _, in := range []string{"", "not a key", "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"} {
		if _, err := ParsePublicKeyPEM(in); !errors.Is(err, protocol.ErrCrypto) {
			t.Fatalf("ParsePublicKeyPEM(%q) err=%v, want crypto error", in, err)
		}
	}
}

func TestSessionKeyWrapRoundTrip(t *testing.T) {
	testlog.Start(t)
	s := NewSuite(nil)
	key := testAESKey(t)
	for _, token := range []string{"", "tok-123", strings.Repeat("x", protocol.SessionKeyContentSize), "ключ"} {
		wrapped, err := s.WrapSessionKey(token, key)
		if err != nil {
			t.Fatalf("wrap %q: %v", token, err)
		}
		got, err := s.UnwrapSessionKey(wrapped, key)
		if err != nil {
			t.Fatalf("unwrap %q: %v", token, err)
		}
		if got != token {
			t.Fatalf("unwrap got %q want %q", got, token)
		}
	}
}

func TestSessionKeyWrapUsesFreshNonce(t *testing.T) {
	testlog.Start(t)
	s := NewSuite(nil)
	key := testAESKey(t)
	a, err := s.WrapSessionKey("tok-123", key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	b, err := s.WrapSessionKey("tok-123", key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if a == b {
		t.Fatalf("two wraps produced identical output")
	}
}

func TestSessionKeyTooLong(t *testing.T) {
	testlog.Start(t)
	s := NewSuite(nil)
	_, err := s.WrapSessionKey(strings.Repeat("x", protocol.SessionKeyContentSize+1), testAESKey(t))
	if !errors.Is(err, ErrSessionKeyTooLong) || !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected ErrSessionKeyTooLong, got %v", err)
	}
}

func TestUnwrapDetectsEveryBitFlip(t *testing.T) {
	testlog.Start(t)
	s := NewSuite(nil)
	key := testAESKey(t)
	wrapped, err := s.WrapSessionKey("tok-123", key)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	for i := 0; i < len(wrapped)*8; i++ {
		tampered := wrapped
		tampered[i/8] ^= 1 << (i % 8)
		got, err := s.UnwrapSessionKey(tampered, key)
		if !errors.Is(err, ErrAuthentication) {
			t.Fatalf("bit %d: expected ErrAuthentication, got %q, %v", i, got, err)
		}
		if got != "" {
			t.Fatalf("bit %d: plaintext returned with error", i)
		}
	}
}

func TestUnwrapWithWrongKeyFails(t *testing.T) {
	testlog.Start(t)
	s := NewSuite(nil)
	wrapped, err := s.WrapSessionKey("tok-123", testAESKey(t))
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	if _, err := s.UnwrapSessionKey(wrapped, testAESKey(t)); !errors.Is(err, protocol.ErrCrypto) {
		t.Fatalf("expected crypto error, got %v", err)
	}
}

func TestRSARoundTripAndCapacity(t *testing.T) {
	testlog.Start(t)
	client, _ := testKeys(t)
	pub := &client.Private.PublicKey

	for _, hash := range []crypto.Hash{crypto.SHA1, crypto.SHA256} {
		p, err := NewProvider(hash)
		if err != nil {
			t.Fatalf("provider %s: %v", hash, err)
		}
		capacity := p.RSACapacity(pub)
		msg := bytes.Repeat([]byte{0x5a}, capacity)
		ct, err := p.EncryptRSA(pub, msg)
		if err != nil {
			t.Fatalf("%s encrypt at capacity: %v", hash, err)
		}
		if len(ct) != protocol.RSACiphertextSize {
			t.Fatalf("%s ciphertext=%d bytes", hash, len(ct))
		}
		got, err := p.DecryptRSA(client.Private, ct)
		if err != nil {
			t.Fatalf("%s decrypt: %v", hash, err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("%s round trip mismatch", hash)
		}
		if _, err := p.EncryptRSA(pub, append(msg, 0)); !errors.Is(err, ErrPayloadTooLarge) {
			t.Fatalf("%s over capacity: expected ErrPayloadTooLarge, got %v", hash, err)
		}
	}
}

func TestCapacityMatchesOAEPHash(t *testing.T) {
	testlog.Start(t)
	client, _ := testKeys(t)
	sha256p, _ := NewProvider(crypto.SHA256)
	if got := Standard().RSACapacity(&client.Private.PublicKey); got != 214 {
		t.Fatalf("sha1 capacity=%d want 214", got)
	}
	if got := sha256p.RSACapacity(&client.Private.PublicKey); got != protocol.CredentialPayloadSize {
		t.Fatalf("sha256 capacity=%d want %d", got, protocol.CredentialPayloadSize)
	}
	if _, err := NewProvider(crypto.MD5); !errors.Is(err, protocol.ErrValidation) {
		t.Fatalf("expected validation error for md5, got %v", err)
	}
}

func TestRSADecryptFailureIsCryptoError(t *testing.T) {
	testlog.Start(t)
	client, server := testKeys(t)
	p := Standard()
	ct, err := p.EncryptRSA(&server.Private.PublicKey, []byte("aes"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := p.DecryptRSA(client.Private, ct); !errors.Is(err, ErrRSADecrypt) {
		t.Fatalf("expected ErrRSADecrypt, got %v", err)
	}
}

func TestLoginPayloadLayout(t *testing.T) {
	testlog.Start(t)
	_, server := testKeys(t)
	s := NewSuite(nil)
	data, err := s.LoginPayload(&server.Private.PublicKey, testHostSecret, "hunter2")
	if err != nil {
		t.Fatalf("login payload: %v", err)
	}
	plain, err := s.Provider().DecryptRSA(server.Private, data[:])
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if len(plain) != protocol.CredentialPayloadSize {
		t.Fatalf("plain=%d bytes want %d", len(plain), protocol.CredentialPayloadSize)
	}
	off := protocol.RandomPrefixSize
	if got := string(plain[off : off+protocol.HostSecretHexSize]); got != testHostSecret {
		t.Fatalf("host secret=%q", got)
	}
	off += protocol.HostSecretHexSize
	if plain[off] != 0 {
		t.Fatalf("missing separator after host secret")
	}
	off++
	digest := s.Provider().SHA256Hex([]byte("hunter2"))
	if got := string(plain[off : off+protocol.PasswordHashSize]); got != digest {
		t.Fatalf("digest=%q want %q", got, digest)
	}
	off += protocol.PasswordHashSize
	if !bytes.Equal(plain[off:], make([]byte, len(plain)-off)) {
		t.Fatalf("tail is not zero padded")
	}
}

func TestHostRegistrationPayloadOmitsDigest(t *testing.T) {
	testlog.Start(t)
	_, server := testKeys(t)
	s := NewSuite(nil)
	data, err := s.HostRegistrationPayload(&server.Private.PublicKey, testHostSecret)
	if err != nil {
		t.Fatalf("host payload: %v", err)
	}
	plain, err := s.Provider().DecryptRSA(server.Private, data[:])
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	tail := plain[protocol.RandomPrefixSize+protocol.HostSecretHexSize:]
	if !bytes.Equal(tail, make([]byte, len(tail))) {
		t.Fatalf("host payload tail not zero: %x", tail)
	}
}

func TestCredentialPayloadFitsSHA256(t *testing.T) {
	testlog.Start(t)
	_, server := testKeys(t)
	p, _ := NewProvider(crypto.SHA256)
	s := NewSuite(p)
	data, err := s.LoginPayload(&server.Private.PublicKey, testHostSecret, "pw")
	if err != nil {
		t.Fatalf("sha256 login payload: %v", err)
	}
	if _, err := p.DecryptRSA(server.Private, data[:]); err != nil {
		t.Fatalf("decrypt: %v", err)
	}
}

func TestCredentialPayloadRejectsBadSecret(t *testing.T) {
	testlog.Start(t)
	_, server := testKeys(t)
	s := NewSuite(nil)
	for _, secret := range []string{"", "abc", strings.Repeat("zz", 32)} {
		if _, err := s.LoginPayload(&server.Private.PublicKey, secret, "pw"); !errors.Is(err, ErrBadHostSecret) {
			t.Fatalf("secret %q: expected ErrBadHostSecret, got %v", secret, err)
		}
	}
}

func TestCommandPayloadRoundTrip(t *testing.T) {
	testlog.Start(t)
	s := NewSuite(nil)
	key := testAESKey(t)
	for _, cmd := range []string{"ls -la", strings.Repeat("c", protocol.MaxCommandLen)} {
		data, err := s.CommandPayload(cmd, key)
		if err != nil {
			t.Fatalf("command payload: %v", err)
		}
		got, err := s.OpenCommandPayload(data, key)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if got != cmd {
			t.Fatalf("got %q want %q", got, cmd)
		}
	}
	_, err := s.CommandPayload(strings.Repeat("c", protocol.MaxCommandLen+1), key)
	if !errors.Is(err, ErrCommandTooLong) {
		t.Fatalf("expected ErrCommandTooLong, got %v", err)
	}
}

func TestLogoutProofCarriesAESKey(t *testing.T) {
	testlog.Start(t)
	_, server := testKeys(t)
	s := NewSuite(nil)
	key := testAESKey(t)
	proof, err := s.LogoutProof(&server.Private.PublicKey, key)
	if err != nil {
		t.Fatalf("logout proof: %v", err)
	}
	got, err := s.Provider().DecryptRSA(server.Private, proof[:])
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("proof holds %s", hex.EncodeToString(got))
	}
}

func TestOpenHandshakeKey(t *testing.T) {
	testlog.Start(t)
	client, _ := testKeys(t)
	s := NewSuite(nil)
	key := testAESKey(t)
	wrapped, err := s.Provider().EncryptRSA(&client.Private.PublicKey, key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	got, err := s.OpenHandshakeKey(client, wrapped)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("aes key mismatch")
	}

	short, _ := s.Provider().EncryptRSA(&client.Private.PublicKey, key[:16])
	if _, err := s.OpenHandshakeKey(client, short); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey for 16-byte key, got %v", err)
	}
	wrapped[10] ^= 0xff
	if _, err := s.OpenHandshakeKey(client, wrapped); !errors.Is(err, protocol.ErrCrypto) {
		t.Fatalf("expected crypto error for corrupted key, got %v", err)
	}
}
