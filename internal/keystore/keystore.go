// Package keystore persists the per-host secret used in credential payloads.
package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/homelink/internal/protocol"
	"github.com/rs/zerolog/log"
)

var ErrCorruptSecret = fmt.Errorf("%w: host secret file is corrupt", protocol.ErrValidation)

// Source yields the hex-encoded host secret, creating it on first use.
type Source interface {
	ReadOrCreateHostSecret() (string, error)
}

// FileStore keeps the secret as hex text in Path.
type FileStore struct {
	Path string
}

func (f FileStore) ReadOrCreateHostSecret() (string, error) {
	if f.Path == "" {
		return "", fmt.Errorf("%w: host secret path is empty", protocol.ErrValidation)
	}
	secret, err := f.read()
	if err == nil {
		return secret, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", storeError(err)
	}

	if err := f.create(); err != nil {
		return "", storeError(err)
	}
	secret, err = f.read()
	if err != nil {
		return "", storeError(err)
	}
	return secret, nil
}

// storeError files local filesystem failures under ErrValidation: the
// configured secret path is unusable.
func storeError(err error) error {
	if protocol.KindOf(err) != "unknown" {
		return err
	}
	return fmt.Errorf("%w: host secret: %w", protocol.ErrValidation, err)
}

func (f FileStore) read() (string, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return "", err
	}
	secret := strings.TrimSpace(string(raw))
	if len(secret) != protocol.HostSecretHexSize {
		return "", fmt.Errorf("%w: %s holds %d characters", ErrCorruptSecret, f.Path, len(secret))
	}
	if _, err := hex.DecodeString(secret); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrCorruptSecret, f.Path, err)
	}
	return strings.ToLower(secret), nil
}

// create writes a fresh secret to a temp file and links it into place, so a
// concurrent creator either wins or finds the winner's complete file.
func (f FileStore) create() error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create host secret dir: %w", err)
	}
	raw := make([]byte, protocol.HostSecretSize)
	if _, err := rand.Read(raw); err != nil {
		return fmt.Errorf("%w: random source: %w", protocol.ErrCrypto, err)
	}

	tmp, err := os.CreateTemp(dir, ".host.key-*")
	if err != nil {
		return fmt.Errorf("create host secret temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod host secret: %w", err)
	}
	if _, err := tmp.WriteString(hex.EncodeToString(raw) + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write host secret: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync host secret: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close host secret: %w", err)
	}

	if err := os.Link(tmpName, f.Path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			log.Debug().Str("path", f.Path).Msg("keystore: host secret created concurrently")
			return nil
		}
		return fmt.Errorf("publish host secret: %w", err)
	}
	log.Info().Str("path", f.Path).Msg("keystore: created host secret")
	return nil
}

// Static is a fixed in-memory secret.
type Static string

func (s Static) ReadOrCreateHostSecret() (string, error) {
	return string(s), nil
}

// DefaultPath is ~/.config/homelink/host.key.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "homelink", "host.key"), nil
}
