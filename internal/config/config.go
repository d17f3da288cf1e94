package config

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/homelink/internal/keystore"
	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/protocol/session"
	"gopkg.in/yaml.v3"
)

const EnvConfigPath = "HOMELINK_CONFIG"

var ErrInvalidConfig = fmt.Errorf("%w: invalid client config", protocol.ErrValidation)

// Client is the resolved client configuration.
type Client struct {
	HostID            string
	ServerAddress     string
	ServerControlPort int
	ServerDataPort    int
	HostSecretPath    string
	ConnectTimeout    time.Duration
	IOTimeout         time.Duration
	MaxAttempts       int
}

// fileConfig is the on-disk shape shared by the TOML and YAML formats.
type fileConfig struct {
	HostID            string `toml:"host_id,omitempty" yaml:"host_id,omitempty"`
	ServerAddress     string `toml:"server_address,omitempty" yaml:"server_address,omitempty"`
	ServerPort        int    `toml:"server_port,omitempty" yaml:"server_port,omitempty"`
	ServerControlPort int    `toml:"server_control_port,omitempty" yaml:"server_control_port,omitempty"`
	ServerDataPort    int    `toml:"server_data_port,omitempty" yaml:"server_data_port,omitempty"`
	HostSecretPath    string `toml:"host_secret_path,omitempty" yaml:"host_secret_path,omitempty"`
	ConnectTimeout    string `toml:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	IOTimeout         string `toml:"io_timeout,omitempty" yaml:"io_timeout,omitempty"`
	MaxAttempts       int    `toml:"max_attempts,omitempty" yaml:"max_attempts,omitempty"`
}

func Default() Client {
	d := session.DefaultConfig()
	return Client{
		ConnectTimeout: d.ConnectTimeout,
		IOTimeout:      d.IOTimeout,
		MaxAttempts:    d.MaxAttempts,
	}
}

// DefaultPath is $HOMELINK_CONFIG, else ~/.config/homelink/config.toml.
func DefaultPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "homelink", "config.toml"), nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// Load reads path as YAML when its extension says so and TOML otherwise.
// Keys absent from the file keep their Default values. Load does not
// validate; call Validate before dialing.
func Load(path string) (Client, error) {
	var raw fileConfig
	var defined func(key string) bool

	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return Client{}, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		keys := map[string]any{}
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return Client{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Client{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		defined = func(key string) bool { _, ok := keys[key]; return ok }
	} else {
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Client{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }
	}

	cfg := Default()
	if defined("host_id") {
		cfg.HostID = strings.TrimSpace(raw.HostID)
	}
	if defined("server_address") {
		cfg.ServerAddress = strings.TrimSpace(raw.ServerAddress)
	}
	if defined("server_port") {
		cfg.ServerControlPort = raw.ServerPort
	}
	// server_control_port wins over its server_port alias.
	if defined("server_control_port") {
		cfg.ServerControlPort = raw.ServerControlPort
	}
	if defined("server_data_port") {
		cfg.ServerDataPort = raw.ServerDataPort
	}
	if defined("host_secret_path") {
		cfg.HostSecretPath = strings.TrimSpace(raw.HostSecretPath)
	}
	if defined("connect_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ConnectTimeout))
		if err != nil {
			return Client{}, fmt.Errorf("%w: parse connect_timeout: %w", ErrInvalidConfig, err)
		}
		cfg.ConnectTimeout = d
	}
	if defined("io_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.IOTimeout))
		if err != nil {
			return Client{}, fmt.Errorf("%w: parse io_timeout: %w", ErrInvalidConfig, err)
		}
		cfg.IOTimeout = d
	}
	if defined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	return cfg, nil
}

// LoadOrDefault is Load, with a missing file yielding Default.
func LoadOrDefault(path string) (Client, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// Validate reports the first missing or invalid key.
func (c Client) Validate() error {
	if strings.TrimSpace(c.HostID) == "" {
		return fmt.Errorf("%w: missing host_id", ErrInvalidConfig)
	}
	if err := protocol.ValidateIdentifier("host_id", c.HostID); err != nil {
		return err
	}
	if strings.TrimSpace(c.ServerAddress) == "" {
		return fmt.Errorf("%w: missing server_address", ErrInvalidConfig)
	}
	if c.ServerControlPort == 0 {
		return fmt.Errorf("%w: missing server_control_port", ErrInvalidConfig)
	}
	if !validPort(c.ServerControlPort) {
		return fmt.Errorf("%w: server_control_port %d out of range", ErrInvalidConfig, c.ServerControlPort)
	}
	if c.ServerDataPort != 0 && !validPort(c.ServerDataPort) {
		return fmt.Errorf("%w: server_data_port %d out of range", ErrInvalidConfig, c.ServerDataPort)
	}
	if c.ConnectTimeout < 0 || c.IOTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("%w: negative max_attempts", ErrInvalidConfig)
	}
	return nil
}

func validPort(p int) bool { return p > 0 && p <= 65535 }

// Apply sets one key from its string form. Keys may use underscores or
// dashes, with or without a leading "--".
func (c *Client) Apply(key, value string) error {
	key = strings.ReplaceAll(strings.TrimPrefix(strings.TrimSpace(key), "--"), "-", "_")
	value = strings.TrimSpace(value)
	switch key {
	case "host_id":
		c.HostID = value
	case "server_address":
		c.ServerAddress = value
	case "server_port", "server_control_port":
		p, err := parsePort(key, value)
		if err != nil {
			return err
		}
		c.ServerControlPort = p
	case "server_data_port":
		p, err := parsePort(key, value)
		if err != nil {
			return err
		}
		c.ServerDataPort = p
	case "host_secret_path":
		c.HostSecretPath = value
	case "connect_timeout", "io_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, key, err)
		}
		if key == "io_timeout" {
			c.IOTimeout = d
		} else {
			c.ConnectTimeout = d
		}
	case "max_attempts":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: parse max_attempts: %w", ErrInvalidConfig, err)
		}
		c.MaxAttempts = n
	default:
		return fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, key)
	}
	return nil
}

func parsePort(key, value string) (int, error) {
	p, err := strconv.Atoi(value)
	if err != nil || !validPort(p) {
		return 0, fmt.Errorf("%w: %s must be a port number, got %q", ErrInvalidConfig, key, value)
	}
	return p, nil
}

// Save writes c to path in the format its extension selects.
func (c Client) Save(path string) error {
	raw := fileConfig{
		HostID:            c.HostID,
		ServerAddress:     c.ServerAddress,
		ServerControlPort: c.ServerControlPort,
		ServerDataPort:    c.ServerDataPort,
		HostSecretPath:    c.HostSecretPath,
		MaxAttempts:       c.MaxAttempts,
	}
	if c.ConnectTimeout > 0 {
		raw.ConnectTimeout = c.ConnectTimeout.String()
	}
	if c.IOTimeout > 0 {
		raw.IOTimeout = c.IOTimeout.String()
	}

	var buf bytes.Buffer
	if isYAML(path) {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(raw); err != nil {
			return fmt.Errorf("encode yaml config: %w", err)
		}
		_ = enc.Close()
	} else if err := toml.NewEncoder(&buf).Encode(raw); err != nil {
		return fmt.Errorf("encode toml config: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*")
	if err != nil {
		return fmt.Errorf("create config temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

func (c Client) ControlAddr() string {
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerControlPort))
}

// DataAddr returns the async channel address, or false when no data port is set.
func (c Client) DataAddr() (string, bool) {
	if c.ServerDataPort == 0 {
		return "", false
	}
	return net.JoinHostPort(c.ServerAddress, strconv.Itoa(c.ServerDataPort)), true
}

func (c Client) SessionConfig() session.Config {
	cfg := session.DefaultConfig()
	if c.ConnectTimeout > 0 {
		cfg.ConnectTimeout = c.ConnectTimeout
	}
	if c.IOTimeout > 0 {
		cfg.IOTimeout = c.IOTimeout
	}
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	return cfg
}

// SecretStore returns the host secret file store, defaulting to
// ~/.config/homelink/host.key.
func (c Client) SecretStore() (keystore.FileStore, error) {
	if c.HostSecretPath != "" {
		return keystore.FileStore{Path: c.HostSecretPath}, nil
	}
	p, err := keystore.DefaultPath()
	if err != nil {
		return keystore.FileStore{}, fmt.Errorf("resolve host secret path: %w", err)
	}
	return keystore.FileStore{Path: p}, nil
}
