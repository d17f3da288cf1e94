package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/homelink/internal/protocol"
	"github.com/danmuck/homelink/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadTOMLDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "config.toml", `
host_id = "pi"
server_address = "10.0.0.2"
server_port = 6000
server_control_port = 7000
io_timeout = "250ms"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HostID != "pi" || cfg.ServerAddress != "10.0.0.2" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.ServerControlPort != 7000 {
		t.Fatalf("control port=%d, server_control_port should win", cfg.ServerControlPort)
	}
	if cfg.IOTimeout != 250*time.Millisecond {
		t.Fatalf("io timeout=%v", cfg.IOTimeout)
	}
	if cfg.ConnectTimeout != Default().ConnectTimeout || cfg.MaxAttempts != 10 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := cfg.ControlAddr(); got != "10.0.0.2:7000" {
		t.Fatalf("control addr=%q", got)
	}
	if _, ok := cfg.DataAddr(); ok {
		t.Fatalf("data addr reported without data port")
	}
}

func TestLoadServerPortAlias(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "config.toml", "host_id = \"h\"\nserver_address = \"::1\"\nserver_port = 6000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerControlPort != 6000 {
		t.Fatalf("control port=%d", cfg.ServerControlPort)
	}
	if got := cfg.ControlAddr(); got != "[::1]:6000" {
		t.Fatalf("control addr=%q", got)
	}
}

func TestLoadYAML(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "config.yaml", `
host_id: pi
server_address: example.org
server_control_port: 7000
server_data_port: 7001
max_attempts: 4
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxAttempts != 4 || cfg.ServerDataPort != 7001 {
		t.Fatalf("unexpected yaml config: %+v", cfg)
	}
	if addr, ok := cfg.DataAddr(); !ok || addr != "example.org:7001" {
		t.Fatalf("data addr=%q ok=%v", addr, ok)
	}
	if got := cfg.SessionConfig().MaxAttempts; got != 4 {
		t.Fatalf("session max attempts=%d", got)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "config.toml", "io_timeout = \"soon\"\n")
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestValidateReportsMissingKeys(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		cfg  Client
	}{
		{"host", Client{ServerAddress: "a", ServerControlPort: 1}},
		{"address", Client{HostID: "h", ServerControlPort: 1}},
		{"port", Client{HostID: "h", ServerAddress: "a"}},
		{"data port", Client{HostID: "h", ServerAddress: "a", ServerControlPort: 1, ServerDataPort: 70000}},
		{"long host", Client{HostID: "0123456789012345678901234567890123", ServerAddress: "a", ServerControlPort: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); !errors.Is(err, protocol.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestApplyAndSaveRoundTrip(t *testing.T) {
	testlog.Start(t)
	for _, name := range []string{"config.toml", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := Default()
			edits := [][2]string{
				{"--host-id", "desk"},
				{"server-address", "192.168.1.5"},
				{"server_control_port", "7100"},
				{"--server-data-port", "7101"},
				{"io_timeout", "2s"},
			}
			for _, e := range edits {
				if err := cfg.Apply(e[0], e[1]); err != nil {
					t.Fatalf("apply %s: %v", e[0], err)
				}
			}
			if err := cfg.Save(path); err != nil {
				t.Fatalf("save: %v", err)
			}
			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if info.Mode().Perm() != 0o600 {
				t.Fatalf("mode=%o", info.Mode().Perm())
			}
			got, err := Load(path)
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			if got != cfg {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
			}
		})
	}
}

func TestApplyRejectsBadInput(t *testing.T) {
	testlog.Start(t)
	cfg := Default()
	for _, e := range [][2]string{{"server_port", "http"}, {"server_data_port", "0"}, {"colour", "blue"}, {"max_attempts", "x"}} {
		if err := cfg.Apply(e[0], e[1]); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("apply %s=%s: expected ErrInvalidConfig, got %v", e[0], e[1], err)
		}
	}
}

func TestWriteTemplateLoadsAndValidates(t *testing.T) {
	testlog.Start(t)
	for _, name := range []string{"config.toml", "config.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		if err := WriteTemplate(path, false); err != nil {
			t.Fatalf("write template: %v", err)
		}
		if err := WriteTemplate(path, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s", name)
		}
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("load template %s: %v", name, err)
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("template %s invalid: %v", name, err)
		}
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	testlog.Start(t)
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestDefaultPathHonorsEnv(t *testing.T) {
	testlog.Start(t)
	t.Setenv(EnvConfigPath, "/etc/homelink.toml")
	got, err := DefaultPath()
	if err != nil || got != "/etc/homelink.toml" {
		t.Fatalf("path=%q err=%v", got, err)
	}
}

func TestSecretStorePath(t *testing.T) {
	testlog.Start(t)
	store, err := Client{HostSecretPath: "/tmp/hl.key"}.SecretStore()
	if err != nil || store.Path != "/tmp/hl.key" {
		t.Fatalf("store=%+v err=%v", store, err)
	}
}
