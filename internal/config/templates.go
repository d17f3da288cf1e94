package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Template returns a commented starter config in the format path selects.
func Template(path string) string {
	if isYAML(path) {
		return yamlTemplate
	}
	return tomlTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(path, []byte(Template(path)), 0o600)
}

const tomlTemplate = `# HomeLink client
host_id = "my-host"
server_address = "127.0.0.1"
server_control_port = 7000
# Async notification channel; 0 disables it.
server_data_port = 7001

# host_secret_path = "~/.config/homelink/host.key"
connect_timeout = "5s"
io_timeout = "5s"
max_attempts = 10
`

const yamlTemplate = `# HomeLink client
host_id: my-host
server_address: 127.0.0.1
server_control_port: 7000
# Async notification channel; 0 disables it.
server_data_port: 7001

# host_secret_path: ~/.config/homelink/host.key
connect_timeout: 5s
io_timeout: 5s
max_attempts: 10
`
