// Package setup registers the server with desktop MCP clients that read an
// "mcpServers" JSON configuration file.
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
)

// ServerName is the key of this server in the client's mcpServers map.
const ServerName = "kidney-exchange"

// ServerEntry is one server launched by the client.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options describe how the client should launch the server.
type Options struct {
	ServerType string // "lite" or "full"
	BinaryPath string
	DataDir    string
	ConfigFile string // full server only
	Solver     string
}

// DefaultClientConfigPath returns the desktop client configuration file of
// the current user.
func DefaultClientConfigPath() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", "Claude", "claude_desktop_config.json"), nil
	case "linux":
		dir := os.Getenv("XDG_CONFIG_HOME")
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dir = filepath.Join(home, ".config")
		}
		return filepath.Join(dir, "Claude", "claude_desktop_config.json"), nil
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "Claude", "claude_desktop_config.json"), nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// clientConfig keeps every top level key of the file so that settings this
// package does not know about survive a rewrite.
type clientConfig struct {
	raw     map[string]json.RawMessage
	servers map[string]ServerEntry
}

func loadClientConfig(path string) (*clientConfig, error) {
	cfg := &clientConfig{raw: map[string]json.RawMessage{}, servers: map[string]ServerEntry{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read client config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg.raw); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if servers, ok := cfg.raw["mcpServers"]; ok {
		if err := json.Unmarshal(servers, &cfg.servers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
	}
	return cfg, nil
}

func (c *clientConfig) save(path string) error {
	servers, err := json.Marshal(c.servers)
	if err != nil {
		return fmt.Errorf("failed to encode mcpServers: %w", err)
	}
	c.raw["mcpServers"] = servers

	data, err := json.MarshalIndent(c.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode client config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write client config: %w", err)
	}
	return nil
}

// Register adds or replaces the server entry in the client config at path.
func Register(path string, opts Options) (ServerEntry, error) {
	cfg, err := loadClientConfig(path)
	if err != nil {
		return ServerEntry{}, err
	}

	binary := opts.BinaryPath
	if binary == "" {
		if binary, err = findBinary(opts.ServerType); err != nil {
			return ServerEntry{}, fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := ServerEntry{Command: binary, Env: map[string]string{}}
	if opts.DataDir != "" {
		entry.Env["KIDNEY_DATA_DIR"] = opts.DataDir
	}
	if opts.Solver != "" {
		entry.Env["KIDNEY_SOLVER"] = opts.Solver
	}
	if opts.ConfigFile != "" {
		entry.Args = []string{"--config", opts.ConfigFile}
	}
	if len(entry.Env) == 0 {
		entry.Env = nil
	}

	cfg.servers[ServerName] = entry
	if err := cfg.save(path); err != nil {
		return ServerEntry{}, err
	}
	return entry, nil
}

// Unregister removes the server entry. It reports whether one was present.
func Unregister(path string) (bool, error) {
	cfg, err := loadClientConfig(path)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.servers[ServerName]; !ok {
		return false, nil
	}
	delete(cfg.servers, ServerName)
	return true, cfg.save(path)
}

// Status describes the registration found in a client config.
type Status struct {
	ConfigPath   string   `json:"config_path"`
	Registered   bool     `json:"registered"`
	Command      string   `json:"command,omitempty"`
	DataDir      string   `json:"data_dir,omitempty"`
	RunsDBExists bool     `json:"runs_db_exists"`
	OtherServers []string `json:"other_servers,omitempty"`
	Issues       []string `json:"issues,omitempty"`
}

// Inspect reports the registration state. defaultDataDir is used when the
// entry does not set one.
func Inspect(path, defaultDataDir string) (*Status, error) {
	cfg, err := loadClientConfig(path)
	if err != nil {
		return nil, err
	}

	status := &Status{ConfigPath: path, DataDir: defaultDataDir}
	for name := range cfg.servers {
		if name != ServerName {
			status.OtherServers = append(status.OtherServers, name)
		}
	}
	sort.Strings(status.OtherServers)

	entry, ok := cfg.servers[ServerName]
	if !ok {
		status.Issues = append(status.Issues, "server is not registered")
		return status, nil
	}
	status.Registered = true
	status.Command = entry.Command
	if dir := entry.Env["KIDNEY_DATA_DIR"]; dir != "" {
		status.DataDir = dir
	}

	info, err := os.Stat(entry.Command)
	switch {
	case err != nil:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary not found: %s", entry.Command))
	case info.Mode()&0o111 == 0:
		status.Issues = append(status.Issues, fmt.Sprintf("server binary is not executable: %s", entry.Command))
	}
	if status.DataDir != "" {
		if _, err := os.Stat(filepath.Join(status.DataDir, "runs.db")); err == nil {
			status.RunsDBExists = true
		}
	}
	return status, nil
}

func findBinary(serverType string) (string, error) {
	name := "mcp-server-lite"
	if serverType == "full" {
		name = "mcp-server"
	}
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	home, _ := os.UserHomeDir()
	for _, loc := range []string{
		filepath.Join(".", name),
		filepath.Join("build", name),
		filepath.Join(home, ".local", "bin", name),
		filepath.Join("/usr/local/bin", name),
	} {
		if _, err := os.Stat(loc); err == nil {
			return filepath.Abs(loc)
		}
	}
	return "", fmt.Errorf("binary %q not found in PATH or common locations", name)
}
