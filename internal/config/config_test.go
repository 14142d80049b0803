package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("WAVAULT_HOME", tmpDir)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Data.DataDir != tmpDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, tmpDir)
	}
	if cfg.Server.APIPort != 8080 {
		t.Errorf("Server.APIPort = %d, want 8080", cfg.Server.APIPort)
	}
	if cfg.Server.APIKey != "" {
		t.Errorf("Server.APIKey = %q, want empty", cfg.Server.APIKey)
	}
	if cfg.Watch.PollSeconds != 1 {
		t.Errorf("Watch.PollSeconds = %d, want 1", cfg.Watch.PollSeconds)
	}
	if cfg.Analyze.Server != "http://localhost:11434" {
		t.Errorf("Analyze.Server = %q, want default Ollama URL", cfg.Analyze.Server)
	}

	expectedDB := filepath.Join(tmpDir, "messages.db")
	if cfg.DatabasePath() != expectedDB {
		t.Errorf("DatabasePath() = %q, want %q", cfg.DatabasePath(), expectedDB)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("WAVAULT_HOME", tmpDir)

	configContent := `
[data]
bridge_db = "~/whatsapp-bridge/store/messages.db"

[server]
api_port = 9090
api_key = "test-secret-key"

[watch]
poll_seconds = 5
lateness_seconds = 60

[analyze]
model = "qwen2.5"
timeout_seconds = 120

[[digests]]
schedule = "0 6 * * *"
enabled = true

[[digests]]
chat_jid = "5511999999999@s.whatsapp.net"
schedule = "0 7 * * 1"
days = 14
enabled = false
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}
	expectedDB := filepath.Join(home, "whatsapp-bridge/store/messages.db")
	if cfg.DatabasePath() != expectedDB {
		t.Errorf("DatabasePath() = %q, want %q", cfg.DatabasePath(), expectedDB)
	}

	if cfg.Server.APIPort != 9090 {
		t.Errorf("Server.APIPort = %d, want 9090", cfg.Server.APIPort)
	}
	if cfg.Server.APIKey != "test-secret-key" {
		t.Errorf("Server.APIKey = %q, want test-secret-key", cfg.Server.APIKey)
	}
	if got := cfg.PollInterval(); got != 5*time.Second {
		t.Errorf("PollInterval() = %v, want 5s", got)
	}
	if got := cfg.Lateness(); got != time.Minute {
		t.Errorf("Lateness() = %v, want 1m", got)
	}
	if cfg.Analyze.Model != "qwen2.5" {
		t.Errorf("Analyze.Model = %q, want qwen2.5", cfg.Analyze.Model)
	}
	if got := cfg.AnalyzeTimeout(); got != 2*time.Minute {
		t.Errorf("AnalyzeTimeout() = %v, want 2m", got)
	}

	if len(cfg.Digests) != 2 {
		t.Fatalf("len(Digests) = %d, want 2", len(cfg.Digests))
	}
	if cfg.Digests[1].ChatJID != "5511999999999@s.whatsapp.net" || cfg.Digests[1].Days != 14 {
		t.Errorf("Digests[1] = %+v", cfg.Digests[1])
	}
}

func TestEnabledDigests(t *testing.T) {
	cfg := &Config{
		Digests: []DigestSchedule{
			{Schedule: "0 6 * * *", Enabled: true},
			{ChatJID: "a@s.whatsapp.net", Schedule: "0 7 * * *", Enabled: false},
			{ChatJID: "b@s.whatsapp.net", Schedule: "", Enabled: true},
			{ChatJID: "c@s.whatsapp.net", Schedule: "0 8 * * *", Enabled: true},
		},
	}

	enabled := cfg.EnabledDigests()
	if len(enabled) != 2 {
		t.Fatalf("len(EnabledDigests()) = %d, want 2", len(enabled))
	}
	if enabled[0].ChatJID != "" || enabled[1].ChatJID != "c@s.whatsapp.net" {
		t.Errorf("EnabledDigests() = %+v", enabled)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
		unixOnly bool
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "just tilde", input: "~", expected: home},
		{name: "tilde with slash and path", input: "~/foo", expected: filepath.Join(home, "foo")},
		{name: "nested path after tilde", input: "~/foo/bar/baz", expected: filepath.Join(home, "foo/bar/baz")},
		{name: "absolute path unchanged", input: "/var/log/test", expected: "/var/log/test", unixOnly: true},
		{name: "relative path unchanged", input: "relative/path", expected: "relative/path"},
		{name: "tilde in middle not expanded", input: "/home/~user/foo", expected: "/home/~user/foo", unixOnly: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.unixOnly && runtime.GOOS == "windows" {
				t.Skip("skipping Unix-specific path test on Windows")
			}
			got := expandPath(tt.input)
			if got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDefaultHomeFromEnv(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("WAVAULT_HOME", tmpDir)
	if got := DefaultHome(); got != tmpDir {
		t.Errorf("DefaultHome() = %q, want %q", got, tmpDir)
	}
}

// Older config files may carry keys that no longer exist; BurntSushi/toml
// ignores unknown keys so they must not break loading.
func TestLoadIgnoresUnknownKeys(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("WAVAULT_HOME", tmpDir)

	configContent := `
[server]
api_port = 9090
mcp_enabled = true
`
	configPath := filepath.Join(tmpDir, "config.toml")
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.APIPort != 9090 {
		t.Errorf("Server.APIPort = %d, want 9090", cfg.Server.APIPort)
	}
}
