package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Name != "phxd" || len(cfg.Server.Ports) != 1 || cfg.Server.Ports[0] != DefaultPort {
		t.Errorf("defaults not applied: %+v", cfg.Server)
	}
	if _, err := os.Stat(filepath.Join(dir, DefaultConfigFile)); err != nil {
		t.Errorf("default config not written: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)
	data := `{"server": {"name": "Retro", "ports": [6000, 6010]}, "transfers": {"timeout_seconds": 45}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Name != "Retro" || len(cfg.Server.Ports) != 2 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.TransferTimeout() != 45*time.Second {
		t.Errorf("TransferTimeout() = %v", cfg.TransferTimeout())
	}
	if cfg.SweepInterval() != 5*time.Second {
		t.Errorf("SweepInterval() = %v, want default 5s", cfg.SweepInterval())
	}
	if cfg.Chat.PrefixLen != 17 {
		t.Errorf("chat defaults lost: %+v", cfg.Chat)
	}

	saved, _ := os.ReadFile(path)
	if !strings.Contains(string(saved), `"emote_format"`) {
		t.Errorf("re-save did not add new fields")
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte("{"), 0644)
	if _, err := Load(dir); err == nil {
		t.Errorf("Load() accepted invalid JSON")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"no ports", func(c *Config) { c.Server.Ports = nil }, "server.ports"},
		{"transfer port overlap", func(c *Config) { c.Server.Ports = []int{5500, 5501} }, "server.ports"},
		{"bad port", func(c *Config) { c.Server.Ports = []int{70000} }, "server.ports"},
		{"empty name", func(c *Config) { c.Server.Name = " " }, "server.name"},
		{"bad format", func(c *Config) { c.Chat.Format = "%s" }, "chat.format"},
		{"zero timeout", func(c *Config) { c.Transfers.TimeoutSeconds = 0 }, "transfers.timeout_seconds"},
		{"api clash", func(c *Config) { c.API.Enabled = true; c.API.Port = 5501 }, "api.port"},
		{"mqtt broker", func(c *Config) { c.MQTT.Enabled = true }, "mqtt.broker_url"},
		{"archive codec", func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Bucket = "b"
			c.Archive.Compression = "lz4"
		}, "archive.compression"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Files.Root = t.TempDir()
			tt.mutate(cfg)
			result := Validate(cfg)
			if tt.wantErr == "" {
				if !result.IsValid() {
					t.Errorf("Validate() errors = %v", result.Errors)
				}
				return
			}
			found := false
			for _, e := range result.Errors {
				if e.Field == tt.wantErr {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors = %v, want one for %s", result.Errors, tt.wantErr)
			}
		})
	}
}

func TestSetupWizard(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.SetPath(filepath.Join(dir, DefaultConfigFile))
	cfg.Files.Root = dir

	input := strings.Join([]string{
		"My Server",    // name
		"",             // description
		"",             // agreement
		"",             // bind
		"6500",         // port
		"",             // file root
		"",             // database
		"yes",          // tracker
		"a.com, b.com", // trackers
		"no",           // api
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunSetupWizard(cfg, strings.NewReader(input), &out); err != nil {
		t.Fatalf("RunSetupWizard() error = %v\n%s", err, out.String())
	}
	if cfg.Server.Name != "My Server" || cfg.Server.Ports[0] != 6500 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if !cfg.Tracker.Enabled || len(cfg.Tracker.Addresses) != 2 || cfg.Tracker.Addresses[1] != "b.com" {
		t.Errorf("tracker = %+v", cfg.Tracker)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Server.Name != "My Server" {
		t.Errorf("saved name = %q", loaded.Server.Name)
	}
}
