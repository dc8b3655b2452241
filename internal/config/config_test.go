package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagelink/internal/session"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Link.Listen != "0.0.0.0:7420" {
		t.Errorf("Link.Listen: got %q", cfg.Link.Listen)
	}
	if cfg.Link.MaxPeers != 1 {
		t.Errorf("MaxPeers: got %d, want 1", cfg.Link.MaxPeers)
	}
	if cfg.Device.DataDir != "~/.pagelink" {
		t.Errorf("DataDir: got %q", cfg.Device.DataDir)
	}
	if cfg.Device.Name == "" {
		t.Error("Device.Name should default to hostname")
	}
	if cfg.Session.MalformedThreshold != 8 {
		t.Errorf("MalformedThreshold: got %d, want 8", cfg.Session.MalformedThreshold)
	}
	if cfg.Session.CancelOnBack {
		t.Error("CancelOnBack should default to off")
	}
	if cfg.Session.TickInterval.Duration != 50*time.Millisecond {
		t.Errorf("TickInterval: got %s", cfg.Session.TickInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadNoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Display.Width != 480 || cfg.Display.Height != 800 {
		t.Errorf("display: got %dx%d", cfg.Display.Width, cfg.Display.Height)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, `
[device]
name = "kitchen-reader"
data_dir = "/tmp/pagelink-test"

[link]
listen = "127.0.0.1:9000"
max_peers = 2
trusted = ["`+strings.Repeat("ab", 32)+`"]
idle_timeout = "2m"
dial_rate = 0.5

[display]
width = 600
height = 800

[session]
wait_for_peer_timeout = "5m"
receive_page_timeout = "10s"
malformed_threshold = 0
ack_transfers = true
cancel_on_back = true
tick_interval = "20ms"

[cache]
enabled = false
max_pages = 10

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Device.Name != "kitchen-reader" {
		t.Errorf("Device.Name: got %q", cfg.Device.Name)
	}
	if cfg.Link.Listen != "127.0.0.1:9000" || cfg.Link.MaxPeers != 2 || len(cfg.Link.Trusted) != 1 {
		t.Errorf("Link: got %+v", cfg.Link)
	}
	if cfg.Link.DialRate != 0.5 || cfg.ServerConfig(nil).DialRate != 0.5 {
		t.Errorf("DialRate: got %g", cfg.Link.DialRate)
	}
	if cfg.Link.IdleTimeout.Duration != 2*time.Minute {
		t.Errorf("IdleTimeout: got %s", cfg.Link.IdleTimeout)
	}
	if cfg.Session.ReceiveListTimeout.Duration != 30*time.Second {
		t.Errorf("unset ReceiveListTimeout should keep its default, got %s", cfg.Session.ReceiveListTimeout)
	}
	if cfg.Session.MalformedThreshold != 0 || !cfg.Session.AckTransfers {
		t.Errorf("Session: got %+v", cfg.Session)
	}
	if cfg.Cache.Enabled || cfg.Cache.MaxPages != 10 {
		t.Errorf("Cache: got %+v", cfg.Cache)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}

	ec := cfg.EngineConfig()
	want := session.Config{
		PageCapacity:       120000,
		WaitForPeerTimeout: 5 * time.Minute,
		ReceiveListTimeout: 30 * time.Second,
		ReceivePageTimeout: 10 * time.Second,
		MalformedThreshold: 0,
		InboxSize:          session.DefaultInboxSize,
		AckTransfers:       true,
		CancelOnBack:       true,
	}
	if ec != want {
		t.Errorf("EngineConfig: got %+v, want %+v", ec, want)
	}

	sc := cfg.ServerConfig(nil)
	if sc.Listen != "127.0.0.1:9000" || sc.MaxPeers != 2 || sc.IdleTimeout != 2*time.Minute {
		t.Errorf("ServerConfig: got %+v", sc)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[link\nlisten = 1", "parsing config"},
		{"bad duration", "[session]\ntick_interval = \"soon\"", "parsing config"},
		{"unknown key", "[link]\nlisten = \"127.0.0.1:1\"\nbootstrap = []", "link.bootstrap"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error should mention %q: %v", tt.want, err)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("an explicit missing path should fail")
	}
}

func TestPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Defaults()
	if got, want := cfg.DataDir(), filepath.Join(home, ".pagelink"); got != want {
		t.Errorf("DataDir: got %q, want %q", got, want)
	}
	if got, want := cfg.IdentityDir(), filepath.Join(home, ".pagelink", "identity"); got != want {
		t.Errorf("IdentityDir: got %q, want %q", got, want)
	}
	if got, want := cfg.CachePath(), filepath.Join(home, ".pagelink", "cache.db"); got != want {
		t.Errorf("CachePath: got %q, want %q", got, want)
	}
	cfg.Cache.Path = "~/elsewhere.db"
	if got, want := cfg.CachePath(), filepath.Join(home, "elsewhere.db"); got != want {
		t.Errorf("CachePath override: got %q, want %q", got, want)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome left absolute path as %q", got)
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte(" 1m30s ")); err != nil {
		t.Fatal(err)
	}
	if d.Duration != 90*time.Second {
		t.Fatalf("got %s", d)
	}
	b, _ := d.MarshalText()
	if string(b) != "1m30s" {
		t.Fatalf("MarshalText = %q", b)
	}
	if err := d.UnmarshalText([]byte("forever")); err == nil {
		t.Fatal("expected parse error")
	}
}
