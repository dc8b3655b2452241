package config

import (
	"strings"
	"testing"
	"time"
)

const (
	errExpectedError   = "expected error"
	errUnexpectedError = "unexpected error: %v"
	errExpectedValErr  = "expected validation error"
	testAddrIPv4       = "0.0.0.0:7420"
	testAddrIPv6       = "[::]:7420"
)

func TestConfigValidate_Valid(t *testing.T) {
	cfg := Defaults()
	cfg.Link.Listen = "127.0.0.1:7420"
	cfg.Link.Trusted = []string{strings.Repeat("0f", 32)}
	cfg.Logging.Level = "debug"

	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config should pass validation: %v", err)
	}
}

func TestConfigValidate_EmptyOptionalFields(t *testing.T) {
	cfg := Defaults()
	cfg.Link.Trusted = nil
	cfg.Logging.Level = ""
	cfg.Logging.Format = ""
	cfg.Cache.Path = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("config with empty optional fields should be valid: %v", err)
	}
}

func TestConfigValidate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing port", func(c *Config) { c.Link.Listen = "127.0.0.1" }, "link.listen"},
		{"empty host", func(c *Config) { c.Link.Listen = ":7420" }, "link.listen"},
		{"negative max peers", func(c *Config) { c.Link.MaxPeers = -5 }, "link.max_peers"},
		{"negative dial rate", func(c *Config) { c.Link.DialRate = -1 }, "link.dial_rate"},
		{"bad trusted key", func(c *Config) { c.Link.Trusted = []string{"abcd"} }, "link.trusted[0]"},
		{"negative idle timeout", func(c *Config) { c.Link.IdleTimeout = Duration{-time.Second} }, "link.idle_timeout"},
		{"zero width", func(c *Config) { c.Display.Width = 0 }, "display"},
		{"huge display", func(c *Config) { c.Display.Width, c.Display.Height = 1 << 14, 1 << 14 }, "display"},
		{"negative wait", func(c *Config) { c.Session.WaitForPeerTimeout = Duration{-time.Second} }, "session.wait_for_peer_timeout"},
		{"negative list timeout", func(c *Config) { c.Session.ReceiveListTimeout = Duration{-time.Second} }, "session.receive_list_timeout"},
		{"negative page timeout", func(c *Config) { c.Session.ReceivePageTimeout = Duration{-time.Second} }, "session.receive_page_timeout"},
		{"negative threshold", func(c *Config) { c.Session.MalformedThreshold = -1 }, "session.malformed_threshold"},
		{"negative inbox", func(c *Config) { c.Session.InboxSize = -1 }, "session.inbox_size"},
		{"zero tick", func(c *Config) { c.Session.TickInterval = Duration{} }, "session.tick_interval"},
		{"negative max pages", func(c *Config) { c.Cache.MaxPages = -1 }, "cache.max_pages"},
		{"empty data dir", func(c *Config) { c.Device.DataDir = " " }, "device.data_dir"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal(errExpectedValErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q: %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigValidate_TimeoutsAllowZero(t *testing.T) {
	cfg := Defaults()
	cfg.Session.WaitForPeerTimeout = Duration{}
	cfg.Session.ReceiveListTimeout = Duration{}
	cfg.Session.ReceivePageTimeout = Duration{}
	cfg.Session.MalformedThreshold = 0
	cfg.Link.MaxPeers = 0

	if err := cfg.Validate(); err != nil {
		t.Errorf("zero timeouts should be valid: %v", err)
	}
}

func TestConfigValidate_InvalidLogLevel(t *testing.T) {
	tests := []struct {
		level   string
		wantErr bool
	}{
		{"unknown", true},
		{"trace", true},
		{"fatal", true},
		{"debug", false},
		{"warning", false},
		{"DEBUG", false},
		{"  Error  ", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Defaults()
			cfg.Logging.Level = tt.level

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal(errExpectedValErr)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for valid level: %v", err)
			}
			if tt.wantErr && !strings.Contains(err.Error(), "logging.level") {
				t.Errorf("error should mention 'logging.level': %v", err)
			}
		})
	}
}

func TestConfigValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Device: DeviceConfig{DataDir: "/tmp/x"},
		Link: LinkConfig{
			Listen:   "invalid",
			MaxPeers: -5,
			Trusted:  []string{"ok?", strings.Repeat("aa", 32)},
		},
		Display: DisplayConfig{Width: 480, Height: 800},
		Session: SessionConfig{
			ReceivePageTimeout: Duration{-5 * time.Second},
			TickInterval:       Duration{time.Second},
		},
		Logging: LoggingConfig{Level: "invalid-level"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal(errExpectedValErr)
	}

	errStr := err.Error()
	for _, expected := range []string{
		"link.listen",
		"link.max_peers",
		"link.trusted[0]",
		"session.receive_page_timeout",
		"logging.level",
	} {
		if !strings.Contains(errStr, expected) {
			t.Errorf("error missing %q: %v", expected, errStr)
		}
	}
	if strings.Contains(errStr, "link.trusted[1]") {
		t.Errorf("valid key reported: %v", errStr)
	}
	if !strings.Contains(errStr, "-5") {
		t.Errorf("error should carry the bad value: %v", errStr)
	}
}

func TestValidateListenAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{testAddrIPv4, false},
		{"127.0.0.1:5000", false},
		{testAddrIPv6, false},
		{"localhost:7420", false},
		{"  127.0.0.1:7420  ", false},
		{"no-port", true},
		{"", true},
		{"   ", true},
		{":7420", true},
		{"host:", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			err := validateListenAddr(tt.addr)
			if tt.wantErr && err == nil {
				t.Error(errExpectedError)
			}
			if !tt.wantErr && err != nil {
				t.Errorf(errUnexpectedError, err)
			}
		})
	}
}

func TestValidateLogFormat(t *testing.T) {
	for _, ok := range []string{"", "text", "JSON", " json "} {
		if err := validateLogFormat(ok); err != nil {
			t.Errorf("%q: "+errUnexpectedError, ok, err)
		}
	}
	if err := validateLogFormat("yaml"); err == nil {
		t.Error(errExpectedError)
	}
}
