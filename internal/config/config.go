package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"pagelink/internal/codec"
	"pagelink/internal/session"
	"pagelink/internal/transport"
)

const DefaultPath = "~/.pagelink/config.toml"

type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Link    LinkConfig    `toml:"link"`
	Display DisplayConfig `toml:"display"`
	Session SessionConfig `toml:"session"`
	Cache   CacheConfig   `toml:"cache"`
	Logging LoggingConfig `toml:"logging"`
}

type DeviceConfig struct {
	Name    string `toml:"name"`
	DataDir string `toml:"data_dir"`
}

type LinkConfig struct {
	Listen            string   `toml:"listen"`
	MaxPeers          int      `toml:"max_peers"`
	Trusted           []string `toml:"trusted"` // hex X25519 companion keys
	IdleTimeout       Duration `toml:"idle_timeout"`
	KeepaliveInterval Duration `toml:"keepalive_interval"`
	HandshakeTimeout  Duration `toml:"handshake_timeout"`
	DialRate          float64  `toml:"dial_rate"` // attempts per second per host, 0 = unlimited
}

type DisplayConfig struct {
	Width  int `toml:"width"`
	Height int `toml:"height"`
}

type SessionConfig struct {
	WaitForPeerTimeout Duration `toml:"wait_for_peer_timeout"`
	ReceiveListTimeout Duration `toml:"receive_list_timeout"`
	ReceivePageTimeout Duration `toml:"receive_page_timeout"`
	MalformedThreshold int      `toml:"malformed_threshold"`
	InboxSize          int      `toml:"inbox_size"`
	AckTransfers       bool     `toml:"ack_transfers"`
	CancelOnBack       bool     `toml:"cancel_on_back"`
	TickInterval       Duration `toml:"tick_interval"`
}

type CacheConfig struct {
	Enabled  bool   `toml:"enabled"`
	Path     string `toml:"path"` // defaults to data_dir/cache.db
	MaxPages int    `toml:"max_pages"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config for a 480x800 reader.
func Defaults() *Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "pagelink"
	}
	return &Config{
		Device: DeviceConfig{
			Name:    hostname,
			DataDir: "~/.pagelink",
		},
		Link: LinkConfig{
			Listen:   "0.0.0.0:7420",
			MaxPeers: 1,
			DialRate: 2,
		},
		Display: DisplayConfig{
			Width:  480,
			Height: 800,
		},
		Session: SessionConfig{
			ReceiveListTimeout: Duration{session.DefaultReceiveTimeout},
			ReceivePageTimeout: Duration{session.DefaultReceiveTimeout},
			MalformedThreshold: session.DefaultMalformedThreshold,
			InboxSize:          session.DefaultInboxSize,
			TickInterval:       Duration{50 * time.Millisecond},
		},
		Cache: CacheConfig{
			Enabled:  true,
			MaxPages: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file over the defaults. With an empty path the
// default location is tried and a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome(DefaultPath)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parsing config: unknown key %q", undecoded[0].String())
	}

	return cfg, nil
}

// DataDir returns the expanded data directory.
func (c *Config) DataDir() string {
	return expandHome(c.Device.DataDir)
}

// IdentityDir is where the device key lives.
func (c *Config) IdentityDir() string {
	return filepath.Join(c.DataDir(), "identity")
}

// CachePath returns the expanded cache database path.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return expandHome(c.Cache.Path)
	}
	return filepath.Join(c.DataDir(), "cache.db")
}

// EngineConfig maps the session and display sections onto session.Config.
func (c *Config) EngineConfig() session.Config {
	return session.Config{
		PageCapacity:       codec.PageCapacity(c.Display.Width, c.Display.Height),
		WaitForPeerTimeout: c.Session.WaitForPeerTimeout.Duration,
		ReceiveListTimeout: c.Session.ReceiveListTimeout.Duration,
		ReceivePageTimeout: c.Session.ReceivePageTimeout.Duration,
		MalformedThreshold: c.Session.MalformedThreshold,
		InboxSize:          c.Session.InboxSize,
		AckTransfers:       c.Session.AckTransfers,
		CancelOnBack:       c.Session.CancelOnBack,
	}
}

// ServerConfig maps the link section onto transport.ServerConfig. Trusted
// keys must already have passed Validate.
func (c *Config) ServerConfig(trusted [][]byte) transport.ServerConfig {
	return transport.ServerConfig{
		Listen:            strings.TrimSpace(c.Link.Listen),
		MaxPeers:          c.Link.MaxPeers,
		Trusted:           trusted,
		IdleTimeout:       c.Link.IdleTimeout.Duration,
		KeepaliveInterval: c.Link.KeepaliveInterval.Duration,
		HandshakeTimeout:  c.Link.HandshakeTimeout.Duration,
		DialRate:          c.Link.DialRate,
	}
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
