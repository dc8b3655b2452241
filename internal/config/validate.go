package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"pagelink/internal/codec"
	"pagelink/internal/crypto"
)

// Validate reports every invalid field at once, each prefixed with its
// section.key name.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, err error) {
		errs = append(errs, fmt.Errorf("%s: %w", field, err))
	}

	if strings.TrimSpace(c.Device.DataDir) == "" {
		add("device.data_dir", errors.New("must not be empty"))
	}

	if err := validateListenAddr(c.Link.Listen); err != nil {
		add("link.listen", err)
	}
	if c.Link.MaxPeers < 0 {
		add("link.max_peers", fmt.Errorf("must not be negative, got %d", c.Link.MaxPeers))
	}
	for i, k := range c.Link.Trusted {
		if _, err := crypto.ParseLinkKey(k); err != nil {
			add(fmt.Sprintf("link.trusted[%d]", i), err)
		}
	}
	nonNegative(add, "link.idle_timeout", c.Link.IdleTimeout)
	nonNegative(add, "link.keepalive_interval", c.Link.KeepaliveInterval)
	nonNegative(add, "link.handshake_timeout", c.Link.HandshakeTimeout)
	if c.Link.DialRate < 0 {
		add("link.dial_rate", fmt.Errorf("must not be negative, got %g", c.Link.DialRate))
	}

	if c.Display.Width <= 0 || c.Display.Height <= 0 {
		add("display", fmt.Errorf("size must be positive, got %dx%d", c.Display.Width, c.Display.Height))
	} else if n := codec.PageCapacity(c.Display.Width, c.Display.Height); n > 1<<24 {
		add("display", fmt.Errorf("page of %d bytes is too large", n))
	}

	nonNegative(add, "session.wait_for_peer_timeout", c.Session.WaitForPeerTimeout)
	nonNegative(add, "session.receive_list_timeout", c.Session.ReceiveListTimeout)
	nonNegative(add, "session.receive_page_timeout", c.Session.ReceivePageTimeout)
	if c.Session.MalformedThreshold < 0 {
		add("session.malformed_threshold", fmt.Errorf("must not be negative, got %d", c.Session.MalformedThreshold))
	}
	if c.Session.InboxSize < 0 {
		add("session.inbox_size", fmt.Errorf("must not be negative, got %d", c.Session.InboxSize))
	}
	if c.Session.TickInterval.Duration <= 0 {
		add("session.tick_interval", fmt.Errorf("must be positive, got %s", c.Session.TickInterval))
	}

	if c.Cache.MaxPages < 0 {
		add("cache.max_pages", fmt.Errorf("must not be negative, got %d", c.Cache.MaxPages))
	}

	if err := validateLogLevel(c.Logging.Level); err != nil {
		add("logging.level", err)
	}
	if err := validateLogFormat(c.Logging.Format); err != nil {
		add("logging.format", err)
	}

	return errors.Join(errs...)
}

func nonNegative(add func(string, error), field string, d Duration) {
	if d.Duration < 0 {
		add(field, fmt.Errorf("must not be negative, got %s", d.Duration))
	}
}

func validateListenAddr(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return errors.New("address is empty")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if host == "" {
		return errors.New("host is empty, use 0.0.0.0 to listen on all interfaces")
	}
	if port == "" {
		return errors.New("port is empty")
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug", "info", "warn", "warning", "error":
		return nil
	}
	return fmt.Errorf("unknown level %q", level)
}

func validateLogFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q", format)
}
