package session

import (
	"time"

	"pagelink/internal/codec"
)

const (
	DefaultMalformedThreshold = 8
	DefaultInboxSize          = 256
	DefaultReceiveTimeout     = 30 * time.Second
)

// Config tunes an Engine. Zero timeouts disable the matching deadline; a zero
// MalformedThreshold drops malformed frames without ever failing the session.
type Config struct {
	PageCapacity       int
	WaitForPeerTimeout time.Duration
	ReceiveListTimeout time.Duration
	ReceivePageTimeout time.Duration
	MalformedThreshold int
	InboxSize          int
	AckTransfers       bool // send ACKNOWLEDGE after LIST_END and PAGE_END
	CancelOnBack       bool // send CANCEL_TRANSFER when Back abandons a page
}

// DefaultConfig returns the settings for a 480x800 reader.
func DefaultConfig() Config {
	return Config{
		PageCapacity:       codec.DefaultPageCapacity,
		ReceiveListTimeout: DefaultReceiveTimeout,
		ReceivePageTimeout: DefaultReceiveTimeout,
		MalformedThreshold: DefaultMalformedThreshold,
		InboxSize:          DefaultInboxSize,
	}
}

func (c *Config) applyDefaults() {
	if c.PageCapacity <= 0 {
		c.PageCapacity = codec.DefaultPageCapacity
	}
	if c.InboxSize <= 0 {
		c.InboxSize = DefaultInboxSize
	}
	if c.MalformedThreshold < 0 {
		c.MalformedThreshold = 0
	}
}

// timeout returns the deadline length for s, 0 when s has none.
func (c *Config) timeout(s State) time.Duration {
	switch s {
	case WaitForPeer:
		return c.WaitForPeerTimeout
	case ReceivingList:
		return c.ReceiveListTimeout
	case ReceivingPage:
		return c.ReceivePageTimeout
	default:
		return 0
	}
}
