package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
)

// DialConfig tunes the companion end of the link.
type DialConfig struct {
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
}

// Conn is the companion end of the link: a single encrypted connection to a
// reader Server.
type Conn struct {
	sc           *secureConn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the reader at addr and completes the handshake as initiator.
func Dial(ctx context.Context, addr string, key noise.DHKey, cfg DialConfig) (*Conn, error) {
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}

	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	_ = raw.SetDeadline(time.Now().Add(cfg.HandshakeTimeout))
	sc, err := Handshake(raw, true, key)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	_ = raw.SetDeadline(time.Time{})

	c := &Conn{
		sc:           sc,
		writeTimeout: cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	go c.keepalive(cfg.KeepaliveInterval)
	return c, nil
}

// RemoteStatic returns the reader's X25519 static key.
func (c *Conn) RemoteStatic() []byte {
	return c.sc.PeerStatic()
}

// Send writes one frame. Safe for concurrent use.
func (c *Conn) Send(frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("%w: empty frame", ErrProtocol)
	}
	return c.write(frame)
}

// Recv blocks for the next non-keepalive frame.
func (c *Conn) Recv() ([]byte, error) {
	for {
		frame, err := ReadFrame(c.sc)
		if err != nil {
			select {
			case <-c.done:
				return nil, ErrClosed
			default:
				return nil, err
			}
		}
		if len(frame) > 0 {
			return frame, nil
		}
	}
}

// Close tears the connection down.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.sc.Close()
	})
	return err
}

func (c *Conn) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.sc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	return WriteFrame(c.sc, frame)
}

func (c *Conn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.write(nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
