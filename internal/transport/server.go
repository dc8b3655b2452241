package transport

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"

	"pagelink/internal/logging"
)

var tlog = logging.For("transport")

// ServerConfig tunes the reader-side link.
type ServerConfig struct {
	Listen            string
	MaxPeers          int      // 0 means unlimited
	Trusted           [][]byte // X25519 keys allowed to connect; empty allows any
	IdleTimeout       time.Duration
	KeepaliveInterval time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	SendQueue         int
	DialRate          float64 // connection attempts per second per host; 0 disables
}

func (c *ServerConfig) applyDefaults() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = defaultKeepaliveInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
}

// Server is the reader end of the link. Companions connect to it; it reports
// them to its Handler and fans outbound frames out to every connected peer.
type Server struct {
	cfg     ServerConfig
	key     noise.DHKey
	handler Handler
	limiter *dialLimiter

	mu       sync.Mutex
	peers    map[string]*peer
	listener net.Listener

	// evMu orders peer membership changes with their events, so a reconnect
	// is never reported before the previous disconnect.
	evMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

// NewServer creates a link server. h receives every Event; it may be nil
// until SetHandler is called, in which case events are dropped.
func NewServer(cfg ServerConfig, key noise.DHKey, h Handler) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		key:     key,
		handler: h,
		peers:   make(map[string]*peer),
		done:    make(chan struct{}),
	}
	if cfg.DialRate > 0 {
		s.limiter = newDialLimiter(cfg.DialRate)
	}
	return s
}

// SetHandler replaces the event handler.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("transport listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	return nil
}

// Serve accepts companions until ctx is done or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("transport: Serve before Listen")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
				tlog.Warn("accept error", "err", err)
				continue
			}
		}
		go s.handleInbound(conn)
	}
}

// Start is Listen followed by Serve.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Stop closes the listener and every peer.
func (s *Server) Stop() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for _, p := range s.peers {
			p.shutdown()
		}
		s.mu.Unlock()
	})
}

// Addr returns the bound address, empty before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ConnectedPeers returns the number of companions past the handshake.
func (s *Server) ConnectedPeers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Send queues frame for every connected peer. It never blocks: the frame is
// accepted for queuing or an error is returned.
func (s *Server) Send(frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("%w: empty frame", ErrProtocol)
	}
	if len(frame) > MaxPayload {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), MaxPayload)
	}
	data := bytes.Clone(frame)

	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	if len(s.peers) == 0 {
		return ErrNotConnected
	}
	var full bool
	for _, p := range s.peers {
		if !p.enqueue(data) {
			tlog.Warn("send buffer full", "peer", p.id)
			full = true
		}
	}
	if full {
		return ErrSendBufferFull
	}
	return nil
}

func (s *Server) handleInbound(conn net.Conn) {
	if s.limiter != nil && !s.limiter.allow(remoteHost(conn)) {
		tlog.Warn("rejecting companion: too many attempts", "remote", conn.RemoteAddr())
		_ = conn.Close()
		return
	}
	if s.atCapacity() {
		tlog.Info("rejecting companion: at capacity", "remote", conn.RemoteAddr())
		_ = conn.Close()
		return
	}

	_ = conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	sc, err := Handshake(conn, false, s.key)
	if err != nil {
		tlog.Warn("companion handshake failed", "remote", conn.RemoteAddr(), "err", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	if !s.trusted(sc.PeerStatic()) {
		tlog.Warn("rejecting companion", "remote", conn.RemoteAddr(), "err", ErrUntrustedPeer)
		_ = sc.Close()
		return
	}

	p := newPeer(sc, s.cfg)
	s.evMu.Lock()
	if reason := s.addPeer(p); reason != "" {
		s.evMu.Unlock()
		tlog.Info("rejecting companion", "peer", p.id, "reason", reason)
		_ = sc.Close()
		return
	}
	tlog.Info("companion connected", "peer", p.id, "remote", conn.RemoteAddr())
	s.emitLocked(Event{Kind: PeerConnected, Peer: p.id})
	s.evMu.Unlock()

	reason := p.run(func(frame []byte) {
		s.evMu.Lock()
		s.emitLocked(Event{Kind: FrameReceived, Peer: p.id, Frame: frame})
		s.evMu.Unlock()
	})

	s.evMu.Lock()
	s.removePeer(p.id)
	tlog.Info("companion disconnected", "peer", p.id, "reason", reason)
	s.emitLocked(Event{Kind: PeerDisconnected, Peer: p.id, Reason: reason})
	s.evMu.Unlock()
}

func remoteHost(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// emitLocked delivers ev to the handler. Callers hold evMu.
func (s *Server) emitLocked(ev Event) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		h.HandleEvent(ev)
	}
}

func (s *Server) atCapacity() bool {
	if s.cfg.MaxPeers <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers) >= s.cfg.MaxPeers
}

func (s *Server) trusted(key []byte) bool {
	if len(s.cfg.Trusted) == 0 {
		return true
	}
	for _, k := range s.cfg.Trusted {
		if bytes.Equal(k, key) {
			return true
		}
	}
	return false
}

// addPeer registers p. Returns "" on success, or a reason on rejection.
func (s *Server) addPeer(p *peer) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return "shutting down"
	default:
	}
	if _, exists := s.peers[p.id]; exists {
		return "duplicate"
	}
	if s.cfg.MaxPeers > 0 && len(s.peers) >= s.cfg.MaxPeers {
		return "max peers reached"
	}
	s.peers[p.id] = p
	return ""
}

func (s *Server) removePeer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, id)
}
