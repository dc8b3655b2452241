package transport_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flynn/noise"

	"pagelink/internal/transport"
)

func genKey(t *testing.T) noise.DHKey {
	t.Helper()
	kp, err := noise.DH25519.GenerateKeypair(nil)
	if err != nil {
		t.Fatalf("generate keypair: %v", err)
	}
	return kp
}

type recorder chan transport.Event

func (r recorder) HandleEvent(ev transport.Event) { r <- ev }

func startServer(t *testing.T, cfg transport.ServerConfig) (*transport.Server, recorder, noise.DHKey) {
	t.Helper()
	key := genKey(t)
	events := make(recorder, 64)
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}
	srv := transport.NewServer(cfg, key, events)
	if err := srv.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv, events, key
}

func waitEvent(t *testing.T, ch recorder, kind transport.EventKind) transport.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

func dial(t *testing.T, addr string, key noise.DHKey) *transport.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := transport.Dial(ctx, addr, key, transport.DialConfig{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServerExchange(t *testing.T) {
	srv, events, serverKey := startServer(t, transport.ServerConfig{})
	companionKey := genKey(t)
	conn := dial(t, srv.Addr(), companionKey)

	if !bytes.Equal(conn.RemoteStatic(), serverKey.Public) {
		t.Fatal("companion should learn the reader's static key")
	}
	connected := waitEvent(t, events, transport.PeerConnected)
	if connected.Peer == "" {
		t.Fatal("connected event should name the peer")
	}
	if n := srv.ConnectedPeers(); n != 1 {
		t.Fatalf("ConnectedPeers = %d, want 1", n)
	}

	// reader -> companion
	if err := srv.Send([]byte{0x01}); err != nil {
		t.Fatalf("server send: %v", err)
	}
	got, err := conn.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if !bytes.Equal(got, []byte{0x01}) {
		t.Fatalf("companion got %x", got)
	}

	// companion -> reader
	if err := conn.Send([]byte{0x10}); err != nil {
		t.Fatalf("companion send: %v", err)
	}
	ev := waitEvent(t, events, transport.FrameReceived)
	if !bytes.Equal(ev.Frame, []byte{0x10}) || ev.Peer != connected.Peer {
		t.Fatalf("frame event = %+v", ev)
	}

	_ = conn.Close()
	gone := waitEvent(t, events, transport.PeerDisconnected)
	if gone.Reason != transport.ReasonRemoteClosed {
		t.Errorf("disconnect reason = %d, want %d", gone.Reason, transport.ReasonRemoteClosed)
	}
	if n := srv.ConnectedPeers(); n != 0 {
		t.Fatalf("ConnectedPeers after close = %d", n)
	}
}

func TestServerSendWithoutPeer(t *testing.T) {
	srv, _, _ := startServer(t, transport.ServerConfig{})
	if err := srv.Send([]byte{0x01}); !errors.Is(err, transport.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := srv.Send(nil); !errors.Is(err, transport.ErrProtocol) {
		t.Fatalf("expected ErrProtocol for empty frame, got %v", err)
	}
}

func TestServerRejectsUntrusted(t *testing.T) {
	allowed := genKey(t)
	srv, events, _ := startServer(t, transport.ServerConfig{Trusted: [][]byte{allowed.Public}})

	stranger := dial(t, srv.Addr(), genKey(t))
	if _, err := stranger.Recv(); err == nil {
		t.Fatal("untrusted companion should be disconnected")
	}
	if n := srv.ConnectedPeers(); n != 0 {
		t.Fatalf("ConnectedPeers = %d, want 0", n)
	}

	dial(t, srv.Addr(), allowed)
	waitEvent(t, events, transport.PeerConnected)
}

func TestServerMaxPeers(t *testing.T) {
	srv, events, _ := startServer(t, transport.ServerConfig{MaxPeers: 1})

	dial(t, srv.Addr(), genKey(t))
	waitEvent(t, events, transport.PeerConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	second, err := transport.Dial(ctx, srv.Addr(), genKey(t), transport.DialConfig{})
	if err == nil {
		defer func() { _ = second.Close() }()
		if _, err := second.Recv(); err == nil {
			t.Fatal("second companion should be refused")
		}
	}
	if n := srv.ConnectedPeers(); n != 1 {
		t.Fatalf("ConnectedPeers = %d, want 1", n)
	}
}

func TestServerDialRate(t *testing.T) {
	srv, events, _ := startServer(t, transport.ServerConfig{MaxPeers: 4, DialRate: 0.01})

	dial(t, srv.Addr(), genKey(t))
	waitEvent(t, events, transport.PeerConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	second, err := transport.Dial(ctx, srv.Addr(), genKey(t), transport.DialConfig{})
	if err == nil {
		defer func() { _ = second.Close() }()
		if _, err := second.Recv(); err == nil {
			t.Fatal("second attempt from the same host should be refused")
		}
	}
	if n := srv.ConnectedPeers(); n != 1 {
		t.Fatalf("ConnectedPeers = %d, want 1", n)
	}
}

func TestServerIdleTimeout(t *testing.T) {
	srv, events, _ := startServer(t, transport.ServerConfig{IdleTimeout: 150 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Keepalives slower than the reader's idle timeout.
	c, err := transport.Dial(ctx, srv.Addr(), genKey(t), transport.DialConfig{KeepaliveInterval: time.Hour})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close() }()

	waitEvent(t, events, transport.PeerConnected)
	ev := waitEvent(t, events, transport.PeerDisconnected)
	if ev.Reason != transport.ReasonIdleTimeout {
		t.Fatalf("reason = %d, want %d", ev.Reason, transport.ReasonIdleTimeout)
	}
}

func TestServerKeepaliveHoldsLink(t *testing.T) {
	srv, events, _ := startServer(t, transport.ServerConfig{IdleTimeout: 300 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := transport.Dial(ctx, srv.Addr(), genKey(t), transport.DialConfig{KeepaliveInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = c.Close() }()
	waitEvent(t, events, transport.PeerConnected)

	time.Sleep(600 * time.Millisecond)
	if n := srv.ConnectedPeers(); n != 1 {
		t.Fatalf("link dropped despite keepalives: ConnectedPeers = %d", n)
	}
}

func TestServerStopDisconnects(t *testing.T) {
	srv, events, _ := startServer(t, transport.ServerConfig{})
	dial(t, srv.Addr(), genKey(t))
	waitEvent(t, events, transport.PeerConnected)

	srv.Stop()
	ev := waitEvent(t, events, transport.PeerDisconnected)
	if ev.Reason != transport.ReasonLocalShutdown {
		t.Fatalf("reason = %d, want %d", ev.Reason, transport.ReasonLocalShutdown)
	}
	if err := srv.Send([]byte{0x01}); !errors.Is(err, transport.ErrClosed) {
		t.Fatalf("send after stop: %v", err)
	}
}
