package transport

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultIdleTimeout       = 60 * time.Second
	defaultKeepaliveInterval = 20 * time.Second
	defaultWriteTimeout      = 10 * time.Second
	defaultHandshakeTimeout  = 10 * time.Second
	defaultSendQueue         = 64
)

// peer is one accepted companion connection.
type peer struct {
	id   string
	conn *secureConn

	sendCh chan []byte
	done   chan struct{}

	idleTimeout       time.Duration
	keepaliveInterval time.Duration
	writeTimeout      time.Duration

	closeOnce sync.Once
	reason    atomic.Int32
}

func newPeer(conn *secureConn, cfg ServerConfig) *peer {
	p := &peer{
		id:                shortKey(conn.PeerStatic()),
		conn:              conn,
		sendCh:            make(chan []byte, cfg.SendQueue),
		done:              make(chan struct{}),
		idleTimeout:       cfg.IdleTimeout,
		keepaliveInterval: cfg.KeepaliveInterval,
		writeTimeout:      cfg.WriteTimeout,
	}
	p.reason.Store(-1)
	return p
}

// run drives the send and receive loops until either fails, then returns the
// disconnect reason. onFrame is called from the receive goroutine.
func (p *peer) run(onFrame func([]byte)) int {
	errs := make(chan error, 2)
	go func() { errs <- p.sendLoop() }()
	go func() { errs <- p.recvLoop(onFrame) }()

	first := <-errs
	p.setReason(classify(first))
	p.close()
	<-errs
	return int(p.reason.Load())
}

// enqueue queues a frame without blocking.
func (p *peer) enqueue(frame []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.sendCh <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes the connection locally.
func (p *peer) shutdown() {
	p.setReason(ReasonLocalShutdown)
	p.close()
}

func (p *peer) setReason(r int) {
	p.reason.CompareAndSwap(-1, int32(r))
}

func (p *peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		_ = p.conn.Close()
	})
}

func (p *peer) write(frame []byte) error {
	if err := p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := WriteFrame(p.conn, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func (p *peer) sendLoop() error {
	timer := time.NewTimer(p.keepaliveInterval)
	defer timer.Stop()
	for {
		select {
		case frame := <-p.sendCh:
			if err := p.write(frame); err != nil {
				return err
			}
			timer.Reset(p.keepaliveInterval)
		case <-timer.C:
			if err := p.write(nil); err != nil {
				return err
			}
			timer.Reset(p.keepaliveInterval)
		case <-p.done:
			return nil
		}
	}
}

func (p *peer) recvLoop(onFrame func([]byte)) error {
	for {
		if err := p.conn.SetReadDeadline(time.Now().Add(p.idleTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		frame, err := ReadFrame(p.conn)
		if err != nil {
			select {
			case <-p.done:
				return nil
			default:
				return err
			}
		}
		if len(frame) == 0 {
			continue // keepalive
		}
		onFrame(frame)
	}
}

func classify(err error) int {
	if err == nil {
		return ReasonLocalShutdown
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return ReasonIdleTimeout
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrFrameTooLarge):
		return ReasonProtocolError
	default:
		// EOF, reset, closed socket
		return ReasonRemoteClosed
	}
}

func shortKey(k []byte) string {
	s := hex.EncodeToString(k)
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
