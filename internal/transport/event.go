// Package transport carries pagelink frames between the reader and its
// companion: a Noise-encrypted, length-framed message link over TCP.
//
// The reader side is a Server that accepts companion connections and reports
// them as typed Events to a Handler. Handlers are called from per-connection
// goroutines, never from the caller's goroutine.
package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected   = errors.New("transport: no peer connected")
	ErrSendBufferFull = errors.New("transport: send buffer full")
	ErrFrameTooLarge  = errors.New("transport: frame too large")
	ErrProtocol       = errors.New("transport: protocol violation")
	ErrUntrustedPeer  = errors.New("transport: untrusted peer key")
	ErrClosed         = errors.New("transport: closed")
)

// EventKind identifies an Event.
type EventKind int

const (
	PeerConnected EventKind = iota + 1
	PeerDisconnected
	FrameReceived
)

func (k EventKind) String() string {
	switch k {
	case PeerConnected:
		return "peer-connected"
	case PeerDisconnected:
		return "peer-disconnected"
	case FrameReceived:
		return "frame-received"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Disconnect reasons carried by PeerDisconnected.
const (
	ReasonRemoteClosed  = 0
	ReasonIdleTimeout   = 1
	ReasonLocalShutdown = 2
	ReasonProtocolError = 3
)

// Event is one link notification.
type Event struct {
	Kind   EventKind
	Peer   string // short peer key fingerprint
	Reason int    // PeerDisconnected
	Frame  []byte // FrameReceived; owned by the receiver
}

// Handler consumes link events. HandleEvent must not block.
type Handler interface {
	HandleEvent(Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(Event)

func (f HandlerFunc) HandleEvent(ev Event) { f(ev) }
