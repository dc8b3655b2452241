package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// maxNoiseMsg bounds one encrypted message: a full frame plus the Poly1305 tag.
const maxNoiseMsg = MaxPayload + HeaderSize + 16

// secureConn encrypts every Write as one Noise transport message and
// decrypts on Read.
//
// Wire format per message: [4B ciphertext_len][ciphertext]
type secureConn struct {
	conn       net.Conn
	send       *noise.CipherState
	recv       *noise.CipherState
	readBuf    []byte
	writeMu    sync.Mutex
	peerStatic []byte // X25519
}

// Handshake runs a Noise XX handshake over conn with the given static key.
// The companion dials and initiates; the reader responds.
func Handshake(conn net.Conn, initiator bool, staticKey noise.DHKey) (*secureConn, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: staticKey,
	})
	if err != nil {
		return nil, fmt.Errorf("noise handshake config: %w", err)
	}

	// XX: -> e | <- e, ee, s, es | -> s, se
	var cs1, cs2 *noise.CipherState
	for step := 0; step < 3; step++ {
		writing := (step%2 == 0) == initiator
		if writing {
			var msg []byte
			msg, cs1, cs2, err = hs.WriteMessage(nil, nil)
			if err != nil {
				return nil, fmt.Errorf("noise write msg%d: %w", step+1, err)
			}
			if err := writeHandshakeMsg(conn, msg); err != nil {
				return nil, err
			}
			continue
		}
		msg, err := readHandshakeMsg(conn)
		if err != nil {
			return nil, err
		}
		if _, cs1, cs2, err = hs.ReadMessage(nil, msg); err != nil {
			return nil, fmt.Errorf("noise read msg%d: %w", step+1, err)
		}
	}
	if cs1 == nil || cs2 == nil {
		return nil, fmt.Errorf("noise handshake did not complete")
	}

	sc := &secureConn{conn: conn, peerStatic: hs.PeerStatic()}
	if initiator {
		sc.send, sc.recv = cs1, cs2
	} else {
		sc.send, sc.recv = cs2, cs1
	}
	return sc, nil
}

// PeerStatic returns the remote X25519 static key learned in the handshake.
func (sc *secureConn) PeerStatic() []byte {
	return sc.peerStatic
}

func (sc *secureConn) Write(p []byte) (int, error) {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	buf := make([]byte, 4, 4+len(p)+16)
	sealed, err := sc.send.Encrypt(buf, nil, p)
	if err != nil {
		return 0, fmt.Errorf("noise encrypt: %w", err)
	}
	binary.BigEndian.PutUint32(sealed[:4], uint32(len(sealed)-4))
	if _, err := sc.conn.Write(sealed); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (sc *secureConn) Read(p []byte) (int, error) {
	if len(sc.readBuf) > 0 {
		n := copy(p, sc.readBuf)
		sc.readBuf = sc.readBuf[n:]
		return n, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(sc.conn, lenBuf[:]); err != nil {
		return 0, err
	}
	msgLen := binary.BigEndian.Uint32(lenBuf[:])
	if msgLen > maxNoiseMsg {
		return 0, fmt.Errorf("%w: noise message %d > %d", ErrProtocol, msgLen, maxNoiseMsg)
	}

	ciphertext := make([]byte, msgLen)
	if _, err := io.ReadFull(sc.conn, ciphertext); err != nil {
		return 0, err
	}
	plaintext, err := sc.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return 0, fmt.Errorf("%w: noise decrypt: %v", ErrProtocol, err)
	}

	n := copy(p, plaintext)
	if n < len(plaintext) {
		sc.readBuf = plaintext[n:]
	}
	return n, nil
}

// SetReadDeadline applies to the underlying connection; it only matters when
// Read has to wait on the socket, which is the normal case between frames.
func (sc *secureConn) SetReadDeadline(t time.Time) error {
	return sc.conn.SetReadDeadline(t)
}

func (sc *secureConn) SetWriteDeadline(t time.Time) error {
	return sc.conn.SetWriteDeadline(t)
}

func (sc *secureConn) Close() error {
	return sc.conn.Close()
}

// Handshake message framing: [2B length][message]
func writeHandshakeMsg(w io.Writer, msg []byte) error {
	if len(msg) > 0xFFFF {
		return fmt.Errorf("handshake message too large: %d > %d", len(msg), 0xFFFF)
	}
	buf := make([]byte, 2+len(msg))
	binary.BigEndian.PutUint16(buf[:2], uint16(len(msg)))
	copy(buf[2:], msg)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("noise handshake write: %w", err)
	}
	return nil
}

func readHandshakeMsg(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("noise handshake read len: %w", err)
	}
	msg := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, fmt.Errorf("noise handshake read msg: %w", err)
	}
	return msg, nil
}
