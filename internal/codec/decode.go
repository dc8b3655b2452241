package codec

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Message is one decoded inbound frame. Only the fields for Status are set.
type Message struct {
	Status Status

	Entry  Entry  // LIST_ENTRY
	Offset uint32 // PAGE_DATA
	Chunk  []byte // PAGE_DATA, aliases the frame
	Total  uint32 // PAGE_START, 0 when not declared
	Reason string // ERROR
}

// Decode parses one inbound frame. Short payloads yield an error wrapping
// ErrMalformed; unrecognized tags yield ErrUnknownStatus.
func Decode(frame []byte) (Message, error) {
	if len(frame) == 0 {
		return Message{}, ErrEmptyFrame
	}
	msg := Message{Status: Status(frame[0])}
	payload := frame[1:]

	switch msg.Status {
	case StatusOK, StatusListStart, StatusListEnd, StatusPageEnd:
		return msg, nil

	case StatusError:
		msg.Reason = decodeReason(payload)
		return msg, nil

	case StatusListEntry:
		e, err := decodeListEntry(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Entry = e
		return msg, nil

	case StatusPageStart:
		// A trailer too short for a total still starts the page, untotalled.
		if len(payload) >= 4 {
			msg.Total = binary.BigEndian.Uint32(payload[:4])
		}
		return msg, nil

	case StatusPageData:
		if len(payload) <= pageOffsetLen {
			return Message{}, malformed(msg.Status, "payload %d bytes, need > %d", len(payload), pageOffsetLen)
		}
		msg.Offset = binary.BigEndian.Uint32(payload[:pageOffsetLen])
		msg.Chunk = payload[pageOffsetLen:]
		return msg, nil

	default:
		return Message{}, fmt.Errorf("%w: 0x%02X", ErrUnknownStatus, frame[0])
	}
}

// decodeListEntry requires len(p) >= 1 + L1 + 1 + L2.
func decodeListEntry(p []byte) (Entry, error) {
	if len(p) < 2 {
		return Entry{}, malformed(StatusListEntry, "payload %d bytes, need >= 2", len(p))
	}
	idLen := int(p[0])
	if len(p) < 1+idLen+1 {
		return Entry{}, malformed(StatusListEntry, "id length %d exceeds payload", idLen)
	}
	id := string(p[1 : 1+idLen])
	titleLen := int(p[1+idLen])
	start := 1 + idLen + 1
	if len(p) < start+titleLen {
		return Entry{}, malformed(StatusListEntry, "title length %d exceeds payload", titleLen)
	}
	return Entry{ID: id, Title: string(p[start : start+titleLen])}, nil
}

func decodeReason(p []byte) string {
	if len(p) > MaxReasonLen {
		p = p[:MaxReasonLen]
	}
	s := strings.TrimSpace(string(p))
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "?")
	}
	return s
}

// Request is one decoded outbound command, as seen by the companion.
type Request struct {
	Command Command
	ID      string // REQUEST_PAGE
	Page    uint16 // REQUEST_PAGE
}

// DecodeCommand parses a command frame written by the reader.
func DecodeCommand(frame []byte) (Request, error) {
	if len(frame) == 0 {
		return Request{}, ErrEmptyFrame
	}
	req := Request{Command: Command(frame[0])}
	switch req.Command {
	case CmdRequestList, CmdAcknowledge, CmdCancelTransfer, CmdDisconnect:
		return req, nil
	case CmdRequestPage:
		p := frame[1:]
		if len(p) < 1 {
			return Request{}, malformed(req.Command, "missing id length")
		}
		idLen := int(p[0])
		if len(p) < 1+idLen+2 {
			return Request{}, malformed(req.Command, "payload %d bytes, need %d", len(p), 1+idLen+2)
		}
		req.ID = string(p[1 : 1+idLen])
		req.Page = binary.BigEndian.Uint16(p[1+idLen : 1+idLen+2])
		return req, nil
	default:
		return Request{}, fmt.Errorf("%w: 0x%02X", ErrUnknownCmd, frame[0])
	}
}
