// Package codec implements the pagelink wire messages: the commands the reader
// sends to the companion and the status frames the companion sends back.
//
// Every frame is one tag byte followed by a tag-specific payload. Multi-byte
// integers are big-endian.
package codec

import (
	"errors"
	"fmt"
)

// Command is an outbound (reader -> companion) tag.
type Command uint8

const (
	CmdRequestList    Command = 0x01
	CmdRequestPage    Command = 0x02 // idLen(1) + id + page(2)
	CmdAcknowledge    Command = 0x03
	CmdCancelTransfer Command = 0x04
	CmdDisconnect     Command = 0x05
)

// Status is an inbound (companion -> reader) tag.
type Status uint8

const (
	StatusOK        Status = 0x00
	StatusError     Status = 0x01 // optional UTF-8 reason
	StatusListStart Status = 0x10
	StatusListEntry Status = 0x11 // idLen(1) + id + titleLen(1) + title
	StatusListEnd   Status = 0x12
	StatusPageStart Status = 0x20 // optional total(4)
	StatusPageData  Status = 0x21 // offset(4) + chunk
	StatusPageEnd   Status = 0x22
)

const (
	// MaxIDLen is the longest entry ID a REQUEST_PAGE or LIST_ENTRY can carry.
	MaxIDLen = 255
	// MaxTitleLen is the longest title a LIST_ENTRY can carry.
	MaxTitleLen = 255
	// MaxReasonLen caps the reason text decoded from an ERROR frame.
	MaxReasonLen = 512

	pageOffsetLen = 4
)

var (
	ErrEmptyFrame    = errors.New("codec: empty frame")
	ErrMalformed     = errors.New("codec: malformed frame")
	ErrUnknownStatus = errors.New("codec: unknown status")
	ErrUnknownCmd    = errors.New("codec: unknown command")
	ErrIDTooLong     = errors.New("codec: id too long")
	ErrTitleTooLong  = errors.New("codec: title too long")
)

func (c Command) String() string {
	switch c {
	case CmdRequestList:
		return "REQUEST_LIST"
	case CmdRequestPage:
		return "REQUEST_PAGE"
	case CmdAcknowledge:
		return "ACKNOWLEDGE"
	case CmdCancelTransfer:
		return "CANCEL_TRANSFER"
	case CmdDisconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("CMD(0x%02X)", uint8(c))
	}
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusListStart:
		return "LIST_START"
	case StatusListEntry:
		return "LIST_ENTRY"
	case StatusListEnd:
		return "LIST_END"
	case StatusPageStart:
		return "PAGE_START"
	case StatusPageData:
		return "PAGE_DATA"
	case StatusPageEnd:
		return "PAGE_END"
	default:
		return fmt.Sprintf("STATUS(0x%02X)", uint8(s))
	}
}

// Entry is one catalog item as carried by LIST_ENTRY.
type Entry struct {
	ID    string
	Title string
}

// PageCapacity returns the worst-case size of a 2-bit page bitmap
// (two bit planes) for a width x height display.
func PageCapacity(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	return ((width*height + 7) / 8) * 2
}

// DefaultPageCapacity is PageCapacity(480, 800).
var DefaultPageCapacity = PageCapacity(480, 800)

func malformed(tag fmt.Stringer, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, tag, fmt.Sprintf(format, args...))
}
