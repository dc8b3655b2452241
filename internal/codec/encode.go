package codec

import (
	"encoding/binary"
	"fmt"
)

// EncodeRequestList returns a REQUEST_LIST frame.
func EncodeRequestList() []byte {
	return []byte{byte(CmdRequestList)}
}

// EncodeRequestPage returns a REQUEST_PAGE frame for page of entry id.
func EncodeRequestPage(id string, page uint16) ([]byte, error) {
	if len(id) > MaxIDLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrIDTooLong, len(id), MaxIDLen)
	}
	buf := make([]byte, 0, 1+1+len(id)+2)
	buf = append(buf, byte(CmdRequestPage), byte(len(id)))
	buf = append(buf, id...)
	buf = binary.BigEndian.AppendUint16(buf, page)
	return buf, nil
}

// EncodeAcknowledge returns an ACKNOWLEDGE frame.
func EncodeAcknowledge() []byte {
	return []byte{byte(CmdAcknowledge)}
}

// EncodeCancelTransfer returns a CANCEL_TRANSFER frame.
func EncodeCancelTransfer() []byte {
	return []byte{byte(CmdCancelTransfer)}
}

// EncodeDisconnect returns a DISCONNECT frame.
func EncodeDisconnect() []byte {
	return []byte{byte(CmdDisconnect)}
}

// Companion-side encoders.

// EncodeStatus returns a frame carrying only the status tag.
func EncodeStatus(s Status) []byte {
	return []byte{byte(s)}
}

// EncodeError returns an ERROR frame with an optional reason.
func EncodeError(reason string) []byte {
	if len(reason) > MaxReasonLen {
		reason = reason[:MaxReasonLen]
	}
	buf := make([]byte, 0, 1+len(reason))
	buf = append(buf, byte(StatusError))
	return append(buf, reason...)
}

// EncodeListEntry returns a LIST_ENTRY frame for e.
func EncodeListEntry(e Entry) ([]byte, error) {
	if len(e.ID) > MaxIDLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrIDTooLong, len(e.ID), MaxIDLen)
	}
	if len(e.Title) > MaxTitleLen {
		return nil, fmt.Errorf("%w: %d > %d", ErrTitleTooLong, len(e.Title), MaxTitleLen)
	}
	buf := make([]byte, 0, 3+len(e.ID)+len(e.Title))
	buf = append(buf, byte(StatusListEntry), byte(len(e.ID)))
	buf = append(buf, e.ID...)
	buf = append(buf, byte(len(e.Title)))
	return append(buf, e.Title...), nil
}

// EncodePageStart returns a PAGE_START frame. A zero total produces the bare
// tag, which is what older companions send.
func EncodePageStart(total uint32) []byte {
	if total == 0 {
		return EncodeStatus(StatusPageStart)
	}
	buf := make([]byte, 1, 5)
	buf[0] = byte(StatusPageStart)
	return binary.BigEndian.AppendUint32(buf, total)
}

// EncodePageData returns a PAGE_DATA frame placing chunk at offset.
func EncodePageData(offset uint32, chunk []byte) []byte {
	buf := make([]byte, 1, 1+pageOffsetLen+len(chunk))
	buf[0] = byte(StatusPageData)
	buf = binary.BigEndian.AppendUint32(buf, offset)
	return append(buf, chunk...)
}
