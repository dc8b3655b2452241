package cache

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"pagelink/internal/codec"
)

// Record field numbers. Both records are plain protobuf messages so the
// cache can be inspected with standard tooling.
//
//	message Entry { string id = 1; string title = 2; int64 stored_at = 3; }
//	message Page  { string entry_id = 1; uint32 number = 2; bytes data = 3; int64 stored_at = 4; }
const (
	fieldEntryID       protowire.Number = 1
	fieldEntryTitle    protowire.Number = 2
	fieldEntryStoredAt protowire.Number = 3

	fieldPageEntryID  protowire.Number = 1
	fieldPageNumber   protowire.Number = 2
	fieldPageData     protowire.Number = 3
	fieldPageStoredAt protowire.Number = 4
)

var ErrCorrupt = errors.New("cache: corrupt record")

type entryRecord struct {
	entry    codec.Entry
	storedAt time.Time
}

func marshalEntry(r entryRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldEntryID, protowire.BytesType)
	b = protowire.AppendString(b, r.entry.ID)
	b = protowire.AppendTag(b, fieldEntryTitle, protowire.BytesType)
	b = protowire.AppendString(b, r.entry.Title)
	b = protowire.AppendTag(b, fieldEntryStoredAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.storedAt.UnixNano()))
	return b
}

func unmarshalEntry(b []byte) (entryRecord, error) {
	var r entryRecord
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldEntryID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.entry.ID = v
			return n, nil
		case num == fieldEntryTitle && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.entry.Title = v
			return n, nil
		case num == fieldEntryStoredAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.storedAt = time.Unix(0, int64(v))
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, err
}

type pageRecord struct {
	entryID  string
	number   uint16
	data     []byte
	storedAt time.Time
}

func marshalPage(r pageRecord) []byte {
	b := make([]byte, 0, len(r.data)+len(r.entryID)+32)
	b = protowire.AppendTag(b, fieldPageEntryID, protowire.BytesType)
	b = protowire.AppendString(b, r.entryID)
	b = protowire.AppendTag(b, fieldPageNumber, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.number))
	b = protowire.AppendTag(b, fieldPageData, protowire.BytesType)
	b = protowire.AppendBytes(b, r.data)
	b = protowire.AppendTag(b, fieldPageStoredAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.storedAt.UnixNano()))
	return b
}

// unmarshalPage decodes a page record. With withData false the page bytes
// are skipped, which is all a listing needs.
func unmarshalPage(b []byte, withData bool) (pageRecord, int, error) {
	var r pageRecord
	size := 0
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldPageEntryID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			r.entryID = v
			return n, nil
		case num == fieldPageNumber && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if v > 0xFFFF {
				return 0, fmt.Errorf("%w: page number %d", ErrCorrupt, v)
			}
			r.number = uint16(v)
			return n, nil
		case num == fieldPageData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			size = len(v)
			if withData {
				r.data = append([]byte(nil), v...)
			}
			return n, nil
		case num == fieldPageStoredAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			r.storedAt = time.Unix(0, int64(v))
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return r, size, err
}

// walk calls field for every field in b. field consumes the value and
// returns its length, negative on a protowire error.
func walk(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrCorrupt, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}
