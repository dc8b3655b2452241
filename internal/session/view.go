package session

import "pagelink/internal/codec"

// PageRef names one page of one catalog entry.
type PageRef struct {
	EntryID string
	Number  uint16
}

// View is a render snapshot. Catalog is a copy; Page aliases the engine's
// last completed page and must not be modified.
type View struct {
	SessionID string
	State     State
	Connected bool

	Catalog  []codec.Entry
	Cursor   int
	Received int // entries received so far while RECEIVING_LIST

	Error string

	PageRef      PageRef
	PageTitle    string
	Page         []byte
	PageComplete bool // declared total fully covered
	PageCoverage int
	PageExpected int // declared total, 0 when unknown
}

// Selected returns the highlighted entry, if any.
func (v View) Selected() (codec.Entry, bool) {
	if v.Cursor < 0 || v.Cursor >= len(v.Catalog) {
		return codec.Entry{}, false
	}
	return v.Catalog[v.Cursor], true
}

// Stats counts what the engine did with inbound traffic.
type Stats struct {
	Frames         uint64 // decoded and applied
	Malformed      uint64 // malformed frames, rejected chunks and inbox overflows
	Unknown        uint64 // unrecognized status tags
	Ignored        uint64 // valid frames not expected in the current state
	Stale          uint64 // page frames with no live buffer
	Overflows      uint64
	ChunksRejected uint64
	Lists          uint64
	Pages          uint64
}
