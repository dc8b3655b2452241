// Package reassembly accumulates the multi-frame payloads of a session: the
// catalog listing and the offset-addressed page transfer.
//
// A Reassembler is not safe for concurrent use; it is owned by the session
// polling loop.
package reassembly

import (
	"pagelink/internal/codec"
)

// WriteOutcome reports what WriteChunk did with a chunk.
type WriteOutcome int

const (
	WriteOK WriteOutcome = iota
	WriteOutOfBounds
	WriteNoPage // no BeginPage since the last EndPage
)

func (o WriteOutcome) String() string {
	switch o {
	case WriteOK:
		return "ok"
	case WriteOutOfBounds:
		return "out-of-bounds"
	case WriteNoPage:
		return "no-page"
	default:
		return "unknown"
	}
}

// Reassembler owns the catalog and page buffer lifecycles.
type Reassembler struct {
	catalog []codec.Entry

	page     []byte
	live     bool
	expected int // declared total, 0 if unknown
	extent   int // highest written end offset
	covered  intervals
}

// New returns an empty Reassembler.
func New() *Reassembler {
	return &Reassembler{}
}

// BeginList clears the catalog for a new listing.
func (r *Reassembler) BeginList() {
	r.catalog = r.catalog[:0]
}

// AddEntry appends one entry. Duplicate IDs are kept.
func (r *Reassembler) AddEntry(e codec.Entry) {
	r.catalog = append(r.catalog, e)
}

// EndList returns a copy of the catalog and the initial cursor:
// 0 for a non-empty catalog, -1 otherwise.
func (r *Reassembler) EndList() ([]codec.Entry, int) {
	out := make([]codec.Entry, len(r.catalog))
	copy(out, r.catalog)
	if len(out) == 0 {
		return out, -1
	}
	return out, 0
}

// Len returns the number of entries received so far.
func (r *Reassembler) Len() int {
	return len(r.catalog)
}

// BeginPage starts a fresh page of the given capacity, dropping any previous
// buffer and coverage.
func (r *Reassembler) BeginPage(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	if cap(r.page) >= capacity {
		r.page = r.page[:capacity]
		clear(r.page)
	} else {
		r.page = make([]byte, capacity)
	}
	r.live = true
	r.expected = 0
	r.extent = 0
	r.covered = r.covered[:0]
}

// SetExpected records the total page length declared by the peer. Values
// beyond capacity are clamped.
func (r *Reassembler) SetExpected(total int) {
	if total > len(r.page) {
		total = len(r.page)
	}
	if total < 0 {
		total = 0
	}
	r.expected = total
}

// WriteChunk copies data at offset. A chunk that does not fit inside the
// capacity is rejected whole. Overlapping writes replace earlier bytes.
func (r *Reassembler) WriteChunk(offset uint32, data []byte) WriteOutcome {
	if !r.live {
		return WriteNoPage
	}
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(r.page)) {
		return WriteOutOfBounds
	}
	if len(data) == 0 {
		return WriteOK
	}
	start := int(offset)
	copy(r.page[start:], data)
	r.covered = r.covered.add(start, int(end))
	if int(end) > r.extent {
		r.extent = int(end)
	}
	return WriteOK
}

// Coverage returns how many distinct bytes have been written.
func (r *Reassembler) Coverage() int {
	return r.covered.size()
}

// Complete reports whether the declared total is fully covered. It is false
// when no total was declared, since completeness cannot be observed then.
func (r *Reassembler) Complete() bool {
	if r.expected == 0 {
		return false
	}
	return r.covered.covers(0, r.expected)
}

// Expected returns the declared total, 0 when unknown.
func (r *Reassembler) Expected() int {
	return r.expected
}

// EndPage closes the page and returns a copy of its bytes: up to the declared
// total when known, else up to the highest written offset.
func (r *Reassembler) EndPage() []byte {
	n := r.extent
	if r.expected > 0 {
		n = r.expected
	}
	out := make([]byte, n)
	copy(out, r.page[:n])
	r.live = false
	return out
}

// Abandon drops the live page without producing output. Later chunks are
// answered with WriteNoPage.
func (r *Reassembler) Abandon() {
	r.live = false
}

// Live reports whether a page is being assembled.
func (r *Reassembler) Live() bool {
	return r.live
}
