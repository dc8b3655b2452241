// Package cache records the last catalog and the completed pages a reader
// received, for listing and previewing after the session.
package cache

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"pagelink/internal/codec"
	"pagelink/internal/logging"
	"pagelink/internal/session"
	"pagelink/internal/store"
)

var (
	bucketCatalog = []byte("catalog")
	bucketPages   = []byte("pages")
)

const DefaultMaxPages = 64

var cachelog = logging.For("cache")

// Cache stores catalogs and pages in a store.Store. It implements
// session.CatalogSink and session.PageSink.
type Cache struct {
	st       store.Store
	maxPages int
	now      func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxPages caps the number of stored pages; the oldest go first.
// Zero or less keeps everything.
func WithMaxPages(n int) Option {
	return func(c *Cache) { c.maxPages = n }
}

// WithClock replaces time.Now for stored-at stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(st store.Store, opts ...Option) *Cache {
	c := &Cache{st: st, maxPages: DefaultMaxPages, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ session.CatalogSink = (*Cache)(nil)
	_ session.PageSink    = (*Cache)(nil)
)

// PutCatalog replaces the stored catalog.
func (c *Cache) PutCatalog(entries []codec.Entry) error {
	now := c.now()
	items := make(map[string][]byte, len(entries))
	for i, e := range entries {
		items[string(indexKey(i))] = marshalEntry(entryRecord{entry: e, storedAt: now})
	}
	if err := c.st.Replace(bucketCatalog, items); err != nil {
		return fmt.Errorf("storing catalog: %w", err)
	}
	cachelog.Debug("catalog stored", "entries", len(entries))
	return nil
}

// Catalog returns the stored catalog in its original order and when it was
// stored. An empty cache returns no entries and the zero time.
func (c *Cache) Catalog() ([]codec.Entry, time.Time, error) {
	var (
		out      []codec.Entry
		storedAt time.Time
	)
	err := c.st.ForEach(bucketCatalog, func(_, v []byte) error {
		r, err := unmarshalEntry(v)
		if err != nil {
			return err
		}
		out = append(out, r.entry)
		storedAt = r.storedAt
		return nil
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("reading catalog: %w", err)
	}
	return out, storedAt, nil
}

// Page is one stored page.
type Page struct {
	Ref      session.PageRef
	Data     []byte
	Size     int
	StoredAt time.Time
}

// PutPage stores a completed page, then prunes the oldest pages over the cap.
func (c *Cache) PutPage(ref session.PageRef, data []byte) error {
	rec := pageRecord{entryID: ref.EntryID, number: ref.Number, data: data, storedAt: c.now()}
	if err := c.st.Put(bucketPages, pageKey(ref), marshalPage(rec)); err != nil {
		return fmt.Errorf("storing page: %w", err)
	}
	cachelog.Debug("page stored", "entry", ref.EntryID, "page", ref.Number, "bytes", len(data))
	return c.prune()
}

// Page returns a stored page. ok is false when it is not cached.
func (c *Cache) Page(ref session.PageRef) (Page, bool, error) {
	v, err := c.st.Get(bucketPages, pageKey(ref))
	if err != nil {
		return Page{}, false, fmt.Errorf("reading page: %w", err)
	}
	if v == nil {
		return Page{}, false, nil
	}
	r, size, err := unmarshalPage(v, true)
	if err != nil {
		return Page{}, false, err
	}
	return Page{
		Ref:      session.PageRef{EntryID: r.entryID, Number: r.number},
		Data:     r.data,
		Size:     size,
		StoredAt: r.storedAt,
	}, true, nil
}

// Pages lists stored pages without their data, ordered by entry then number.
func (c *Cache) Pages() ([]Page, error) {
	var out []Page
	err := c.st.ForEach(bucketPages, func(_, v []byte) error {
		r, size, err := unmarshalPage(v, false)
		if err != nil {
			return err
		}
		out = append(out, Page{
			Ref:      session.PageRef{EntryID: r.entryID, Number: r.number},
			Size:     size,
			StoredAt: r.storedAt,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing pages: %w", err)
	}
	return out, nil
}

func (c *Cache) prune() error {
	if c.maxPages <= 0 {
		return nil
	}
	n, err := c.st.Count(bucketPages)
	if err != nil || n <= c.maxPages {
		return err
	}
	pages, err := c.Pages()
	if err != nil {
		return err
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].StoredAt.Before(pages[j].StoredAt)
	})
	for _, p := range pages[:len(pages)-c.maxPages] {
		if err := c.st.Delete(bucketPages, pageKey(p.Ref)); err != nil {
			return fmt.Errorf("pruning page: %w", err)
		}
	}
	cachelog.Debug("pages pruned", "removed", len(pages)-c.maxPages)
	return nil
}

// pageKey is id NUL number(2, big-endian), so pages of an entry sort in order.
func pageKey(ref session.PageRef) []byte {
	k := make([]byte, 0, len(ref.EntryID)+3)
	k = append(k, ref.EntryID...)
	k = append(k, 0)
	return binary.BigEndian.AppendUint16(k, ref.Number)
}

func indexKey(i int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(i))
}

// String renders a listing line for a page.
func (p Page) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s #%d  %d bytes", p.Ref.EntryID, p.Ref.Number, p.Size)
	if !p.StoredAt.IsZero() {
		fmt.Fprintf(&b, "  %s", p.StoredAt.Format(time.DateTime))
	}
	return b.String()
}
