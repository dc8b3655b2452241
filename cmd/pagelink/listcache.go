package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"pagelink/internal/cache"
	"pagelink/internal/session"
	boltstore "pagelink/internal/store/bolt"
	"pagelink/internal/ui"
)

const previewCols = 48

// listCache prints what the page cache at path holds. The database is opened
// read-only and cannot be listed while a reader has it open.
func listCache(path string, out io.Writer) error {
	st, err := boltstore.Open(path, true)
	if err != nil {
		return err
	}
	defer st.Close()

	c := cache.New(st)
	entries, storedAt, err := c.Catalog()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "Catalog: (empty)")
	} else {
		fmt.Fprintf(out, "Catalog (%d entries, stored %s):\n", len(entries), storedAt.Format(time.DateTime))
		for _, e := range entries {
			fmt.Fprintf(out, "  %-24s %s\n", e.ID, e.Title)
		}
	}

	pages, err := c.Pages()
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		fmt.Fprintln(out, "Pages: (empty)")
		return nil
	}
	fmt.Fprintf(out, "Pages (%d):\n", len(pages))
	for _, p := range pages {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return nil
}

// parsePageRef reads ENTRY#N. The entry id may itself contain '#'.
func parsePageRef(s string) (session.PageRef, error) {
	i := strings.LastIndexByte(s, '#')
	if i <= 0 {
		return session.PageRef{}, fmt.Errorf("page %q: want ENTRY#N", s)
	}
	n, err := strconv.ParseUint(s[i+1:], 10, 16)
	if err != nil {
		return session.PageRef{}, fmt.Errorf("page %q: %w", s, err)
	}
	return session.PageRef{EntryID: s[:i], Number: uint16(n)}, nil
}

// showCachedPage prints one cached page as a block preview of a width x
// height display.
func showCachedPage(path, ref string, width, height int, out io.Writer) error {
	r, err := parsePageRef(ref)
	if err != nil {
		return err
	}
	st, err := boltstore.Open(path, true)
	if err != nil {
		return err
	}
	defer st.Close()

	p, ok, err := cache.New(st).Page(r)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("page %s#%d is not cached", r.EntryID, r.Number)
	}
	fmt.Fprintln(out, p)
	rows := max(previewCols*height/width/2, 1)
	fmt.Fprintln(out, ui.Preview(p.Data, width, height, previewCols, rows))
	return nil
}
