package companion

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"pagelink/internal/codec"
)

var ErrNotFound = errors.New("companion: not found")

// Library is what a companion serves: a catalog of entries, each with
// numbered pages of pre-rendered bitmap data.
type Library interface {
	Entries() ([]codec.Entry, error)
	Page(id string, n uint16) ([]byte, error)
}

// MemLibrary is an in-memory Library.
type MemLibrary struct {
	mu      sync.RWMutex
	entries []codec.Entry
	pages   map[string][][]byte
}

func NewMemLibrary() *MemLibrary {
	return &MemLibrary{pages: make(map[string][][]byte)}
}

// Add appends an entry and its pages. Adding an existing ID appends a
// duplicate catalog entry and replaces the pages.
func (m *MemLibrary) Add(e codec.Entry, pages ...[]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	m.pages[e.ID] = pages
}

func (m *MemLibrary) Entries() ([]codec.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]codec.Entry(nil), m.entries...), nil
}

func (m *MemLibrary) Page(id string, n uint16) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pages, ok := m.pages[id]
	if !ok {
		return nil, fmt.Errorf("%w: entry %q", ErrNotFound, id)
	}
	if int(n) >= len(pages) {
		return nil, fmt.Errorf("%w: page %d of %q (has %d)", ErrNotFound, n, id, len(pages))
	}
	return pages[n], nil
}

// TitleFile holds an entry's display title inside its directory.
const TitleFile = "title.txt"

// DirLibrary serves a directory tree: one subdirectory per entry, named by
// its ID, holding an optional title.txt and page files ordered by name.
type DirLibrary struct {
	root string
}

func NewDirLibrary(root string) *DirLibrary {
	return &DirLibrary{root: root}
}

func (d *DirLibrary) Entries() ([]codec.Entry, error) {
	dirents, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("reading library: %w", err)
	}
	var out []codec.Entry
	for _, de := range dirents {
		if !de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		id := de.Name()
		if len(id) > codec.MaxIDLen {
			clog.Warn("skipping entry with long id", "id", id)
			continue
		}
		out = append(out, codec.Entry{ID: id, Title: d.title(id)})
	}
	return out, nil
}

func (d *DirLibrary) title(id string) string {
	data, err := os.ReadFile(filepath.Join(d.root, id, TitleFile))
	if err != nil {
		return id
	}
	title := strings.TrimSpace(string(data))
	if title == "" {
		return id
	}
	if len(title) > codec.MaxTitleLen {
		title = title[:codec.MaxTitleLen]
	}
	return title
}

func (d *DirLibrary) Page(id string, n uint16) ([]byte, error) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return nil, fmt.Errorf("%w: entry %q", ErrNotFound, id)
	}
	dir := filepath.Join(d.root, id)
	names, err := pageFiles(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: entry %q", ErrNotFound, id)
		}
		return nil, err
	}
	if int(n) >= len(names) {
		return nil, fmt.Errorf("%w: page %d of %q (has %d)", ErrNotFound, n, id, len(names))
	}
	data, err := os.ReadFile(filepath.Join(dir, names[n]))
	if err != nil {
		return nil, fmt.Errorf("reading page: %w", err)
	}
	return data, nil
}

func pageFiles(dir string) ([]string, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, de := range dirents {
		name := de.Name()
		if !de.Type().IsRegular() || name == TitleFile || strings.HasPrefix(name, ".") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
