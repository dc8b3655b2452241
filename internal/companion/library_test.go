package companion

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"pagelink/internal/codec"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirLibrary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b-vol2", TitleFile), []byte("  Volume Two\n"))
	writeFile(t, filepath.Join(root, "b-vol2", "002.xth"), []byte{2})
	writeFile(t, filepath.Join(root, "b-vol2", "001.xth"), []byte{1})
	writeFile(t, filepath.Join(root, "a-vol1", "p.xth"), []byte{9})
	writeFile(t, filepath.Join(root, ".hidden", "p.xth"), []byte{0})
	writeFile(t, filepath.Join(root, "stray.txt"), []byte("x"))

	lib := NewDirLibrary(root)
	entries, err := lib.Entries()
	if err != nil {
		t.Fatal(err)
	}
	want := []codec.Entry{{ID: "a-vol1", Title: "a-vol1"}, {ID: "b-vol2", Title: "Volume Two"}}
	if len(entries) != len(want) || entries[0] != want[0] || entries[1] != want[1] {
		t.Fatalf("entries = %+v, want %+v", entries, want)
	}

	for n, wantByte := range []byte{1, 2} {
		got, err := lib.Page("b-vol2", uint16(n))
		if err != nil {
			t.Fatalf("page %d: %v", n, err)
		}
		if !bytes.Equal(got, []byte{wantByte}) {
			t.Fatalf("page %d = % x", n, got)
		}
	}

	if _, err := lib.Page("b-vol2", 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("past last page: %v", err)
	}
	if _, err := lib.Page("missing", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing entry: %v", err)
	}
	if _, err := lib.Page("../etc", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("path escape: %v", err)
	}
}

func TestDirLibraryMissingRoot(t *testing.T) {
	lib := NewDirLibrary(filepath.Join(t.TempDir(), "nope"))
	if _, err := lib.Entries(); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestMemLibrary(t *testing.T) {
	lib := NewMemLibrary()
	lib.Add(codec.Entry{ID: "1", Title: "One"}, []byte{1}, []byte{2})
	lib.Add(codec.Entry{ID: "1", Title: "One again"})

	entries, _ := lib.Entries()
	if len(entries) != 2 {
		t.Fatalf("duplicates should be kept: %+v", entries)
	}
	if _, err := lib.Page("1", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("re-adding replaces pages: %v", err)
	}
}
