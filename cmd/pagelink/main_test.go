package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagelink/internal/cache"
	"pagelink/internal/codec"
	"pagelink/internal/session"
	boltstore "pagelink/internal/store/bolt"
)

type scriptEngine struct {
	view   session.View
	ticks  int
	inputs []session.Input
	exited bool
	dirty  bool
}

func (e *scriptEngine) Tick() {
	e.ticks++
	if e.ticks == 1 {
		e.dirty = true
	}
}

func (e *scriptEngine) HandleInput(in session.Input) {
	e.inputs = append(e.inputs, in)
	if in == session.Back {
		e.exited = true
		e.dirty = true
	}
}

func (e *scriptEngine) Exit()              { e.exited = true }
func (e *scriptEngine) Exited() bool       { return e.exited }
func (e *scriptEngine) View() session.View { return e.view }

func (e *scriptEngine) TakeUpdate() bool {
	d := e.dirty
	e.dirty = false
	return d
}

func TestRunHeadless(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	eng := &scriptEngine{view: session.View{State: session.BrowsingList, Catalog: []codec.Entry{{ID: "1", Title: "One"}}, Cursor: 0}}
	var out bytes.Buffer
	in := strings.NewReader("sideways\n\nDOWN\nback\n")

	if err := runHeadless(ctx, eng, time.Millisecond, in, &out); err != nil {
		t.Fatal(err)
	}
	if ctx.Err() != nil {
		t.Fatal("loop should return on exit, not on the timeout")
	}
	want := []session.Input{session.Down, session.Back}
	if len(eng.inputs) != 2 || eng.inputs[0] != want[0] || eng.inputs[1] != want[1] {
		t.Fatalf("inputs = %v, want %v", eng.inputs, want)
	}
	if !strings.Contains(out.String(), `unknown input "sideways"`) {
		t.Fatalf("output:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "> ") || !strings.Contains(out.String(), "One") {
		t.Fatalf("list not printed:\n%s", out.String())
	}
}

func TestRunHeadlessStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	eng := &scriptEngine{}
	done := make(chan error, 1)
	go func() {
		done <- runHeadless(ctx, eng, time.Millisecond, strings.NewReader(""), &bytes.Buffer{})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not stop")
	}
	if !eng.exited {
		t.Fatal("cancel should exit the session")
	}
}

func TestPrintView(t *testing.T) {
	tests := []struct {
		view session.View
		want string
	}{
		{session.View{State: session.WaitForPeer}, "[WAIT_FOR_PEER] waiting for companion app\n"},
		{session.View{State: session.CheckPeer, Connected: true}, "[CHECK_PEER] connected\n"},
		{session.View{State: session.ReceivingPage, PageRef: session.PageRef{EntryID: "v", Number: 2}}, "[RECEIVING_PAGE] v page 2\n"},
		{session.View{State: session.DisplayPage, PageRef: session.PageRef{EntryID: "v"}, Page: make([]byte, 10)}, "[DISPLAY_PAGE] v page 0: 10 bytes, partial\n"},
		{session.View{State: session.Failed, Error: "Companion app error"}, "[ERROR] Companion app error\n"},
		{session.View{State: session.LoadList}, "[LOAD_LIST]\n"},
	}
	for _, tt := range tests {
		var b bytes.Buffer
		printView(&b, tt.view)
		if b.String() != tt.want {
			t.Errorf("printView = %q, want %q", b.String(), tt.want)
		}
	}
}

func TestListCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	st, err := boltstore.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	c := cache.New(st)
	if err := c.PutCatalog([]codec.Entry{{ID: "vol-1", Title: "Volume One"}}); err != nil {
		t.Fatal(err)
	}
	if err := c.PutPage(session.PageRef{EntryID: "vol-1", Number: 3}, make([]byte, 42)); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := listCache(path, &out); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Catalog (1 entries", "Volume One", "Pages (1):", "vol-1 #3  42 bytes"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestListCacheMissing(t *testing.T) {
	if err := listCache(filepath.Join(t.TempDir(), "none.db"), &bytes.Buffer{}); err == nil {
		t.Fatal("listing a missing cache should fail")
	}
}

func TestShowCachedPage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	st, err := boltstore.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	// 8x4 display: one plane is 4 bytes. All pixels black.
	page := bytes.Repeat([]byte{0xff}, 8)
	if err := cache.New(st).PutPage(session.PageRef{EntryID: "a#b", Number: 1}, page); err != nil {
		t.Fatal(err)
	}
	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := showCachedPage(path, "a#b#1", 8, 4, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "a#b #1  8 bytes") || !strings.Contains(out.String(), "█") {
		t.Fatalf("output:\n%s", out.String())
	}

	if err := showCachedPage(path, "a#b#2", 8, 4, &bytes.Buffer{}); err == nil {
		t.Fatal("uncached page should fail")
	}
}

func TestParsePageRef(t *testing.T) {
	tests := []struct {
		in   string
		want session.PageRef
		ok   bool
	}{
		{"vol-1#3", session.PageRef{EntryID: "vol-1", Number: 3}, true},
		{"x#y#0", session.PageRef{EntryID: "x#y", Number: 0}, true},
		{"vol-1", session.PageRef{}, false},
		{"#3", session.PageRef{}, false},
		{"v#-1", session.PageRef{}, false},
		{"v#70000", session.PageRef{}, false},
	}
	for _, tt := range tests {
		got, err := parsePageRef(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parsePageRef(%q) = %+v, %v", tt.in, got, err)
		}
	}
}
