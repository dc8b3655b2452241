// Package companion implements the other end of a pagelink session: it
// answers catalog and page requests from a reader out of a Library.
//
// It exists to exercise the reader without the real phone app, so it can
// also misbehave on purpose: chunks can be shuffled to test reassembly.
package companion

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"pagelink/internal/codec"
	"pagelink/internal/logging"
	"pagelink/internal/transport"
)

var clog = logging.For("companion")

const DefaultChunkSize = 480

// Conn is one link to a reader. *transport.Conn satisfies it.
type Conn interface {
	Send(frame []byte) error
	Recv() ([]byte, error)
	Close() error
}

// Config tunes page delivery.
type Config struct {
	ChunkSize  int           // payload bytes per PAGE_DATA
	Shuffle    bool          // send chunks in random order
	ChunkDelay time.Duration // pause between chunks
	OmitTotal  bool          // send a bare PAGE_START like older companions
}

// Companion serves one Library.
type Companion struct {
	lib Library
	cfg Config

	mu        sync.Mutex
	transfers int
	canceled  int
}

func New(lib Library, cfg Config) *Companion {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if limit := transport.MaxPayload - 5; cfg.ChunkSize > limit {
		cfg.ChunkSize = limit
	}
	return &Companion{lib: lib, cfg: cfg}
}

// Counts returns how many page transfers were started and how many of them
// were cut short by a cancel or a newer request.
func (c *Companion) Counts() (transfers, canceled int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transfers, c.canceled
}

type transfer struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	err    error // set before done closes
}

// Serve answers requests on conn until the reader disconnects, the link
// fails or ctx is done. It closes conn before returning. A DISCONNECT from
// the reader returns nil.
func (c *Companion) Serve(ctx context.Context, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reqs := make(chan codec.Request)
	recvErr := make(chan error, 1)
	go func() {
		for {
			f, err := conn.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			req, err := codec.DecodeCommand(f)
			if err != nil {
				clog.Warn("bad command", "err", err)
				continue
			}
			select {
			case reqs <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	var cur *transfer
	stop := func() {
		if cur == nil {
			return
		}
		cur.cancel()
		<-cur.done
		if errors.Is(cur.err, context.Canceled) {
			c.mu.Lock()
			c.canceled++
			c.mu.Unlock()
			clog.Info("page transfer canceled", "transfer", cur.id)
		}
		cur = nil
	}
	defer func() {
		stop()
		_ = conn.Close()
	}()

	for {
		var finished chan struct{}
		if cur != nil {
			finished = cur.done
		}
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-recvErr:
			if errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return fmt.Errorf("companion recv: %w", err)

		case <-finished:
			cur = nil

		case req := <-reqs:
			clog.Debug("request", "cmd", req.Command, "id", req.ID, "page", req.Page)
			switch req.Command {
			case codec.CmdRequestList:
				stop()
				if err := c.sendList(conn); err != nil {
					return err
				}
			case codec.CmdRequestPage:
				stop()
				cur = c.startPage(ctx, conn, req.ID, req.Page)
			case codec.CmdCancelTransfer:
				stop()
			case codec.CmdAcknowledge:
			case codec.CmdDisconnect:
				clog.Info("reader disconnected")
				return nil
			}
		}
	}
}

func (c *Companion) sendList(conn Conn) error {
	entries, err := c.lib.Entries()
	if err != nil {
		clog.Warn("listing failed", "err", err)
		return conn.Send(codec.EncodeError("Library unavailable"))
	}
	if err := conn.Send(codec.EncodeStatus(codec.StatusListStart)); err != nil {
		return err
	}
	for _, e := range entries {
		f, err := codec.EncodeListEntry(e)
		if err != nil {
			clog.Warn("skipping entry", "id", e.ID, "err", err)
			continue
		}
		if err := conn.Send(f); err != nil {
			return err
		}
	}
	clog.Info("list sent", "entries", len(entries))
	return conn.Send(codec.EncodeStatus(codec.StatusListEnd))
}

func (c *Companion) startPage(ctx context.Context, conn Conn, id string, n uint16) *transfer {
	ctx, cancel := context.WithCancel(ctx)
	t := &transfer{id: uuid.NewString(), cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.transfers++
	c.mu.Unlock()

	go func() {
		defer close(t.done)
		t.err = c.sendPage(ctx, conn, id, n)
		if t.err != nil && !errors.Is(t.err, context.Canceled) {
			clog.Warn("page transfer failed", "transfer", t.id, "err", t.err)
		}
	}()
	return t
}

func (c *Companion) sendPage(ctx context.Context, conn Conn, id string, n uint16) error {
	data, err := c.lib.Page(id, n)
	if err != nil {
		reason := "Page unavailable"
		if errors.Is(err, ErrNotFound) {
			reason = fmt.Sprintf("Page %d of %s not found", n, id)
		}
		clog.Info("page request failed", "id", id, "page", n, "err", err)
		return conn.Send(codec.EncodeError(reason))
	}

	total := uint32(len(data))
	if c.cfg.OmitTotal {
		total = 0
	}
	if err := conn.Send(codec.EncodePageStart(total)); err != nil {
		return err
	}

	offsets := make([]int, 0, len(data)/c.cfg.ChunkSize+1)
	for off := 0; off < len(data); off += c.cfg.ChunkSize {
		offsets = append(offsets, off)
	}
	if c.cfg.Shuffle {
		rand.Shuffle(len(offsets), func(i, j int) { offsets[i], offsets[j] = offsets[j], offsets[i] })
	}

	for _, off := range offsets {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(off+c.cfg.ChunkSize, len(data))
		if err := conn.Send(codec.EncodePageData(uint32(off), data[off:end])); err != nil {
			return err
		}
		if c.cfg.ChunkDelay > 0 {
			select {
			case <-time.After(c.cfg.ChunkDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	clog.Info("page sent", "id", id, "page", n, "bytes", len(data), "chunks", len(offsets))
	return conn.Send(codec.EncodeStatus(codec.StatusPageEnd))
}
