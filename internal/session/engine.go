// Package session drives the reader side of a pagelink session: it asks the
// companion for its catalog, lets the user browse it, and pulls pages.
//
// The Engine has two callers. The transport calls HandleEvent from its own
// goroutines; HandleEvent only queues. Everything else (Tick, HandleInput,
// View) runs on a single polling goroutine that owns all session state, so
// the catalog and page buffer need no locks.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pagelink/internal/codec"
	"pagelink/internal/logging"
	"pagelink/internal/reassembly"
	"pagelink/internal/transport"
)

var (
	ErrTransportUnavailable = errors.New("session: transport unavailable")
	ErrPeerReported         = errors.New("session: companion reported error")
	ErrInvalidSelection     = errors.New("session: invalid selection")
	ErrMalformedFrame       = errors.New("session: too many malformed frames")
	ErrStalled              = errors.New("session: transfer stalled")
)

// Link is the slice of the transport the engine drives.
type Link interface {
	ConnectedPeers() int
	Send(frame []byte) error
}

// CatalogSink receives every completed catalog. Sinks are called from Tick
// and must return without waiting on I/O.
type CatalogSink interface {
	PutCatalog(entries []codec.Entry) error
}

// PageSink receives every completed page.
type PageSink interface {
	PutPage(ref PageRef, data []byte) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCatalogSink registers a sink for completed catalogs.
func WithCatalogSink(s CatalogSink) Option {
	return func(e *Engine) { e.catalogSink = s }
}

// WithPageSink registers a sink for completed pages.
func WithPageSink(s PageSink) Option {
	return func(e *Engine) { e.pageSink = s }
}

// WithOnExit registers a callback run once when the user leaves the session.
func WithOnExit(fn func()) Option {
	return func(e *Engine) { e.onExit = fn }
}

// Engine is the session state machine.
type Engine struct {
	link Link
	cfg  Config
	now  func() time.Time
	log  *slog.Logger // rebound by Enter; polling goroutine only
	qlog *slog.Logger // HandleEvent side, fixed at New

	catalogSink CatalogSink
	pageSink    PageSink
	onExit      func()

	inbox     chan transport.Event
	overflows atomic.Uint64
	dirty     atomic.Bool

	// Owned by the polling goroutine.
	id         string
	state      State
	exited     bool
	pendingErr string
	lastErr    error
	deadline   time.Time
	malformed  int
	moves      uint64 // transitions so far

	catalog []codec.Entry
	cursor  int
	reasm   *reassembly.Reassembler

	pageRef      PageRef
	page         []byte
	pageComplete bool
	pageCoverage int
	pageExpected int

	stats Stats
}

// New creates an engine bound to link. Call Enter before the first Tick.
func New(link Link, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		link:   link,
		cfg:    cfg,
		now:    time.Now,
		inbox:  make(chan transport.Event, cfg.InboxSize),
		cursor: -1,
		reasm:  reassembly.New(),
		qlog:   logging.For("session"),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.rebind()
	return e
}

func (e *Engine) rebind() {
	e.id = uuid.NewString()
	e.log = logging.For("session").With("session", e.id)
}

// Enter starts a fresh session in CHECK_PEER. Anything queued before the call
// is discarded.
func (e *Engine) Enter() {
	e.rebind()
	for len(e.inbox) > 0 {
		<-e.inbox
	}
	e.overflows.Store(0)

	e.state = CheckPeer
	e.exited = false
	e.pendingErr = ""
	e.lastErr = nil
	e.deadline = time.Time{}
	e.malformed = 0
	e.catalog = nil
	e.cursor = -1
	e.reasm.Abandon()
	e.pageRef = PageRef{}
	e.page = nil
	e.pageComplete = false
	e.pageCoverage = 0
	e.pageExpected = 0
	e.stats = Stats{}

	e.log.Info("session entered")
	e.markDirty()
}

// HandleEvent queues a transport event for the next Tick. It never blocks:
// when the inbox is full the event is dropped and counted as malformed.
func (e *Engine) HandleEvent(ev transport.Event) {
	select {
	case e.inbox <- ev:
	default:
		e.overflows.Add(1)
		e.qlog.Warn("inbox full, event dropped", "kind", ev.Kind)
	}
}

// Tick runs one polling-loop iteration: apply the events queued so far in
// arrival order, run the current state's entry action unless an event already
// moved the state, then check the state deadline. At most one entry action
// runs per Tick.
func (e *Engine) Tick() {
	if e.exited {
		return
	}
	if n := e.overflows.Swap(0); n > 0 {
		e.stats.Overflows += n
		for i := uint64(0); i < n && !e.exited; i++ {
			e.countMalformed(fmt.Errorf("inbox overflow"))
		}
	}

	moves := e.moves
	for n := len(e.inbox); n > 0 && !e.exited; n-- {
		e.apply(<-e.inbox)
	}
	if e.moves == moves && !e.exited {
		e.step()
	}

	e.checkDeadline()
}

// HandleInput applies one user input. Inputs the current state does not
// react to are ignored.
func (e *Engine) HandleInput(in Input) {
	if e.exited {
		return
	}
	switch e.state {
	case BrowsingList:
		switch in {
		case Up:
			if e.cursor > 0 {
				e.cursor--
				e.markDirty()
			}
		case Down:
			if e.cursor < len(e.catalog)-1 {
				e.cursor++
				e.markDirty()
			}
		case Confirm:
			if !e.validCursor() {
				e.log.Debug("confirm without a valid selection", "cursor", e.cursor, "entries", len(e.catalog))
				return
			}
			e.pageRef = PageRef{EntryID: e.catalog[e.cursor].ID}
			e.transition(LoadPage)
		case Back:
			e.exit()
		}

	case ReceivingPage:
		if in == Back {
			// The companion keeps streaming unless told otherwise; the rest
			// of the transfer lands on an abandoned buffer and is dropped.
			e.reasm.Abandon()
			if e.cfg.CancelOnBack {
				if err := e.link.Send(codec.EncodeCancelTransfer()); err != nil {
					e.log.Debug("cancel not sent", "err", err)
				}
			}
			e.transition(BrowsingList)
		}

	case DisplayPage:
		switch in {
		case Back:
			e.transition(BrowsingList)
		case Prev:
			if e.pageRef.Number > 0 {
				e.pageRef.Number--
			}
			e.transition(LoadPage)
		case Next:
			if e.pageRef.Number < math.MaxUint16 {
				e.pageRef.Number++
			}
			e.transition(LoadPage)
		}

	case Failed:
		if in == Back || in == Confirm {
			e.exit()
		}
	}
}

// Exit leaves the session from any state, the way Back leaves BROWSING_LIST.
// The front end uses it on interrupt.
func (e *Engine) Exit() { e.exit() }

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Exited reports whether the user has left the session.
func (e *Engine) Exited() bool { return e.exited }

// Err returns the error that put the session in ERROR, nil otherwise.
func (e *Engine) Err() error { return e.lastErr }

// SessionID identifies the current session in logs.
func (e *Engine) SessionID() string { return e.id }

// Stats returns a copy of the traffic counters.
func (e *Engine) Stats() Stats { return e.stats }

// TakeUpdate reports whether anything visible changed since the last call,
// and clears the flag. Any number of changes collapse into one redraw.
func (e *Engine) TakeUpdate() bool {
	return e.dirty.Swap(false)
}

// View returns a render snapshot.
func (e *Engine) View() View {
	v := View{
		SessionID:    e.id,
		State:        e.state,
		Connected:    e.link.ConnectedPeers() > 0,
		Catalog:      append([]codec.Entry(nil), e.catalog...),
		Cursor:       e.cursor,
		Error:        e.pendingErr,
		PageRef:      e.pageRef,
		Page:         e.page,
		PageComplete: e.pageComplete,
		PageCoverage: e.pageCoverage,
		PageExpected: e.pageExpected,
	}
	if e.state == ReceivingList {
		v.Received = e.reasm.Len()
	}
	if e.state == ReceivingPage {
		v.PageCoverage = e.reasm.Coverage()
		v.PageExpected = e.reasm.Expected()
	}
	if e.validCursor() {
		v.PageTitle = e.catalog[e.cursor].Title
	}
	return v
}

func (e *Engine) apply(ev transport.Event) {
	switch ev.Kind {
	case transport.PeerConnected:
		e.log.Info("companion connected", "peer", ev.Peer)
		if e.state == WaitForPeer {
			e.transition(LoadList)
			return
		}
		e.markDirty()

	case transport.PeerDisconnected:
		e.log.Info("companion disconnected", "peer", ev.Peer, "reason", ev.Reason)
		if e.state == Failed || e.state == WaitForPeer {
			e.markDirty()
			return
		}
		e.reasm.Abandon()
		e.transition(WaitForPeer)

	case transport.FrameReceived:
		e.applyFrame(ev.Frame)
	}
}

func (e *Engine) applyFrame(frame []byte) {
	msg, err := codec.Decode(frame)
	switch {
	case err == nil:
	case errors.Is(err, codec.ErrUnknownStatus):
		e.stats.Unknown++
		e.log.Debug("ignoring unknown status", "err", err)
		return
	case errors.Is(err, codec.ErrMalformed):
		e.countMalformed(err)
		return
	default:
		e.log.Debug("ignoring frame", "err", err)
		return
	}

	if msg.Status == codec.StatusError {
		e.stats.Frames++
		if e.state == Failed {
			return
		}
		reason := msg.Reason
		if reason == "" {
			reason = "Companion app error"
		}
		e.fail(ErrPeerReported, reason)
		return
	}

	switch e.state {
	case ReceivingList:
		e.applyListFrame(msg)
	case ReceivingPage:
		e.applyPageFrame(msg)
	default:
		e.ignore(msg)
	}
}

func (e *Engine) applyListFrame(msg codec.Message) {
	switch msg.Status {
	case codec.StatusListStart:
		e.reasm.BeginList()
		e.catalog = nil
		e.cursor = -1
		e.log.Debug("list transfer started")
	case codec.StatusListEntry:
		e.reasm.AddEntry(msg.Entry)
		e.log.Debug("entry received", "id", msg.Entry.ID, "title", msg.Entry.Title)
	case codec.StatusListEnd:
		e.catalog, e.cursor = e.reasm.EndList()
		e.stats.Frames++
		e.stats.Lists++
		e.log.Info("list transfer complete", "entries", len(e.catalog))
		if e.catalogSink != nil {
			if err := e.catalogSink.PutCatalog(e.catalog); err != nil {
				e.log.Warn("catalog not stored", "err", err)
			}
		}
		if !e.acknowledge() {
			return
		}
		e.transition(BrowsingList)
		return
	default:
		e.ignore(msg)
		return
	}
	e.stats.Frames++
	e.touch()
	e.markDirty()
}

func (e *Engine) applyPageFrame(msg codec.Message) {
	switch msg.Status {
	case codec.StatusPageStart:
		e.reasm.BeginPage(e.cfg.PageCapacity)
		if msg.Total > 0 {
			if int64(msg.Total) > int64(e.cfg.PageCapacity) {
				e.log.Warn("declared page size exceeds capacity", "total", msg.Total, "capacity", e.cfg.PageCapacity)
			}
			e.reasm.SetExpected(int(min(int64(msg.Total), int64(e.cfg.PageCapacity))))
		}
		e.log.Debug("page transfer started", "total", msg.Total)

	case codec.StatusPageData:
		switch out := e.reasm.WriteChunk(msg.Offset, msg.Chunk); out {
		case reassembly.WriteOK:
		case reassembly.WriteNoPage:
			e.stats.Stale++
			e.log.Debug("chunk without page start", "offset", msg.Offset)
			return
		default:
			e.stats.ChunksRejected++
			e.countMalformed(fmt.Errorf("chunk %s: offset %d len %d capacity %d",
				out, msg.Offset, len(msg.Chunk), e.cfg.PageCapacity))
			return
		}

	case codec.StatusPageEnd:
		e.finishPage()
		return

	default:
		e.ignore(msg)
		return
	}
	e.stats.Frames++
	e.touch()
	e.markDirty()
}

// finishPage closes the transfer. PAGE_END completes the page whatever the
// coverage; Complete only reports whether a declared total was met.
func (e *Engine) finishPage() {
	e.stats.Frames++
	if e.reasm.Live() {
		e.pageComplete = e.reasm.Complete()
		e.pageExpected = e.reasm.Expected()
		e.pageCoverage = e.reasm.Coverage()
		e.page = e.reasm.EndPage()
	} else {
		e.page = nil
		e.pageComplete = false
		e.pageExpected = 0
		e.pageCoverage = 0
	}
	e.stats.Pages++
	e.log.Info("page transfer complete",
		"entry", e.pageRef.EntryID, "page", e.pageRef.Number,
		"bytes", len(e.page), "coverage", e.pageCoverage, "expected", e.pageExpected)

	if e.pageExpected > 0 && !e.pageComplete {
		e.log.Warn("page incomplete", "coverage", e.pageCoverage, "expected", e.pageExpected)
	} else if e.pageSink != nil && len(e.page) > 0 {
		if err := e.pageSink.PutPage(e.pageRef, e.page); err != nil {
			e.log.Warn("page not stored", "err", err)
		}
	}
	if !e.acknowledge() {
		return
	}
	e.transition(DisplayPage)
}

func (e *Engine) ignore(msg codec.Message) {
	e.stats.Ignored++
	e.log.Debug("ignoring frame", "status", msg.Status, "state", e.state)
}

// acknowledge sends ACKNOWLEDGE when configured. It returns false when the
// send failed and the session moved to ERROR.
func (e *Engine) acknowledge() bool {
	if !e.cfg.AckTransfers {
		return true
	}
	return e.send(codec.EncodeAcknowledge())
}

// step runs the entry action of the current state.
func (e *Engine) step() {
	switch e.state {
	case CheckPeer:
		if e.link.ConnectedPeers() > 0 {
			e.log.Info("companion connected")
			e.transition(LoadList)
		} else {
			e.transition(WaitForPeer)
		}

	case WaitForPeer:
		// Covers a PeerConnected lost to overflow and a second companion
		// still attached after the first one left.
		if e.link.ConnectedPeers() > 0 {
			e.log.Info("companion connected")
			e.transition(LoadList)
		}

	case LoadList:
		e.malformed = 0
		if !e.send(codec.EncodeRequestList()) {
			break
		}
		e.reasm.BeginList()
		e.transition(ReceivingList)

	case LoadPage:
		e.malformed = 0
		e.reasm.Abandon()
		if !e.validCursor() || e.pageRef.EntryID == "" {
			e.fail(ErrInvalidSelection, "Invalid selection")
			break
		}
		frame, err := codec.EncodeRequestPage(e.pageRef.EntryID, e.pageRef.Number)
		if err != nil {
			e.failErr(ErrInvalidSelection, "Invalid selection", err)
			break
		}
		if !e.send(frame) {
			break
		}
		e.log.Info("page requested", "entry", e.pageRef.EntryID, "page", e.pageRef.Number)
		e.transition(ReceivingPage)
	}
}

// send hands frame to the link. Any failure moves the session to ERROR.
func (e *Engine) send(frame []byte) bool {
	if e.link.ConnectedPeers() == 0 {
		e.failErr(ErrTransportUnavailable, "Companion not connected", transport.ErrNotConnected)
		return false
	}
	if err := e.link.Send(frame); err != nil {
		e.failErr(ErrTransportUnavailable, "Send failed", err)
		return false
	}
	return true
}

func (e *Engine) countMalformed(err error) {
	e.malformed++
	e.stats.Malformed++
	e.log.Warn("malformed frame", "err", err, "count", e.malformed)
	if e.cfg.MalformedThreshold == 0 || !e.state.receiving() {
		return
	}
	if e.malformed > e.cfg.MalformedThreshold {
		e.fail(ErrMalformedFrame, fmt.Sprintf("Too many malformed frames (%d)", e.malformed))
	}
}

func (e *Engine) checkDeadline() {
	if e.exited || e.deadline.IsZero() {
		return
	}
	if e.now().Before(e.deadline) {
		return
	}
	switch e.state {
	case WaitForPeer:
		e.fail(ErrStalled, "Companion did not connect")
	case ReceivingList:
		e.fail(ErrStalled, "Library transfer timed out")
	case ReceivingPage:
		e.fail(ErrStalled, "Page transfer timed out")
	}
}

// touch pushes the stall deadline out after an accepted transfer frame.
func (e *Engine) touch() {
	if d := e.cfg.timeout(e.state); d > 0 && e.state.receiving() {
		e.deadline = e.now().Add(d)
	}
}

func (e *Engine) fail(kind error, msg string) {
	e.failErr(kind, msg, nil)
}

func (e *Engine) failErr(kind error, msg string, cause error) {
	if cause != nil {
		e.lastErr = fmt.Errorf("%w: %s: %w", kind, msg, cause)
	} else {
		e.lastErr = fmt.Errorf("%w: %s", kind, msg)
	}
	e.pendingErr = msg
	e.reasm.Abandon()
	e.log.Error("session failed", "state", e.state, "err", e.lastErr)
	e.transition(Failed)
}

func (e *Engine) transition(to State) {
	from := e.state
	e.state = to
	e.moves++
	e.deadline = time.Time{}
	if d := e.cfg.timeout(to); d > 0 {
		e.deadline = e.now().Add(d)
	}
	if from != to {
		e.log.Debug("state", "from", from, "to", to)
	}
	e.markDirty()
}

func (e *Engine) exit() {
	if e.exited {
		return
	}
	e.exited = true
	e.reasm.Abandon()
	e.deadline = time.Time{}
	if e.link.ConnectedPeers() > 0 {
		if err := e.link.Send(codec.EncodeDisconnect()); err != nil {
			e.log.Debug("disconnect not sent", "err", err)
		}
	}
	e.log.Info("session exited", "state", e.state)
	e.markDirty()
	if e.onExit != nil {
		e.onExit()
	}
}

func (e *Engine) validCursor() bool {
	return e.cursor >= 0 && e.cursor < len(e.catalog)
}

func (e *Engine) markDirty() {
	e.dirty.Store(true)
}
