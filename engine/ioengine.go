package engine

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// OpKind distinguishes the two transfer directions.
type OpKind uint8

const (
	// OpPrefetch moves a page from the backing store into a working-set slot.
	OpPrefetch OpKind = iota
	// OpWriteback moves a working-set slot's content to the backing store.
	OpWriteback
)

func (k OpKind) String() string {
	if k == OpPrefetch {
		return "prefetch"
	}
	return "writeback"
}

// Handle identifies one submitted transfer until its completion is observed.
type Handle uint64

// Completion is the tagged outcome of one transfer. Failures are reported
// here, never silently retried inside the engine; the orchestrator owns the
// retry policy.
type Completion struct {
	Handle Handle
	Kind   OpKind
	Page   PageID
	Err    error
}

type ioRequest struct {
	handle Handle
	kind   OpKind
	page   PageID
	slot   []complex128
	offset int64
}

// IOEngine issues page transfers against a PageStore asynchronously.
// Submissions never block; completions are observed later through
// PollCompletions or WaitCompletion, which keeps the orchestrator's control
// flow a linear submit/poll loop rather than a callback web.
//
// Ordering: independently submitted requests complete in any order, with one
// exception enforced here — a prefetch of a page with an in-flight writeback
// is held until that writeback completes (read-after-write hazard on the
// same backing-store region). Depth workers bound the number of transfers
// in flight at once.
//
// The engine owns in-flight request state only; page content passes through
// it solely for the duration of a transfer.
type IOEngine struct {
	store PageStore

	submitCh chan ioRequest
	workCh   chan ioRequest
	doneCh   chan Completion
	compCh   chan Completion
	quit     chan struct{}
	wg       sync.WaitGroup

	nextHandle atomic.Uint64
}

const ioQueueDepth = 4096

// NewIOEngine starts depth transfer workers plus a dispatcher that enforces
// per-page ordering.
func NewIOEngine(store PageStore, depth int) *IOEngine {
	if depth < 1 {
		depth = 1
	}
	e := &IOEngine{
		store:    store,
		submitCh: make(chan ioRequest, ioQueueDepth),
		workCh:   make(chan ioRequest, ioQueueDepth),
		doneCh:   make(chan Completion, ioQueueDepth),
		compCh:   make(chan Completion, ioQueueDepth),
		quit:     make(chan struct{}),
	}
	e.wg.Add(1)
	go e.dispatch()
	for i := 0; i < depth; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// SubmitPrefetch schedules a read of the page at the given store offset into
// slot. Non-blocking; the result arrives as a Completion.
func (e *IOEngine) SubmitPrefetch(page PageID, slot []complex128, offset int64) Handle {
	h := Handle(e.nextHandle.Add(1))
	e.submitCh <- ioRequest{handle: h, kind: OpPrefetch, page: page, slot: slot, offset: offset}
	return h
}

// SubmitWriteback schedules a write of slot to the given store offset.
// Non-blocking; the slot must stay untouched until the completion arrives.
func (e *IOEngine) SubmitWriteback(page PageID, slot []complex128, offset int64) Handle {
	h := Handle(e.nextHandle.Add(1))
	e.submitCh <- ioRequest{handle: h, kind: OpWriteback, page: page, slot: slot, offset: offset}
	return h
}

// PollCompletions returns every completion observed so far without blocking.
func (e *IOEngine) PollCompletions() []Completion {
	var out []Completion
	for {
		select {
		case c := <-e.compCh:
			out = append(out, c)
		default:
			return out
		}
	}
}

// WaitCompletion blocks until one completion is available.
func (e *IOEngine) WaitCompletion() Completion {
	return <-e.compCh
}

// Close stops the workers. The caller must have drained its outstanding
// requests first (the orchestrator tracks them by handle).
func (e *IOEngine) Close() {
	close(e.quit)
	e.wg.Wait()
}

// dispatch owns the per-page ordering state: writebacks in flight and
// prefetches held behind them.
func (e *IOEngine) dispatch() {
	defer e.wg.Done()
	pendingWB := make(map[PageID]bool)
	held := make(map[PageID][]ioRequest)

	for {
		select {
		case <-e.quit:
			return
		case req := <-e.submitCh:
			if req.kind == OpPrefetch && pendingWB[req.page] {
				held[req.page] = append(held[req.page], req)
				logrus.Debugf("io: holding prefetch of page %d behind writeback", req.page)
				continue
			}
			if req.kind == OpWriteback {
				pendingWB[req.page] = true
			}
			e.workCh <- req
		case c := <-e.doneCh:
			if c.Kind == OpWriteback {
				delete(pendingWB, c.Page)
				for _, r := range held[c.Page] {
					e.workCh <- r
				}
				delete(held, c.Page)
			}
			e.compCh <- c
		}
	}
}

// worker executes transfers one at a time and reports tagged outcomes.
func (e *IOEngine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.quit:
			return
		case req := <-e.workCh:
			var err error
			switch req.kind {
			case OpPrefetch:
				err = e.store.ReadPage(req.offset, req.slot)
			case OpWriteback:
				err = e.store.WritePage(req.offset, req.slot)
			}
			e.doneCh <- Completion{Handle: req.handle, Kind: req.kind, Page: req.page, Err: err}
		}
	}
}
