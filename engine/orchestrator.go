package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
)

// flight tracks one outstanding transfer for a page. At most one transfer is
// in flight per page at a time; the promote/evict state machine never needs
// more.
type flight struct {
	handle  Handle
	kind    OpKind
	slot    int
	offset  int64
	retries int
	evict   bool // writeback that completes an eviction (vs a checkpoint flush)
}

// Orchestrator owns the page table and the working-set slots. It is the only
// component that mutates residency state, decides what to prefetch and what
// to evict, enforces the page budget, and classifies I/O failures into
// retries or fatal errors. All device traffic is delegated to the IOEngine;
// the orchestrator itself only submits and polls.
//
// Eviction is plan-aware: the victim is the resident page whose next use in
// the access plan lies furthest in the future, with pages that have no
// remaining use evicted first. Ties break toward the lowest page id for
// determinism.
type Orchestrator struct {
	geom  Geometry
	cfg   Config
	plan  *AccessPlan
	table *PageTable
	store PageStore
	io    *IOEngine

	arena     []complex128
	freeSlots []int
	inflight  map[PageID]*flight

	// sealed marks pages whose current backing offset is referenced by a
	// durable checkpoint manifest. Writing such an offset in place would
	// corrupt what a restore reads, so the next writeback of a sealed page
	// goes to a freshly allocated offset instead.
	sealed map[PageID]bool

	step         int // current plan position, drives next-use queries
	peakResident int
}

// NewOrchestrator wires the orchestrator over a page table (fresh or
// restored from a checkpoint) and starts the I/O engine.
func NewOrchestrator(geom Geometry, cfg Config, plan *AccessPlan, table *PageTable, store PageStore) *Orchestrator {
	o := &Orchestrator{
		geom:     geom,
		cfg:      cfg,
		plan:     plan,
		table:    table,
		store:    store,
		io:       NewIOEngine(store, cfg.PrefetchDepth),
		arena:    make([]complex128, cfg.BudgetPages*geom.PageSize),
		inflight: make(map[PageID]*flight),
		sealed:   make(map[PageID]bool),
	}
	for i := 0; i < cfg.BudgetPages; i++ {
		o.freeSlots = append(o.freeSlots, i)
	}
	// A table that already carries offsets was rebuilt from a manifest; those
	// offsets are what the manifest describes and must never be overwritten.
	o.SealOffsets()
	return o
}

// SealOffsets marks every currently assigned backing offset as referenced by
// a durable manifest. Sealed offsets are immutable from the store's point of
// view: the next writeback of a sealed page allocates a fresh offset
// (copy-on-write against the latest checkpoint), keeping every manifest
// restorable until it is superseded.
func (o *Orchestrator) SealOffsets() {
	for i := 0; i < o.table.Len(); i++ {
		id := PageID(i)
		if o.table.Offset(id) != noOffset {
			o.sealed[id] = true
		}
	}
}

// slotData returns the arena slice backing one working-set slot.
func (o *Orchestrator) slotData(slot int) []complex128 {
	base := slot * o.geom.PageSize
	return o.arena[base : base+o.geom.PageSize]
}

// Page exposes a resident page's amplitudes for the compute kernel. Only
// valid between EnsureResident and the next residency change.
func (o *Orchestrator) Page(id PageID) []complex128 {
	return o.slotData(o.table.Slot(id))
}

// Geometry returns the run's address geometry.
func (o *Orchestrator) Geometry() Geometry { return o.geom }

// ResidentCount reports the pages currently in the working set.
func (o *Orchestrator) ResidentCount() int { return o.table.ResidentCount() }

// PeakResident reports the high-water mark of resident pages, used to verify
// the budget invariant.
func (o *Orchestrator) PeakResident() int { return o.peakResident }

// Table exposes the page table for checkpointing and inspection. Callers
// never mutate it.
func (o *Orchestrator) Table() *PageTable { return o.table }

// EnsureResident guarantees every listed page is Resident before returning.
// Pages already prefetched cost nothing; the call blocks only as long as the
// I/O engine needs for pages the lookahead did not reach. Asking for more
// distinct pages than the budget is a configuration error, not retryable.
func (o *Orchestrator) EnsureResident(pages []PageID) error {
	pin := make(map[PageID]bool, len(pages))
	uniq := make([]PageID, 0, len(pages))
	for _, id := range pages {
		if !pin[id] {
			pin[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Slice(uniq, func(i, j int) bool { return uniq[i] < uniq[j] })
	if len(uniq) > o.cfg.BudgetPages {
		return fmt.Errorf("%w: step needs %d pages, budget is %d",
			ErrCapacity, len(uniq), o.cfg.BudgetPages)
	}

	for {
		if err := o.drainAvailable(); err != nil {
			return err
		}

		waiting := false
		for _, id := range uniq {
			fl := o.inflight[id]
			if fl != nil {
				// Prefetch, flush or eviction in flight: wait it out. A page
				// being evicted is re-promoted on a later pass, after the
				// writeback lands (read-after-write order holds per page).
				waiting = true
				continue
			}
			switch o.table.State(id) {
			case PageResident:
				// done
			case PageUnallocated:
				slot, err := o.tryAcquireSlot(pin)
				if err != nil {
					return err
				}
				if slot < 0 {
					waiting = true
					continue
				}
				// Logical zero content: no device access for unallocated reads.
				o.zeroSlot(slot)
				o.table.SetResident(id, slot)
				o.notePeak()
			case PageEvicted:
				slot, err := o.tryAcquireSlot(pin)
				if err != nil {
					return err
				}
				if slot < 0 {
					waiting = true
					continue
				}
				h := o.io.SubmitPrefetch(id, o.slotData(slot), o.table.Offset(id))
				o.inflight[id] = &flight{handle: h, kind: OpPrefetch, slot: slot, offset: o.table.Offset(id)}
				waiting = true
			}
		}
		if !waiting {
			return nil
		}
		if len(o.inflight) == 0 {
			// No slot obtainable and nothing in flight to free one.
			return fmt.Errorf("%w: %d pinned pages saturate the budget of %d",
				ErrCapacity, len(uniq), o.cfg.BudgetPages)
		}
		if err := o.handleCompletion(o.io.WaitCompletion()); err != nil {
			return err
		}
	}
}

// PrefetchWindow issues asynchronous prefetches for the lookahead window of
// step s, soonest-needed first. It only consumes free slots or evicts clean
// pages whose next use lies beyond the prefetched page's; it never blocks
// and never forces a writeback, leaving those to the blocking path.
func (o *Orchestrator) PrefetchWindow(s int) error {
	o.step = s
	if err := o.drainAvailable(); err != nil {
		return err
	}
	if s >= len(o.plan.Steps) {
		return nil
	}
	pin := make(map[PageID]bool)
	for _, id := range o.plan.Steps[s].Pages {
		pin[id] = true
	}
	for _, id := range o.plan.Window(s) {
		if o.table.State(id) != PageEvicted || o.inflight[id] != nil {
			continue
		}
		slot := o.slotForPrefetch(pin, id)
		if slot < 0 {
			break // budget tight; stop speculating
		}
		h := o.io.SubmitPrefetch(id, o.slotData(slot), o.table.Offset(id))
		o.inflight[id] = &flight{handle: h, kind: OpPrefetch, slot: slot, offset: o.table.Offset(id)}
	}
	return nil
}

// MarkDirty records that the kernel mutated a resident page.
func (o *Orchestrator) MarkDirty(pages []PageID) {
	for _, id := range pages {
		o.table.MarkDirty(id)
	}
}

// FlushDirty forces every dirty resident page onto the backing store and
// waits for the writebacks to land. Pages stay resident; only the dirty flag
// clears. Used by checkpointing, where the bulk data is mostly already
// staged by ordinary eviction.
func (o *Orchestrator) FlushDirty() error {
	if err := o.DrainAll(); err != nil {
		return err
	}
	for _, id := range o.table.ResidentPages() {
		if !o.table.Dirty(id) {
			continue
		}
		offset, err := o.ensureOffset(id)
		if err != nil {
			return err
		}
		slot := o.table.Slot(id)
		h := o.io.SubmitWriteback(id, o.slotData(slot), offset)
		o.inflight[id] = &flight{handle: h, kind: OpWriteback, slot: slot, offset: offset}
	}
	return o.DrainAll()
}

// DrainAll blocks until every outstanding transfer completes.
func (o *Orchestrator) DrainAll() error {
	for len(o.inflight) > 0 {
		if err := o.handleCompletion(o.io.WaitCompletion()); err != nil {
			return err
		}
	}
	return nil
}

// ReadPageInto copies a page's current content into dst regardless of
// residency, for result delivery after the run. Unallocated pages read as
// zero without device access.
func (o *Orchestrator) ReadPageInto(id PageID, dst []complex128) error {
	switch o.table.State(id) {
	case PageResident:
		copy(dst, o.slotData(o.table.Slot(id)))
		return nil
	case PageEvicted:
		return o.store.ReadPage(o.table.Offset(id), dst)
	default:
		for i := range dst {
			dst[i] = 0
		}
		return nil
	}
}

// Close drains outstanding transfers and stops the I/O engine.
func (o *Orchestrator) Close() error {
	err := o.DrainAll()
	o.io.Close()
	return err
}

// drainAvailable applies all completions observed so far without blocking.
func (o *Orchestrator) drainAvailable() error {
	for _, c := range o.io.PollCompletions() {
		if err := o.handleCompletion(c); err != nil {
			return err
		}
	}
	return nil
}

// handleCompletion applies one tagged I/O outcome to the page table.
// Transient failures are resubmitted up to the configured retry limit;
// exhausted retries and storage exhaustion escalate.
func (o *Orchestrator) handleCompletion(c Completion) error {
	fl := o.inflight[c.Page]
	if fl == nil || fl.handle != c.Handle {
		return fmt.Errorf("io engine returned unknown completion for page %d", c.Page)
	}
	if c.Err != nil {
		if errors.Is(c.Err, ErrStoreExhausted) {
			delete(o.inflight, c.Page)
			return c.Err
		}
		if fl.retries < o.cfg.IORetryLimit {
			fl.retries++
			logrus.Warnf("transient %s failure on page %d (attempt %d/%d): %v",
				c.Kind, c.Page, fl.retries, o.cfg.IORetryLimit, c.Err)
			switch fl.kind {
			case OpPrefetch:
				fl.handle = o.io.SubmitPrefetch(c.Page, o.slotData(fl.slot), fl.offset)
			case OpWriteback:
				fl.handle = o.io.SubmitWriteback(c.Page, o.slotData(fl.slot), fl.offset)
			}
			return nil
		}
		// The flight is dead either way; leaving it tracked would wedge a
		// later DrainAll waiting on a completion that never comes.
		delete(o.inflight, c.Page)
		return fmt.Errorf("%w: %s of page %d failed after %d retries: %w",
			ErrFatalIO, c.Kind, c.Page, fl.retries, c.Err)
	}

	switch {
	case fl.kind == OpPrefetch:
		o.table.SetOffset(c.Page, fl.offset)
		o.table.SetResident(c.Page, fl.slot)
		o.table.ClearDirty(c.Page)
		o.notePeak()
	case fl.evict:
		// Writeback completed: the slot may be reused only now.
		o.table.SetEvicted(c.Page, fl.offset)
		o.freeSlots = append(o.freeSlots, fl.slot)
	default:
		// Checkpoint flush: page stays resident, just no longer dirty.
		o.table.SetOffset(c.Page, fl.offset)
		o.table.ClearDirty(c.Page)
	}
	delete(o.inflight, c.Page)
	return nil
}

// tryAcquireSlot returns a free working-set slot, evicting a victim if
// needed. A clean victim frees its slot immediately; a dirty victim starts a
// writeback and the function reports no slot yet (-1), to be retried after a
// completion. Errors are configuration or storage failures.
func (o *Orchestrator) tryAcquireSlot(pin map[PageID]bool) (int, error) {
	if n := len(o.freeSlots); n > 0 {
		slot := o.freeSlots[n-1]
		o.freeSlots = o.freeSlots[:n-1]
		return slot, nil
	}

	victim := o.pickVictim(pin)
	if victim < 0 {
		return -1, nil
	}

	if !o.table.Dirty(victim) {
		slot := o.table.Slot(victim)
		if o.table.Offset(victim) == noOffset {
			// Never written back and never dirtied: still logically zero.
			o.table.SetUnallocated(victim)
		} else {
			o.table.SetEvicted(victim, o.table.Offset(victim))
		}
		logrus.Debugf("evicted clean page %d", victim)
		return slot, nil
	}

	offset, err := o.ensureOffset(victim)
	if err != nil {
		return -1, err
	}
	slot := o.table.Slot(victim)
	h := o.io.SubmitWriteback(victim, o.slotData(slot), offset)
	o.inflight[victim] = &flight{handle: h, kind: OpWriteback, slot: slot, offset: offset, evict: true}
	logrus.Debugf("evicting dirty page %d, writeback in flight", victim)
	return -1, nil
}

// slotForPrefetch finds a slot for speculative prefetch without blocking:
// a free slot, or a clean unpinned victim that is needed strictly later than
// the page being fetched (or not at all).
func (o *Orchestrator) slotForPrefetch(pin map[PageID]bool, fetching PageID) int {
	if n := len(o.freeSlots); n > 0 {
		slot := o.freeSlots[n-1]
		o.freeSlots = o.freeSlots[:n-1]
		return slot
	}

	fetchNext, fetchUsed := o.plan.NextUse(fetching, o.step)
	if !fetchUsed {
		return -1 // window page with no use should not displace anything
	}

	victim := PageID(-1)
	victimNext := -1
	victimHasUse := true
	for _, id := range o.table.ResidentPages() {
		if pin[id] || o.inflight[id] != nil || o.table.Dirty(id) {
			continue
		}
		next, used := o.plan.NextUse(id, o.step)
		if !used {
			if victimHasUse {
				// first (lowest-id) page with no remaining use wins outright
				victim, victimHasUse = id, false
			}
			continue
		}
		if victimHasUse && next > fetchNext && next > victimNext {
			victim, victimNext = id, next
		}
	}
	if victim < 0 {
		return -1
	}

	slot := o.table.Slot(victim)
	if o.table.Offset(victim) == noOffset {
		o.table.SetUnallocated(victim)
	} else {
		o.table.SetEvicted(victim, o.table.Offset(victim))
	}
	return slot
}

// pickVictim selects the resident page to evict under the plan-aware
// discipline: no remaining use first, then furthest next use. Pinned pages
// and pages with in-flight transfers are never victims.
func (o *Orchestrator) pickVictim(pin map[PageID]bool) PageID {
	victim := PageID(-1)
	victimNext := -1
	victimHasUse := true
	for _, id := range o.table.ResidentPages() {
		if pin[id] || o.inflight[id] != nil {
			continue
		}
		next, used := o.plan.NextUse(id, o.step)
		if !used {
			if victimHasUse {
				victim, victimHasUse = id, false
			}
			continue
		}
		if victimHasUse && next > victimNext {
			victim, victimNext = id, next
		}
	}
	return victim
}

// ensureOffset returns the offset a writeback may target: the page's current
// offset if it is writable, or a freshly allocated one when the page has
// never been written back or its offset is sealed by a checkpoint.
func (o *Orchestrator) ensureOffset(id PageID) (int64, error) {
	if off := o.table.Offset(id); off != noOffset && !o.sealed[id] {
		return off, nil
	}
	off, err := o.store.Allocate()
	if err != nil {
		return 0, err
	}
	o.table.SetOffset(id, off)
	delete(o.sealed, id)
	return off, nil
}

func (o *Orchestrator) zeroSlot(slot int) {
	data := o.slotData(slot)
	for i := range data {
		data[i] = 0
	}
}

func (o *Orchestrator) notePeak() {
	if r := o.table.ResidentCount(); r > o.peakResident {
		o.peakResident = r
	}
}
