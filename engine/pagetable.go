package engine

import "fmt"

// PageID addresses one fixed-size block of the amplitude vector. Ids are
// dense in [0, NumPages) and never change meaning within a run.
type PageID int

// PageState is the closed residency state set. Every transition site switches
// exhaustively over these three values.
type PageState uint8

const (
	// PageUnallocated means no backing-store space is reserved; the page's
	// content is implicitly all-zero and reading it performs no device I/O.
	PageUnallocated PageState = iota

	// PageResident means the page occupies a working-set slot and is
	// writable in place.
	PageResident

	// PageEvicted means the page has a valid backing-store offset and no
	// working-set slot.
	PageEvicted
)

// String renders the state for logs and checkpoint manifests.
func (s PageState) String() string {
	switch s {
	case PageUnallocated:
		return "unallocated"
	case PageResident:
		return "resident"
	case PageEvicted:
		return "evicted"
	default:
		return fmt.Sprintf("PageState(%d)", uint8(s))
	}
}

// noOffset marks a page that has never been written back.
const noOffset int64 = -1

// noSlot marks a page without a working-set slot.
const noSlot = -1

// pageEntry is the per-page record. Kept flat and index-addressed; I/O
// handles reference pages by id only, so the table never participates in
// ownership cycles with in-flight requests.
type pageEntry struct {
	state  PageState
	dirty  bool
	offset int64 // backing-store byte offset, assigned lazily on first writeback
	slot   int   // working-set slot index while resident
}

// PageTable is the ground-truth residency map: a flat array indexed by
// PageID. It is owned and mutated exclusively by the orchestrator; nothing
// else writes to it.
type PageTable struct {
	entries  []pageEntry
	resident int
}

// NewPageTable builds a table of numPages entries, all Unallocated.
func NewPageTable(numPages int) *PageTable {
	t := &PageTable{entries: make([]pageEntry, numPages)}
	for i := range t.entries {
		t.entries[i].offset = noOffset
		t.entries[i].slot = noSlot
	}
	return t
}

// Len returns the number of pages the table covers.
func (t *PageTable) Len() int { return len(t.entries) }

// State returns the residency state of a page.
func (t *PageTable) State(id PageID) PageState { return t.entries[id].state }

// Dirty reports whether a resident page has unwritten modifications.
func (t *PageTable) Dirty(id PageID) bool { return t.entries[id].dirty }

// Offset returns the backing-store offset, or noOffset if never written back.
func (t *PageTable) Offset(id PageID) int64 { return t.entries[id].offset }

// Slot returns the working-set slot of a resident page.
func (t *PageTable) Slot(id PageID) int { return t.entries[id].slot }

// ResidentCount is the current number of Resident pages; the orchestrator's
// budget invariant is ResidentCount() <= BudgetPages at every observation
// point.
func (t *PageTable) ResidentCount() int { return t.resident }

// SetResident transitions a page into the working set at the given slot.
func (t *PageTable) SetResident(id PageID, slot int) {
	e := &t.entries[id]
	if e.state != PageResident {
		t.resident++
	}
	e.state = PageResident
	e.slot = slot
}

// SetEvicted transitions a page out of the working set, recording the offset
// that holds its durable copy.
func (t *PageTable) SetEvicted(id PageID, offset int64) {
	e := &t.entries[id]
	if e.state == PageResident {
		t.resident--
	}
	e.state = PageEvicted
	e.offset = offset
	e.dirty = false
	e.slot = noSlot
}

// SetUnallocated reverts a never-written page to its zero-footprint state.
// Only legal when the page has no durable copy and no pending modifications.
func (t *PageTable) SetUnallocated(id PageID) {
	e := &t.entries[id]
	if e.state == PageResident {
		t.resident--
	}
	e.state = PageUnallocated
	e.dirty = false
	e.slot = noSlot
}

// MarkDirty flags a resident page as modified since its last writeback.
func (t *PageTable) MarkDirty(id PageID) { t.entries[id].dirty = true }

// ClearDirty records a completed writeback.
func (t *PageTable) ClearDirty(id PageID) { t.entries[id].dirty = false }

// SetOffset records the lazily assigned backing-store offset.
func (t *PageTable) SetOffset(id PageID, offset int64) { t.entries[id].offset = offset }

// ResidentPages returns the ids of all resident pages in id order.
func (t *PageTable) ResidentPages() []PageID {
	ids := make([]PageID, 0, t.resident)
	for i := range t.entries {
		if t.entries[i].state == PageResident {
			ids = append(ids, PageID(i))
		}
	}
	return ids
}
