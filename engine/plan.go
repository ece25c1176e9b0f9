package engine

import (
	"sort"

	"github.com/rich7420/qpaging/circuit"
)

// PlanStep is one unit of execution: a gate application restricted to the
// smallest page group that must be co-resident for the kernel to make
// progress. A gate whose operands all fall below the page boundary expands
// into one step per touched page; a gate pairing pages across a high target
// bit expands into steps of two (or four, ...) pages each. Every page in a
// step is both read and written by the kernel.
type PlanStep struct {
	Gate  int      // index into the circuit's gate sequence
	Pages []PageID // sorted, deduplicated co-resident touch set
}

// AccessPlan is the ordered, structure-derived record of which pages each
// step touches, plus the derived indexes the orchestrator consults: per-step
// lookahead windows and a next-use table for plan-aware eviction.
//
// A plan is immutable after Analyze returns and is safely shared by any
// number of concurrent readers, including across schedule-cache hits reused
// by different runs.
type AccessPlan struct {
	Fingerprint circuit.Fingerprint
	Summary     string // structural summary, compared on cache hits

	NumQubits int
	PageSize  int
	Lookahead int

	Steps []PlanStep

	// windows[s] lists the pages needed at steps s..s+Lookahead, soonest
	// first, deduplicated.
	windows [][]PageID

	// occurrences maps each touched page to the sorted step indices that
	// touch it.
	occurrences map[PageID][]int

	maxStepPages int
}

// Window returns the prefetch window for a step: every page some step in
// [s, s+Lookahead] touches, ordered soonest-needed first.
func (p *AccessPlan) Window(s int) []PageID {
	if s < 0 || s >= len(p.windows) {
		return nil
	}
	return p.windows[s]
}

// NextUse returns the first step index >= from that touches the page, or
// false when the page has no remaining use in the plan.
func (p *AccessPlan) NextUse(id PageID, from int) (int, bool) {
	occ := p.occurrences[id]
	i := sort.SearchInts(occ, from)
	if i == len(occ) {
		return 0, false
	}
	return occ[i], true
}

// MaxStepPages is the largest touch set of any single step; the memory
// budget must be at least this many pages or the run fails with ErrCapacity
// before execution starts.
func (p *AccessPlan) MaxStepPages() int { return p.maxStepPages }

// TouchedPages returns the ids of every page any step touches, in id order.
// Pages absent from this set keep zero backing-store footprint for the whole
// run.
func (p *AccessPlan) TouchedPages() []PageID {
	ids := make([]PageID, 0, len(p.occurrences))
	for id := range p.occurrences {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
