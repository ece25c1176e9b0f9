package engine

import (
	"container/list"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rich7420/qpaging/circuit"
)

// planKey identifies a cached plan. The structural fingerprint alone is not
// enough: the same circuit analyzed under a different page geometry or
// lookahead depth yields a different plan, so those parameters join the key.
type planKey struct {
	fp        circuit.Fingerprint
	pageSize  int
	lookahead int
}

// ScheduleCache memoizes access plans across runs so that re-executions of a
// structurally identical circuit (parameterized/variational workloads) skip
// re-analysis. Bounded, least-recently-used eviction by key.
//
// The cache is process-wide state with an explicit lifecycle: construct it
// once, pass it to every run that should share it. It owns plans
// independently of any single run and may outlive all of them. Safe for
// concurrent use.
type ScheduleCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[planKey]*list.Element
	order    *list.List // front = most recently used

	hits, misses, rejects int
}

type cacheEntry struct {
	key  planKey
	plan *AccessPlan
}

// NewScheduleCache builds a cache bounded to capacity distinct circuit
// structures.
func NewScheduleCache(capacity int) *ScheduleCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ScheduleCache{
		capacity: capacity,
		entries:  make(map[planKey]*list.Element),
		order:    list.New(),
	}
}

// Lookup returns the cached plan for a fingerprint under the given geometry
// and lookahead, or nil on miss. The summary of the stored plan is compared
// against the caller's structural summary on every hit: a mismatch means a
// fingerprint collision, which is treated as a miss and counted, never as a
// reusable plan.
func (sc *ScheduleCache) Lookup(fp circuit.Fingerprint, summary string, pageSize, lookahead int) *AccessPlan {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	key := planKey{fp: fp, pageSize: pageSize, lookahead: lookahead}
	elem, ok := sc.entries[key]
	if !ok {
		sc.misses++
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if entry.plan.Summary != summary {
		sc.rejects++
		logrus.Warnf("schedule cache: fingerprint collision on %s, rejecting reuse", fp[:12])
		return nil
	}
	sc.order.MoveToFront(elem)
	sc.hits++
	return entry.plan
}

// Insert stores a plan under its own fingerprint and geometry. If another
// structure already occupies the key (collision), the existing entry wins
// and the insert is rejected: the cache never holds a plan whose summary
// disagrees with its key's first occupant.
func (sc *ScheduleCache) Insert(plan *AccessPlan) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	key := planKey{fp: plan.Fingerprint, pageSize: plan.PageSize, lookahead: plan.Lookahead}
	if elem, ok := sc.entries[key]; ok {
		existing := elem.Value.(*cacheEntry)
		if existing.plan.Summary != plan.Summary {
			sc.rejects++
			logrus.Warnf("schedule cache: refusing to replace colliding entry %s", plan.Fingerprint[:12])
			return false
		}
		sc.order.MoveToFront(elem)
		return true
	}

	for sc.order.Len() >= sc.capacity {
		oldest := sc.order.Back()
		victim := oldest.Value.(*cacheEntry)
		sc.order.Remove(oldest)
		delete(sc.entries, victim.key)
		logrus.Debugf("schedule cache: evicted %s (LRU)", victim.key.fp[:12])
	}

	elem := sc.order.PushFront(&cacheEntry{key: key, plan: plan})
	sc.entries[key] = elem
	return true
}

// Len reports how many plans the cache currently holds.
func (sc *ScheduleCache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.order.Len()
}

// Stats returns hit/miss/reject counters since construction.
func (sc *ScheduleCache) Stats() (hits, misses, rejects int) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.hits, sc.misses, sc.rejects
}
