package engine

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory PageStore for engine tests. It mimics the
// FileStore's append-only allocation and can inject failures. Configure the
// injection fields before any I/O starts.
type memStore struct {
	mu        sync.Mutex
	pageBytes int64
	pages     map[int64][]complex128
	next      int64
	reads     int
	writes    int
	failReads int           // fail this many ReadPage calls before succeeding
	allocErr  error         // returned by Allocate when set
	writeGate chan struct{} // when set, WritePage blocks until the channel closes
}

func newMemStore(pageSize int) *memStore {
	return &memStore{
		pageBytes: int64(pageSize) * amplitudeBytes,
		pages:     make(map[int64][]complex128),
	}
}

func (s *memStore) ReadPage(offset int64, dst []complex128) error {
	s.mu.Lock()
	if s.failReads > 0 {
		s.failReads--
		s.mu.Unlock()
		return errors.New("injected read failure")
	}
	s.reads++
	src, ok := s.pages[offset]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("read of unwritten offset %d", offset)
	}
	copy(dst, src)
	return nil
}

func (s *memStore) WritePage(offset int64, src []complex128) error {
	if s.writeGate != nil {
		<-s.writeGate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[offset] = append([]complex128(nil), src...)
	s.writes++
	return nil
}

func (s *memStore) Allocate() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allocErr != nil {
		return 0, s.allocErr
	}
	off := s.next
	s.next += s.pageBytes
	return off, nil
}

func (s *memStore) Sync() error { return nil }

func (s *memStore) Footprint() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *memStore) Close() error { return nil }

func TestIOEngine_PrefetchWaitsForSamePageWriteback(t *testing.T) {
	// GIVEN a store whose writes block until released
	st := newMemStore(2)
	st.writeGate = make(chan struct{})
	e := NewIOEngine(st, 4)
	defer e.Close()

	written := []complex128{complex(1, 0), complex(0, -1)}
	dst := make([]complex128, 2)

	// WHEN a prefetch of the same page chases an in-flight writeback
	wh := e.SubmitWriteback(5, written, 0)
	ph := e.SubmitPrefetch(5, dst, 0)

	// THEN neither completes while the write is stuck
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, e.PollCompletions(), "prefetch must be held behind the writeback")

	close(st.writeGate)

	first := e.WaitCompletion()
	second := e.WaitCompletion()

	require.Equal(t, OpWriteback, first.Kind)
	assert.Equal(t, wh, first.Handle)
	require.NoError(t, first.Err)

	require.Equal(t, OpPrefetch, second.Kind)
	assert.Equal(t, ph, second.Handle)
	require.NoError(t, second.Err)
	assert.Equal(t, written, dst, "prefetch observes the written data")
}

func TestIOEngine_IndependentPagesOverlap(t *testing.T) {
	st := newMemStore(2)
	e := NewIOEngine(st, 4)
	defer e.Close()

	// Seed four pages directly on the store.
	offsets := make([]int64, 4)
	for i := range offsets {
		off, err := st.Allocate()
		require.NoError(t, err)
		require.NoError(t, st.WritePage(off, []complex128{complex(float64(i), 0), 0}))
		offsets[i] = off
	}

	dsts := make([][]complex128, 4)
	handles := make(map[Handle]PageID, 4)
	for i := range offsets {
		dsts[i] = make([]complex128, 2)
		h := e.SubmitPrefetch(PageID(i), dsts[i], offsets[i])
		handles[h] = PageID(i)
	}

	for n := 0; n < 4; n++ {
		c := e.WaitCompletion()
		require.NoError(t, c.Err)
		page, ok := handles[c.Handle]
		require.True(t, ok, "completion handle must match a submission")
		assert.Equal(t, page, c.Page)
		delete(handles, c.Handle)
	}
	assert.Empty(t, handles, "every submission completed exactly once")
	for i, dst := range dsts {
		assert.Equal(t, complex(float64(i), 0), dst[0])
	}
}

func TestIOEngine_FailureIsTaggedNotRetried(t *testing.T) {
	// GIVEN a prefetch of an offset nothing ever wrote
	st := newMemStore(2)
	e := NewIOEngine(st, 1)
	defer e.Close()

	h := e.SubmitPrefetch(9, make([]complex128, 2), 1234)
	c := e.WaitCompletion()

	// THEN the failure arrives as a tagged completion; the engine itself
	// performed exactly one attempt.
	assert.Equal(t, h, c.Handle)
	assert.Equal(t, PageID(9), c.Page)
	assert.Equal(t, OpPrefetch, c.Kind)
	assert.Error(t, c.Err)

	st.mu.Lock()
	reads := st.reads
	st.mu.Unlock()
	assert.Equal(t, 1, reads)
}
