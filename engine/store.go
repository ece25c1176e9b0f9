package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
)

// amplitudeBytes is the fixed on-store footprint of one complex128 amplitude:
// real then imaginary, each a little-endian float64.
const amplitudeBytes = 16

// PageStore is the backing-store boundary: page-granular reads and writes at
// explicit byte offsets, plus lazy space allocation. Offsets are always
// page-aligned multiples of the page byte size. Implementations must allow
// concurrent ReadPage/WritePage on distinct offsets; the engine's
// read-after-write ordering rule guarantees a single writer per page.
type PageStore interface {
	// ReadPage fills dst (exactly one page of amplitudes) from offset.
	ReadPage(offset int64, dst []complex128) error
	// WritePage stores src (exactly one page of amplitudes) at offset.
	WritePage(offset int64, src []complex128) error
	// Allocate reserves space for one page and returns its offset. Called
	// only on a page's first writeback, so pages never written consume no
	// storage. Fails with ErrStoreExhausted when the store cannot grow.
	Allocate() (int64, error)
	// Sync makes all completed writes durable.
	Sync() error
	// Footprint reports the bytes currently allocated.
	Footprint() int64
	// Close releases the underlying resources.
	Close() error
}

// FileStore backs pages with a single sparse, page-aligned file. Space is
// handed out append-only: a page gets its offset on first writeback and
// keeps it for the rest of the run, which preserves the single-writer-per-
// offset discipline and keeps unwritten regions without on-disk footprint.
type FileStore struct {
	mu         sync.Mutex
	f          *os.File
	pageBytes  int64
	nextOffset int64
	maxBytes   int64 // 0 = unlimited
}

// NewFileStore creates (or truncates) the backing file for a fresh run.
func NewFileStore(path string, pageSize int, maxBytes int64) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open backing store: %w", err)
	}
	return &FileStore{f: f, pageBytes: int64(pageSize) * amplitudeBytes, maxBytes: maxBytes}, nil
}

// OpenFileStore reopens an existing backing file during restore, resuming
// allocation where the checkpoint recorded it.
func OpenFileStore(path string, pageSize int, nextOffset, maxBytes int64) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reopen backing store: %w", err)
	}
	return &FileStore{
		f:          f,
		pageBytes:  int64(pageSize) * amplitudeBytes,
		nextOffset: nextOffset,
		maxBytes:   maxBytes,
	}, nil
}

// ReadPage implements PageStore.
func (s *FileStore) ReadPage(offset int64, dst []complex128) error {
	buf := make([]byte, len(dst)*amplitudeBytes)
	if _, err := s.f.ReadAt(buf, offset); err != nil {
		return fmt.Errorf("read page at %d: %w", offset, err)
	}
	decodeAmplitudes(buf, dst)
	return nil
}

// WritePage implements PageStore.
func (s *FileStore) WritePage(offset int64, src []complex128) error {
	buf := make([]byte, len(src)*amplitudeBytes)
	encodeAmplitudes(src, buf)
	if _, err := s.f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("write page at %d: %w", offset, err)
	}
	return nil
}

// Allocate implements PageStore.
func (s *FileStore) Allocate() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxBytes > 0 && s.nextOffset+s.pageBytes > s.maxBytes {
		return 0, fmt.Errorf("%w: %d bytes allocated, limit %d", ErrStoreExhausted, s.nextOffset, s.maxBytes)
	}
	off := s.nextOffset
	s.nextOffset += s.pageBytes
	return off, nil
}

// Sync implements PageStore.
func (s *FileStore) Sync() error { return s.f.Sync() }

// Footprint implements PageStore.
func (s *FileStore) Footprint() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextOffset
}

// Close implements PageStore.
func (s *FileStore) Close() error { return s.f.Close() }

func encodeAmplitudes(src []complex128, buf []byte) {
	for i, a := range src {
		binary.LittleEndian.PutUint64(buf[i*amplitudeBytes:], math.Float64bits(real(a)))
		binary.LittleEndian.PutUint64(buf[i*amplitudeBytes+8:], math.Float64bits(imag(a)))
	}
}

func decodeAmplitudes(buf []byte, dst []complex128) {
	for i := range dst {
		re := math.Float64frombits(binary.LittleEndian.Uint64(buf[i*amplitudeBytes:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(buf[i*amplitudeBytes+8:]))
		dst[i] = complex(re, im)
	}
}
