package engine

import (
	"fmt"
	"math/bits"
	"os"

	"gopkg.in/yaml.v3"
)

// Config carries every tunable of the paging engine. All sizes are expressed
// in pages or amplitudes, never bytes, so the complex128 element size stays
// an internal detail of the backing store.
type Config struct {
	// PageSize is the number of complex amplitudes per page. Must be a power
	// of two. The default of 256 amplitudes yields 4096-byte pages.
	PageSize int `yaml:"page_size"`

	// BudgetPages is the hard ceiling on simultaneously resident pages.
	BudgetPages int `yaml:"budget_pages"`

	// LookaheadDepth is how many plan steps ahead the analyzer aggregates
	// page needs into each step's prefetch window.
	LookaheadDepth int `yaml:"lookahead_depth"`

	// PrefetchDepth bounds concurrently in-flight I/O operations.
	PrefetchDepth int `yaml:"prefetch_depth"`

	// CacheCapacity bounds the schedule cache (distinct circuit structures).
	CacheCapacity int `yaml:"cache_capacity"`

	// IORetryLimit is how many times a transiently failed transfer is
	// resubmitted before the run fails.
	IORetryLimit int `yaml:"io_retry_limit"`

	// CheckpointInterval triggers a snapshot every N executed steps.
	// Zero disables periodic checkpointing.
	CheckpointInterval int `yaml:"checkpoint_interval"`

	// StorePath is the backing-store file location.
	StorePath string `yaml:"store_path"`

	// CheckpointPath is where the latest checkpoint manifest lives.
	// Empty disables checkpointing entirely.
	CheckpointPath string `yaml:"checkpoint_path"`

	// MaxStoreBytes caps backing-store growth. Zero means unlimited.
	MaxStoreBytes int64 `yaml:"max_store_bytes"`
}

// DefaultConfig returns the engine defaults; the store path must still be
// filled in by the caller.
func DefaultConfig() Config {
	return Config{
		PageSize:       256,
		BudgetPages:    64,
		LookaheadDepth: 8,
		PrefetchDepth:  4,
		CacheCapacity:  32,
		IORetryLimit:   3,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.PageSize <= 0 || bits.OnesCount(uint(c.PageSize)) != 1 {
		return fmt.Errorf("page_size must be a positive power of two, got %d", c.PageSize)
	}
	if c.BudgetPages <= 0 {
		return fmt.Errorf("budget_pages must be positive, got %d", c.BudgetPages)
	}
	if c.LookaheadDepth < 0 {
		return fmt.Errorf("lookahead_depth must be non-negative, got %d", c.LookaheadDepth)
	}
	if c.PrefetchDepth <= 0 {
		return fmt.Errorf("prefetch_depth must be positive, got %d", c.PrefetchDepth)
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive, got %d", c.CacheCapacity)
	}
	if c.IORetryLimit < 0 {
		return fmt.Errorf("io_retry_limit must be non-negative, got %d", c.IORetryLimit)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	return nil
}

// Geometry fixes the address arithmetic of one run: how many amplitudes the
// register holds and how they split into pages. All page-id math in the
// engine goes through these methods.
type Geometry struct {
	NumQubits int
	PageSize  int // amplitudes per page, power of two
}

// NewGeometry derives the geometry for a register of n qubits.
func NewGeometry(numQubits, pageSize int) Geometry {
	return Geometry{NumQubits: numQubits, PageSize: pageSize}
}

// TotalAmplitudes is 2^n.
func (g Geometry) TotalAmplitudes() uint64 {
	return 1 << g.NumQubits
}

// Log2PageSize is the number of index bits that address within a page.
func (g Geometry) Log2PageSize() int {
	return bits.TrailingZeros(uint(g.PageSize))
}

// NumPages is the page count covering the whole vector. A register smaller
// than one page still occupies a single page.
func (g Geometry) NumPages() int {
	total := g.TotalAmplitudes()
	pages := (total + uint64(g.PageSize) - 1) / uint64(g.PageSize)
	if pages == 0 {
		pages = 1
	}
	return int(pages)
}

// PageOf maps an amplitude index to its page id.
func (g Geometry) PageOf(index uint64) PageID {
	return PageID(index >> uint(g.Log2PageSize()))
}

// OffsetOf maps an amplitude index to its position within its page.
func (g Geometry) OffsetOf(index uint64) int {
	return int(index & uint64(g.PageSize-1))
}
