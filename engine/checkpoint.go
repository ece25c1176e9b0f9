package engine

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/crypto/blake2b"

	"github.com/rich7420/qpaging/circuit"
)

// pageRecord is one page-table row in a checkpoint manifest. Unallocated
// pages are omitted entirely: their content is implicitly zero, and leaving
// them out keeps the manifest as sparse as the store itself.
type pageRecord struct {
	ID     int   `json:"id"`
	Offset int64 `json:"offset"`
}

// Manifest is the durable metadata a checkpoint consists of: the page table,
// the plan position, and a flush marker proving every dirty page reachable
// from the table was written back before the manifest was sealed. The bulk
// amplitude data never moves at snapshot time; it is already staged on the
// backing store by ordinary eviction.
//
// The manifest must read back exactly as written for restore to be valid;
// the flush marker doubles as the integrity check.
type Manifest struct {
	CheckpointID string       `json:"checkpoint_id"`
	RunID        string       `json:"run_id"`
	Fingerprint  string       `json:"fingerprint"`
	NumQubits    int          `json:"num_qubits"`
	PageSize     int          `json:"page_size"`
	Step         int          `json:"step"`
	NextOffset   int64        `json:"next_offset"`
	Pages        []pageRecord `json:"pages"`
	FlushMarker  string       `json:"flush_marker"`
}

// marker hashes every manifest field except the marker itself.
func (m *Manifest) marker() (string, error) {
	clone := *m
	clone.FlushMarker = ""
	data, err := sonnet.Marshal(&clone)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// CheckpointManager persists and restores the minimal metadata needed to
// resume a run. One manager serves one run; the latest manifest supersedes
// the previous one atomically.
type CheckpointManager struct {
	path  string
	runID string
	fp    circuit.Fingerprint
	geom  Geometry
	orch  *Orchestrator
	store PageStore
}

// NewCheckpointManager wires a manager over a run's orchestrator and store.
func NewCheckpointManager(path, runID string, fp circuit.Fingerprint, geom Geometry, orch *Orchestrator, store PageStore) *CheckpointManager {
	return &CheckpointManager{path: path, runID: runID, fp: fp, geom: geom, orch: orch, store: store}
}

// Snapshot flushes all dirty resident pages, syncs the store, and writes the
// manifest atomically (temp file + rename), superseding any previous
// checkpoint at the same path.
func (cm *CheckpointManager) Snapshot(step int) (*Manifest, error) {
	if err := cm.orch.FlushDirty(); err != nil {
		return nil, fmt.Errorf("checkpoint flush: %w", err)
	}
	if err := cm.store.Sync(); err != nil {
		return nil, fmt.Errorf("checkpoint sync: %w", err)
	}

	table := cm.orch.Table()
	m := &Manifest{
		CheckpointID: xid.New().String(),
		RunID:        cm.runID,
		Fingerprint:  string(cm.fp),
		NumQubits:    cm.geom.NumQubits,
		PageSize:     cm.geom.PageSize,
		Step:         step,
		NextOffset:   cm.store.Footprint(),
	}
	for i := 0; i < table.Len(); i++ {
		id := PageID(i)
		switch table.State(id) {
		case PageUnallocated:
			// zero footprint, zero content: nothing to record
		case PageResident:
			if table.Offset(id) == noOffset {
				// resident, clean, never written back: still logically zero
				continue
			}
			m.Pages = append(m.Pages, pageRecord{ID: i, Offset: table.Offset(id)})
		case PageEvicted:
			m.Pages = append(m.Pages, pageRecord{ID: i, Offset: table.Offset(id)})
		}
	}

	marker, err := m.marker()
	if err != nil {
		return nil, fmt.Errorf("checkpoint marker: %w", err)
	}
	m.FlushMarker = marker

	if err := writeManifest(cm.path, m); err != nil {
		return nil, err
	}
	// The published manifest now references these offsets; writebacks from
	// later steps must copy to fresh space rather than update them in place,
	// or an abort would restore pages already containing post-snapshot state.
	cm.orch.SealOffsets()
	logrus.Infof("checkpoint %s written at step %d (%d recorded pages)", m.CheckpointID, step, len(m.Pages))
	return m, nil
}

// writeManifest makes the new manifest durable before it replaces the old
// one, so a crash mid-checkpoint always leaves one valid manifest behind.
func writeManifest(path string, m *Manifest) error {
	data, err := sonnet.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("stage checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("stage checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("stage checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("stage checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// LoadManifest reads a checkpoint manifest and verifies its flush marker.
// Any inconsistency surfaces as ErrCorruptCheckpoint; restore never proceeds
// from unverified state.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	var m Manifest
	if err := sonnet.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if m.FlushMarker == "" {
		return nil, fmt.Errorf("%w: missing flush marker", ErrCorruptCheckpoint)
	}
	want, err := m.marker()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	if want != m.FlushMarker {
		return nil, fmt.Errorf("%w: flush marker mismatch", ErrCorruptCheckpoint)
	}
	return &m, nil
}

// TableFromManifest rebuilds the page table a restored run starts from. All
// recorded pages come back Evicted (their durable copies are on the store);
// everything else is Unallocated.
func (m *Manifest) TableFromManifest(numPages int) (*PageTable, error) {
	table := NewPageTable(numPages)
	for _, rec := range m.Pages {
		if rec.ID < 0 || rec.ID >= numPages {
			return nil, fmt.Errorf("%w: page %d outside table of %d", ErrCorruptCheckpoint, rec.ID, numPages)
		}
		if rec.Offset < 0 {
			return nil, fmt.Errorf("%w: page %d recorded without offset", ErrCorruptCheckpoint, rec.ID)
		}
		table.SetEvicted(PageID(rec.ID), rec.Offset)
	}
	return table, nil
}
