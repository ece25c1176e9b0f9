package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPageTable_StartsUnallocated(t *testing.T) {
	table := NewPageTable(4)

	assert.Equal(t, 4, table.Len())
	assert.Equal(t, 0, table.ResidentCount())
	for i := 0; i < 4; i++ {
		assert.Equal(t, PageUnallocated, table.State(PageID(i)))
		assert.Less(t, table.Offset(PageID(i)), int64(0), "fresh page must have no offset")
	}
}

func TestPageTable_ResidencyTransitions(t *testing.T) {
	table := NewPageTable(3)

	// WHEN a page becomes resident
	table.SetResident(1, 7)
	assert.Equal(t, PageResident, table.State(1))
	assert.Equal(t, 7, table.Slot(1))
	assert.Equal(t, 1, table.ResidentCount())

	// re-residency must not double count
	table.SetResident(1, 7)
	assert.Equal(t, 1, table.ResidentCount())

	// WHEN it is evicted with a durable offset
	table.MarkDirty(1)
	table.SetEvicted(1, 4096)
	assert.Equal(t, PageEvicted, table.State(1))
	assert.Equal(t, int64(4096), table.Offset(1))
	assert.False(t, table.Dirty(1), "eviction clears the dirty flag")
	assert.Equal(t, 0, table.ResidentCount())
}

func TestPageTable_SetUnallocatedDropsResidency(t *testing.T) {
	table := NewPageTable(2)
	table.SetResident(0, 0)
	table.SetUnallocated(0)

	assert.Equal(t, PageUnallocated, table.State(0))
	assert.Equal(t, 0, table.ResidentCount())
	assert.False(t, table.Dirty(0))
}

func TestPageTable_ResidentPagesInIDOrder(t *testing.T) {
	table := NewPageTable(6)
	table.SetResident(5, 0)
	table.SetResident(1, 1)
	table.SetResident(3, 2)

	assert.Equal(t, []PageID{1, 3, 5}, table.ResidentPages())
}

func TestPageTable_OffsetSurvivesResidencyChanges(t *testing.T) {
	// An offset assigned on first writeback is kept for the rest of the run.
	table := NewPageTable(1)
	table.SetResident(0, 0)
	table.SetOffset(0, 128)
	table.SetEvicted(0, 128)
	table.SetResident(0, 3)

	assert.Equal(t, int64(128), table.Offset(0))
}
