package blockmanager

import (
	"sync"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/dbctx"
)

// InMemoryMaster is a process-local Master, for local development and
// tests where a Postgres instance is unavailable. PostgresMaster is the
// cluster-wide equivalent.
type InMemoryMaster struct {
	mu        sync.Mutex
	locations map[string][]domain.TaskLocation
}

// NewInMemoryMaster returns an empty master.
func NewInMemoryMaster() *InMemoryMaster {
	return &InMemoryMaster{locations: make(map[string][]domain.TaskLocation)}
}

// RecordLocation records that blockID is cached at loc, mirroring
// PostgresMaster.RecordLocation's role as the write path the scheduler core
// never calls directly.
func (m *InMemoryMaster) RecordLocation(datasetID domain.DatasetID, partition domain.PartitionID, loc domain.TaskLocation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blockID := BlockID(datasetID, partition)
	m.locations[blockID] = append(m.locations[blockID], loc)
}

func (m *InMemoryMaster) GetLocations(dc dbctx.Context, blockIDs []string) map[string][]domain.TaskLocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]domain.TaskLocation, len(blockIDs))
	for _, id := range blockIDs {
		if locs, ok := m.locations[id]; ok {
			out[id] = locs
		}
	}
	return out
}

func (m *InMemoryMaster) RemoveExecutor(dc dbctx.Context, execID domain.ExecutorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for blockID, locs := range m.locations {
		kept := locs[:0]
		for _, loc := range locs {
			if loc.ExecutorID != string(execID) {
				kept = append(kept, loc)
			}
		}
		m.locations[blockID] = kept
	}
	return nil
}

func (m *InMemoryMaster) Heartbeat(dc dbctx.Context, execID domain.ExecutorID) error {
	return nil
}
