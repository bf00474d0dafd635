package mapoutput

import (
	"fmt"
	"sync"

	"github.com/flowstage/dagscheduler/internal/domain"
)

// InMemoryTracker is a process-local Tracker, the default for a
// single-process scheduler or for tests. RedisTracker is the cluster-wide
// equivalent.
type InMemoryTracker struct {
	mu sync.Mutex

	numPartitions map[domain.ShuffleID]int
	outputs       map[domain.ShuffleID]map[int64]domain.TaskLocation
	epoch         domain.Epoch
}

// NewInMemoryTracker returns an empty tracker.
func NewInMemoryTracker() *InMemoryTracker {
	return &InMemoryTracker{
		numPartitions: make(map[domain.ShuffleID]int),
		outputs:       make(map[domain.ShuffleID]map[int64]domain.TaskLocation),
	}
}

func (t *InMemoryTracker) RegisterShuffle(shuffleID domain.ShuffleID, numMapPartitions int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.numPartitions[shuffleID]; ok {
		return nil
	}
	t.numPartitions[shuffleID] = numMapPartitions
	t.outputs[shuffleID] = make(map[int64]domain.TaskLocation)
	return nil
}

func (t *InMemoryTracker) RegisterMapOutput(shuffleID domain.ShuffleID, mapID int64, loc domain.TaskLocation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	out, ok := t.outputs[shuffleID]
	if !ok {
		return fmt.Errorf("mapoutput: shuffle %d not registered", shuffleID)
	}
	out[mapID] = loc
	return nil
}

func (t *InMemoryTracker) UnregisterMapOutput(shuffleID domain.ShuffleID, mapID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if out, ok := t.outputs[shuffleID]; ok {
		delete(out, mapID)
	}
	return nil
}

func (t *InMemoryTracker) UnregisterAllMapOutput(shuffleID domain.ShuffleID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.outputs[shuffleID]; ok {
		t.outputs[shuffleID] = make(map[int64]domain.TaskLocation)
	}
	return nil
}

func (t *InMemoryTracker) RemoveOutputsOnHost(host string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, out := range t.outputs {
		for mapID, loc := range out {
			if loc.Host == host {
				delete(out, mapID)
			}
		}
	}
	return nil
}

func (t *InMemoryTracker) RemoveOutputsOnExecutor(execID domain.ExecutorID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, out := range t.outputs {
		for mapID, loc := range out {
			if loc.ExecutorID == string(execID) {
				delete(out, mapID)
			}
		}
	}
	return nil
}

func (t *InMemoryTracker) ContainsShuffle(shuffleID domain.ShuffleID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.numPartitions[shuffleID]
	return ok
}

func (t *InMemoryTracker) NumAvailableOutputs(shuffleID domain.ShuffleID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.outputs[shuffleID])
}

func (t *InMemoryTracker) MissingMapIDs(shuffleID domain.ShuffleID, numMapPartitions int) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.outputs[shuffleID]
	var missing []int64
	for id := int64(0); id < int64(numMapPartitions); id++ {
		if _, ok := out[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func (t *InMemoryTracker) GetStatistics(shuffleID domain.ShuffleID) (*MapOutputStatistics, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.numPartitions[shuffleID]
	if !ok || len(t.outputs[shuffleID]) != n {
		return nil, fmt.Errorf("mapoutput: shuffle %d is not fully available", shuffleID)
	}
	return &MapOutputStatistics{ShuffleID: shuffleID, BytesByPartition: make([]int64, n)}, nil
}

func (t *InMemoryTracker) IncrementEpoch() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.epoch++
}

func (t *InMemoryTracker) GetEpoch() domain.Epoch {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.epoch
}
