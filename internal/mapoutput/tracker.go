// Package mapoutput tracks where shuffle map output lives: which map tasks
// of a shuffle have registered output, and where each one can be fetched
// from. The scheduler core never stores this itself — it always asks the
// Tracker, matching the spec's "map-output tracker" downward collaborator.
package mapoutput

import "github.com/flowstage/dagscheduler/internal/domain"

// MapStatus is one map task's registered output location, keyed by
// partition (map) id.
type MapStatus struct {
	Location  domain.TaskLocation
	MapID     int64
	ShuffleID domain.ShuffleID
}

// MapOutputStatistics summarizes a completed shuffle map stage, returned to
// submitMapStage callers.
type MapOutputStatistics struct {
	ShuffleID  domain.ShuffleID
	BytesByPartition []int64
}

// Tracker is the map-output tracker interface the scheduler core depends on.
// Implementations persist shuffle location metadata; the core only ever
// calls through this interface, never touching storage directly.
type Tracker interface {
	// RegisterShuffle allocates bookkeeping for a new shuffle with the
	// given number of map partitions. Safe to call more than once for the
	// same shuffle id; subsequent calls are no-ops.
	RegisterShuffle(shuffleID domain.ShuffleID, numMapPartitions int) error

	// RegisterMapOutput records that mapID's output for shuffleID is
	// available at loc. Overwrites any previous registration for the same
	// (shuffleID, mapID).
	RegisterMapOutput(shuffleID domain.ShuffleID, mapID int64, loc domain.TaskLocation) error

	// UnregisterMapOutput removes a single map task's registered output,
	// e.g. after a fetch failure implicates exactly that output.
	UnregisterMapOutput(shuffleID domain.ShuffleID, mapID int64) error

	// UnregisterAllMapOutput removes every registered output of a shuffle,
	// used when a barrier-stage producer loses any output.
	UnregisterAllMapOutput(shuffleID domain.ShuffleID) error

	// RemoveOutputsOnHost unregisters every map output hosted on host,
	// across all shuffles, used on WorkerRemoved.
	RemoveOutputsOnHost(host string) error

	// RemoveOutputsOnExecutor unregisters every map output registered
	// against execID, across all shuffles.
	RemoveOutputsOnExecutor(execID domain.ExecutorID) error

	// ContainsShuffle reports whether shuffleID has ever been registered.
	ContainsShuffle(shuffleID domain.ShuffleID) bool

	// NumAvailableOutputs counts the currently-registered map outputs for
	// shuffleID.
	NumAvailableOutputs(shuffleID domain.ShuffleID) int

	// MissingMapIDs returns, for map ids 0..numMapPartitions-1, those not
	// currently registered. The stage submission engine uses this to decide
	// exactly which partitions of a ShuffleMapStage still need a task.
	MissingMapIDs(shuffleID domain.ShuffleID, numMapPartitions int) []int64

	// GetStatistics returns per-partition byte statistics for a completed
	// shuffle, or an error if the shuffle is not fully registered.
	GetStatistics(shuffleID domain.ShuffleID) (*MapOutputStatistics, error)

	// IncrementEpoch bumps the tracker's global epoch, invalidating any
	// task launched before the bump once it completes.
	IncrementEpoch()

	// GetEpoch returns the tracker's current global epoch.
	GetEpoch() domain.Epoch
}
