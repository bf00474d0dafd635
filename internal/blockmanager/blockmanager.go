// Package blockmanager tracks which executors hold cached partitions of
// persisted datasets. The scheduler core consults it only through the
// Master interface, via the Cache-Location Index.
package blockmanager

import (
	"fmt"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/dbctx"
)

// BlockID derives the canonical block identifier for one dataset partition.
// Both the scheduler and any block-manager implementation must agree on this
// mapping since it is the join key between the two.
func BlockID(datasetID domain.DatasetID, partition domain.PartitionID) string {
	return fmt.Sprintf("rdd_%d_%d", datasetID, partition)
}

// Master is the block manager master interface the scheduler depends on.
// Every method takes a dbctx.Context so a Postgres-backed implementation can
// participate in a transaction its caller already opened, the same carrier
// the rest of the persistence layer threads through.
type Master interface {
	// GetLocations batch-resolves candidate locations for every block id in
	// blockIDs, returning a map keyed by the same ids (blocks with no known
	// location are simply absent from the result).
	GetLocations(dc dbctx.Context, blockIDs []string) map[string][]domain.TaskLocation

	// RemoveExecutor drops every block location recorded against execID.
	RemoveExecutor(dc dbctx.Context, execID domain.ExecutorID) error

	// Heartbeat is the synchronous block-manager heartbeat RPC; it is the
	// one blocking call the event loop is permitted to make directly, and
	// callers are expected to bound it via dc.Ctx.
	Heartbeat(dc dbctx.Context, execID domain.ExecutorID) error
}
