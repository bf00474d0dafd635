package blockmanager

import (
	"context"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/dbctx"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
	"gorm.io/gorm"
)

// blockLocationRow is the persisted row backing one (block, executor)
// placement fact. TableName mirrors the teacher's convention of an explicit
// singular snake_case table name per model.
type blockLocationRow struct {
	BlockID    string `gorm:"primaryKey;column:block_id"`
	ExecutorID string `gorm:"primaryKey;column:executor_id"`
	Host       string `gorm:"column:host"`
	UpdatedAt  time.Time
}

func (blockLocationRow) TableName() string { return "block_location" }

// executorHeartbeatRow tracks the last time each executor's heartbeat RPC
// succeeded, for an external liveness checker to consult.
type executorHeartbeatRow struct {
	ExecutorID  string `gorm:"primaryKey;column:executor_id"`
	HeartbeatAt time.Time
}

func (executorHeartbeatRow) TableName() string { return "executor_heartbeat" }

// PostgresMaster is a gorm/Postgres-backed Master. It is the cache-location
// index's only source of truth for persisted-dataset placement; the
// scheduler core never queries the database directly.
type PostgresMaster struct {
	db  *gorm.DB
	log *logger.Logger

	heartbeatTimeout time.Duration
}

// NewPostgresMaster auto-migrates its tables and returns a ready Master.
func NewPostgresMaster(db *gorm.DB, log *logger.Logger, heartbeatTimeout time.Duration) (*PostgresMaster, error) {
	if err := db.AutoMigrate(&blockLocationRow{}, &executorHeartbeatRow{}); err != nil {
		return nil, err
	}
	return &PostgresMaster{
		db:               db,
		log:              log.With("component", "blockmanager.PostgresMaster"),
		heartbeatTimeout: heartbeatTimeout,
	}, nil
}

// conn resolves the *gorm.DB to run a query against: dc.Tx if the caller
// already opened one (so this query joins that transaction), otherwise
// m.db scoped to dc.Ctx.
func (m *PostgresMaster) conn(dc dbctx.Context) *gorm.DB {
	if dc.Tx != nil {
		return dc.Tx
	}
	ctx := dc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return m.db.WithContext(ctx)
}

// RecordLocation is called by the task scheduler's collaborator code when a
// persisted partition is cached on an executor; it is not part of the
// Master interface the scheduler core uses, since the core only ever reads
// locations back out.
func (m *PostgresMaster) RecordLocation(dc dbctx.Context, datasetID domain.DatasetID, partition domain.PartitionID, loc domain.TaskLocation) error {
	row := blockLocationRow{
		BlockID:    BlockID(datasetID, partition),
		ExecutorID: loc.ExecutorID,
		Host:       loc.Host,
		UpdatedAt:  time.Now(),
	}
	return m.conn(dc).Save(&row).Error
}

func (m *PostgresMaster) GetLocations(dc dbctx.Context, blockIDs []string) map[string][]domain.TaskLocation {
	out := make(map[string][]domain.TaskLocation, len(blockIDs))
	if len(blockIDs) == 0 {
		return out
	}

	var rows []blockLocationRow
	if err := m.conn(dc).Where("block_id IN ?", blockIDs).Find(&rows).Error; err != nil {
		m.log.Warn("block location lookup failed", "error", err)
		return out
	}
	for _, r := range rows {
		out[r.BlockID] = append(out[r.BlockID], domain.TaskLocation{Host: r.Host, ExecutorID: r.ExecutorID})
	}
	return out
}

func (m *PostgresMaster) RemoveExecutor(dc dbctx.Context, execID domain.ExecutorID) error {
	return m.conn(dc).Where("executor_id = ?", string(execID)).Delete(&blockLocationRow{}).Error
}

func (m *PostgresMaster) Heartbeat(dc dbctx.Context, execID domain.ExecutorID) error {
	if dc.Ctx == nil {
		var cancel context.CancelFunc
		dc.Ctx, cancel = context.WithTimeout(context.Background(), m.heartbeatTimeout)
		defer cancel()
	}
	row := executorHeartbeatRow{ExecutorID: string(execID), HeartbeatAt: time.Now()}
	return m.conn(dc).Save(&row).Error
}
