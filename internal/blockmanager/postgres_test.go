package blockmanager

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/dbctx"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var errMissingDSN = errors.New("missing TEST_POSTGRES_DSN")

var (
	dbOnce sync.Once
	testDB *gorm.DB
	dbErr  error
)

func testDBOrSkip(tb testing.TB) *gorm.DB {
	tb.Helper()
	dbOnce.Do(func() {
		dsn := os.Getenv("TEST_POSTGRES_DSN")
		if dsn == "" {
			dbErr = errMissingDSN
			return
		}
		testDB, dbErr = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		})
	})
	if errors.Is(dbErr, errMissingDSN) {
		tb.Skip("set TEST_POSTGRES_DSN to run block manager integration tests")
	}
	if dbErr != nil {
		tb.Fatalf("failed to init test db: %v", dbErr)
	}
	return testDB
}

func newTestMaster(tb testing.TB) *PostgresMaster {
	tb.Helper()
	db := testDBOrSkip(tb)
	log, err := logger.New("test")
	if err != nil {
		tb.Fatalf("failed to init logger: %v", err)
	}
	m, err := NewPostgresMaster(db, log, time.Second)
	if err != nil {
		tb.Fatalf("NewPostgresMaster: %v", err)
	}
	return m
}

func TestPostgresMasterRecordAndGetLocations(t *testing.T) {
	m := newTestMaster(t)
	dc := dbctx.Context{Ctx: context.Background()}

	loc := domain.TaskLocation{Host: "host-a", ExecutorID: "exec-1"}
	if err := m.RecordLocation(dc, 42, 0, loc); err != nil {
		t.Fatalf("RecordLocation: %v", err)
	}

	blockID := BlockID(42, 0)
	got := m.GetLocations(dc, []string{blockID, "rdd_nonexistent_0"})
	locs, ok := got[blockID]
	if !ok || len(locs) == 0 {
		t.Fatalf("expected a location for %s, got %+v", blockID, got)
	}
	if locs[0].ExecutorID != "exec-1" {
		t.Fatalf("expected executor exec-1, got %+v", locs[0])
	}
}

func TestPostgresMasterRemoveExecutor(t *testing.T) {
	m := newTestMaster(t)
	dc := dbctx.Context{Ctx: context.Background()}

	_ = m.RecordLocation(dc, 43, 0, domain.TaskLocation{Host: "host-b", ExecutorID: "exec-2"})
	if err := m.RemoveExecutor(dc, "exec-2"); err != nil {
		t.Fatalf("RemoveExecutor: %v", err)
	}
	got := m.GetLocations(dc, []string{BlockID(43, 0)})
	if len(got[BlockID(43, 0)]) != 0 {
		t.Fatalf("expected no locations after removal, got %+v", got)
	}
}

func TestPostgresMasterHeartbeat(t *testing.T) {
	m := newTestMaster(t)
	if err := m.Heartbeat(dbctx.Context{Ctx: context.Background()}, "exec-3"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
}
