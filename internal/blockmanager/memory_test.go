package blockmanager

import (
	"context"
	"testing"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/dbctx"
)

var testDC = dbctx.Context{Ctx: context.Background()}

func TestInMemoryMasterGetLocations(t *testing.T) {
	m := NewInMemoryMaster()
	blockID := BlockID(1, 0)

	if locs := m.GetLocations(testDC, []string{blockID}); len(locs) != 0 {
		t.Fatalf("expected no locations before recording, got %v", locs)
	}

	m.RecordLocation(1, 0, domain.TaskLocation{Host: "h1", ExecutorID: "e1"})
	m.RecordLocation(1, 0, domain.TaskLocation{Host: "h2", ExecutorID: "e2"})

	locs := m.GetLocations(testDC, []string{blockID, "missing"})
	if len(locs[blockID]) != 2 {
		t.Fatalf("expected 2 locations for %s, got %v", blockID, locs[blockID])
	}
	if _, ok := locs["missing"]; ok {
		t.Fatalf("expected no entry for unrecorded block id")
	}
}

func TestInMemoryMasterRemoveExecutor(t *testing.T) {
	m := NewInMemoryMaster()
	blockID := BlockID(2, 1)
	m.RecordLocation(2, 1, domain.TaskLocation{Host: "h1", ExecutorID: "e1"})
	m.RecordLocation(2, 1, domain.TaskLocation{Host: "h2", ExecutorID: "e2"})

	if err := m.RemoveExecutor(testDC, "e1"); err != nil {
		t.Fatalf("RemoveExecutor: %v", err)
	}
	locs := m.GetLocations(testDC, []string{blockID})[blockID]
	if len(locs) != 1 || locs[0].ExecutorID != "e2" {
		t.Fatalf("expected only e2 remaining, got %v", locs)
	}
}
