package mapoutput

import (
	"context"
	"os"
	"testing"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/platform/logger"
)

func newTestRedisTracker(t *testing.T) *RedisTracker {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed map-output tracker tests")
	}
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("failed to init logger: %v", err)
	}
	tr, err := NewRedisTracker(context.Background(), addr, log)
	if err != nil {
		t.Fatalf("failed to connect to redis at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRedisTrackerRegisterAndAvailability(t *testing.T) {
	tr := newTestRedisTracker(t)
	shuffleID := domain.ShuffleID(9001)

	if err := tr.RegisterShuffle(shuffleID, 2); err != nil {
		t.Fatalf("RegisterShuffle: %v", err)
	}
	if !tr.ContainsShuffle(shuffleID) {
		t.Fatalf("expected shuffle to be registered")
	}
	if err := tr.RegisterMapOutput(shuffleID, 0, domain.TaskLocation{Host: "h1"}); err != nil {
		t.Fatalf("RegisterMapOutput: %v", err)
	}
	if got := tr.NumAvailableOutputs(shuffleID); got != 1 {
		t.Fatalf("expected 1 available output, got %d", got)
	}
	if err := tr.UnregisterAllMapOutput(shuffleID); err != nil {
		t.Fatalf("UnregisterAllMapOutput: %v", err)
	}
	if got := tr.NumAvailableOutputs(shuffleID); got != 0 {
		t.Fatalf("expected 0 outputs after unregister all, got %d", got)
	}
}

func TestRedisTrackerMissingMapIDs(t *testing.T) {
	tr := newTestRedisTracker(t)
	shuffleID := domain.ShuffleID(9002)

	if err := tr.RegisterShuffle(shuffleID, 3); err != nil {
		t.Fatalf("RegisterShuffle: %v", err)
	}
	missing := tr.MissingMapIDs(shuffleID, 3)
	if len(missing) != 3 {
		t.Fatalf("expected all 3 map ids missing before registration, got %v", missing)
	}

	if err := tr.RegisterMapOutput(shuffleID, 1, domain.TaskLocation{Host: "h1"}); err != nil {
		t.Fatalf("RegisterMapOutput: %v", err)
	}
	missing = tr.MissingMapIDs(shuffleID, 3)
	if len(missing) != 2 || missing[0] != 0 || missing[1] != 2 {
		t.Fatalf("expected missing [0 2], got %v", missing)
	}

	if err := tr.UnregisterAllMapOutput(shuffleID); err != nil {
		t.Fatalf("UnregisterAllMapOutput: %v", err)
	}
	if missing := tr.MissingMapIDs(shuffleID, 3); len(missing) != 3 {
		t.Fatalf("expected all 3 map ids missing after unregister all, got %v", missing)
	}
}

func TestRedisTrackerEpoch(t *testing.T) {
	tr := newTestRedisTracker(t)
	before := tr.GetEpoch()
	tr.IncrementEpoch()
	after := tr.GetEpoch()
	if after <= before {
		t.Fatalf("expected epoch to increase: before=%d after=%d", before, after)
	}
}
