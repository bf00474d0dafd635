package mapoutput

import (
	"testing"

	"github.com/flowstage/dagscheduler/internal/domain"
)

func TestInMemoryTrackerRegisterAndAvailability(t *testing.T) {
	tr := NewInMemoryTracker()
	if tr.ContainsShuffle(1) {
		t.Fatalf("shuffle 1 should not exist yet")
	}
	if err := tr.RegisterShuffle(1, 2); err != nil {
		t.Fatalf("RegisterShuffle: %v", err)
	}
	if !tr.ContainsShuffle(1) {
		t.Fatalf("shuffle 1 should exist after registration")
	}
	if err := tr.RegisterMapOutput(1, 0, domain.TaskLocation{Host: "h1"}); err != nil {
		t.Fatalf("RegisterMapOutput: %v", err)
	}
	if got := tr.NumAvailableOutputs(1); got != 1 {
		t.Fatalf("expected 1 available output, got %d", got)
	}
	if _, err := tr.GetStatistics(1); err == nil {
		t.Fatalf("expected error: shuffle not fully available")
	}
	if err := tr.RegisterMapOutput(1, 1, domain.TaskLocation{Host: "h2"}); err != nil {
		t.Fatalf("RegisterMapOutput: %v", err)
	}
	if _, err := tr.GetStatistics(1); err != nil {
		t.Fatalf("expected shuffle fully available: %v", err)
	}
}

func TestInMemoryTrackerUnregisterAndRemoveOnHost(t *testing.T) {
	tr := NewInMemoryTracker()
	_ = tr.RegisterShuffle(1, 2)
	_ = tr.RegisterMapOutput(1, 0, domain.TaskLocation{Host: "h1", ExecutorID: "e1"})
	_ = tr.RegisterMapOutput(1, 1, domain.TaskLocation{Host: "h2", ExecutorID: "e2"})

	if err := tr.UnregisterMapOutput(1, 0); err != nil {
		t.Fatalf("UnregisterMapOutput: %v", err)
	}
	if got := tr.NumAvailableOutputs(1); got != 1 {
		t.Fatalf("expected 1 output after unregister, got %d", got)
	}

	_ = tr.RegisterMapOutput(1, 0, domain.TaskLocation{Host: "h1", ExecutorID: "e1"})
	if err := tr.RemoveOutputsOnHost("h1"); err != nil {
		t.Fatalf("RemoveOutputsOnHost: %v", err)
	}
	if got := tr.NumAvailableOutputs(1); got != 1 {
		t.Fatalf("expected 1 output after host removal, got %d", got)
	}
}

func TestInMemoryTrackerMissingMapIDs(t *testing.T) {
	tr := NewInMemoryTracker()
	_ = tr.RegisterShuffle(1, 4)

	missing := tr.MissingMapIDs(1, 4)
	if len(missing) != 4 {
		t.Fatalf("expected all 4 map ids missing before any registration, got %v", missing)
	}

	_ = tr.RegisterMapOutput(1, 0, domain.TaskLocation{Host: "h1"})
	_ = tr.RegisterMapOutput(1, 2, domain.TaskLocation{Host: "h2"})

	missing = tr.MissingMapIDs(1, 4)
	if len(missing) != 2 || missing[0] != 1 || missing[1] != 3 {
		t.Fatalf("expected missing [1 3], got %v", missing)
	}

	_ = tr.RegisterMapOutput(1, 1, domain.TaskLocation{Host: "h3"})
	_ = tr.RegisterMapOutput(1, 3, domain.TaskLocation{Host: "h4"})
	if missing := tr.MissingMapIDs(1, 4); len(missing) != 0 {
		t.Fatalf("expected no missing map ids once fully registered, got %v", missing)
	}

	_ = tr.UnregisterMapOutput(1, 1)
	missing = tr.MissingMapIDs(1, 4)
	if len(missing) != 1 || missing[0] != 1 {
		t.Fatalf("expected only map id 1 missing after single unregister, got %v", missing)
	}
}

func TestInMemoryTrackerEpochMonotonic(t *testing.T) {
	tr := NewInMemoryTracker()
	if tr.GetEpoch() != 0 {
		t.Fatalf("expected initial epoch 0")
	}
	tr.IncrementEpoch()
	tr.IncrementEpoch()
	if tr.GetEpoch() != 2 {
		t.Fatalf("expected epoch 2, got %d", tr.GetEpoch())
	}
}
