package domain

import "testing"

func TestShuffleMapStageVariant(t *testing.T) {
	ds := &Dataset{ID: 1, NumPartitions: 4}
	dep := &ShuffleDependency{ShuffleID: 7, Parent: ds}
	s := NewShuffleMapStage(1, ds, nil, 10, dep)

	if !s.IsShuffleMap() || s.IsResult() {
		t.Fatalf("expected ShuffleMap variant")
	}
	sm, ok := s.ShuffleMap()
	if !ok || sm.ShuffleDep.ShuffleID != 7 {
		t.Fatalf("ShuffleMap() returned wrong data: %+v ok=%v", sm, ok)
	}
	if _, ok := s.Result(); ok {
		t.Fatalf("Result() should fail on a ShuffleMapStage")
	}
	if s.NumTasks != 4 {
		t.Fatalf("expected NumTasks=4, got %d", s.NumTasks)
	}
}

func TestResultStageVariant(t *testing.T) {
	ds := &Dataset{ID: 2, NumPartitions: 4}
	parts := []PartitionID{0, 1, 2, 3}
	s := NewResultStage(2, ds, nil, 10, parts)

	if !s.IsResult() || s.IsShuffleMap() {
		t.Fatalf("expected Result variant")
	}
	rs, ok := s.Result()
	if !ok || len(rs.Partitions) != 4 {
		t.Fatalf("Result() returned wrong data: %+v ok=%v", rs, ok)
	}
}

func TestStageJobMembership(t *testing.T) {
	s := NewResultStage(1, &Dataset{ID: 1, NumPartitions: 1}, nil, 1, []PartitionID{0})
	s.AddJobID(1)
	s.AddJobID(2)
	if !s.HasJobID(1) || !s.HasJobID(2) {
		t.Fatalf("expected both jobs present")
	}
	s.RemoveJobID(1)
	if s.HasJobID(1) {
		t.Fatalf("job 1 should have been removed")
	}
	if !s.HasJobID(2) {
		t.Fatalf("job 2 should still be present")
	}
}

func TestCurrentAttemptNumberNoAttempts(t *testing.T) {
	s := NewResultStage(1, &Dataset{ID: 1, NumPartitions: 1}, nil, 1, []PartitionID{0})
	if got := s.CurrentAttemptNumber(); got != -1 {
		t.Fatalf("expected -1 for a stage with no attempts, got %d", got)
	}
}
