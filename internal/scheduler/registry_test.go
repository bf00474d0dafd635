package scheduler

import (
	"testing"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/mapoutput"
)

func newTestRegistry() *Registry {
	tracker := mapoutput.NewInMemoryTracker()
	cache := NewCacheLocationIndex(nil)
	reg := NewRegistry(cache, tracker)
	reg.SetLineageWalker(NewLineageWalker(reg))
	return reg
}

// linearGraph builds ds0 --shuffle(1)--> ds1 --shuffle(2)--> ds2, each with
// numPartitions partitions, mirroring the spec's seed "linear 3-stage job".
func linearGraph(numPartitions int) (ds0, ds1, ds2 *domain.Dataset) {
	ds0 = &domain.Dataset{ID: 0, NumPartitions: numPartitions}
	dep01 := &domain.ShuffleDependency{ShuffleID: 1, Parent: ds0}
	ds1 = &domain.Dataset{ID: 1, NumPartitions: numPartitions, Dependencies: []domain.Dependency{domain.NewShuffleDependency(dep01)}}
	dep12 := &domain.ShuffleDependency{ShuffleID: 2, Parent: ds1}
	ds2 = &domain.Dataset{ID: 2, NumPartitions: numPartitions, Dependencies: []domain.Dependency{domain.NewShuffleDependency(dep12)}}
	return ds0, ds1, ds2
}

func TestGetOrCreateShuffleMapStageIsIdempotent(t *testing.T) {
	reg := newTestRegistry()
	ds0 := &domain.Dataset{ID: 0, NumPartitions: 4}
	dep := &domain.ShuffleDependency{ShuffleID: 1, Parent: ds0}

	s1 := reg.GetOrCreateShuffleMapStage(dep, 10)
	s2 := reg.GetOrCreateShuffleMapStage(dep, 10)
	if s1.ID != s2.ID {
		t.Fatalf("expected the same stage to be returned, got %d and %d", s1.ID, s2.ID)
	}
	if len(reg.stages) != 1 {
		t.Fatalf("expected exactly one stage in the registry, got %d", len(reg.stages))
	}
}

func TestGetOrCreateShuffleMapStageCreatesAncestorsDeepestFirst(t *testing.T) {
	reg := newTestRegistry()
	_, _, ds2 := linearGraph(4)
	dep12 := ds2.Dependencies[0]
	shuf12, _ := dep12.Shuffle()

	stage1 := reg.GetOrCreateShuffleMapStage(shuf12, 1)
	if !reg.ContainsShuffle(1) {
		t.Fatalf("expected ancestor shuffle 0->1 (id=1) to have been created")
	}
	if !reg.ContainsShuffle(2) {
		t.Fatalf("expected shuffle 1->2 (id=2) to have been created")
	}
	if len(stage1.Parents) != 1 {
		t.Fatalf("expected stage for shuffle 2 to have exactly 1 parent, got %d", len(stage1.Parents))
	}
}

func TestCreateResultStageResolvesParents(t *testing.T) {
	reg := newTestRegistry()
	ds0, _, ds2 := linearGraph(4)
	_ = ds0

	parts := []domain.PartitionID{0, 1, 2, 3}
	result := reg.CreateResultStage(ds2, parts, 1)
	if len(result.Parents) != 1 {
		t.Fatalf("expected result stage to have one immediate shuffle parent, got %d", len(result.Parents))
	}
	if !reg.ContainsShuffle(1) || !reg.ContainsShuffle(2) {
		t.Fatalf("expected both ancestor shuffles created as a side effect")
	}
}

func TestUpdateJobIDStageIDMapsPropagatesToAncestors(t *testing.T) {
	reg := newTestRegistry()
	_, _, ds2 := linearGraph(4)
	result := reg.CreateResultStage(ds2, []domain.PartitionID{0, 1, 2, 3}, 1)

	reg.UpdateJobIDStageIDMaps(1, result)

	if !result.HasJobID(1) {
		t.Fatalf("expected result stage to carry job 1")
	}
	for _, p := range result.Parents {
		if !p.HasJobID(1) {
			t.Fatalf("expected parent stage %d to carry job 1", p.ID)
		}
		for _, gp := range p.Parents {
			if !gp.HasJobID(1) {
				t.Fatalf("expected grandparent stage %d to carry job 1", gp.ID)
			}
		}
	}
}

func TestCleanupForJobRemovesExclusiveStagesKeepsShared(t *testing.T) {
	reg := newTestRegistry()
	_, _, ds2 := linearGraph(4)
	result := reg.CreateResultStage(ds2, []domain.PartitionID{0, 1, 2, 3}, 1)
	reg.UpdateJobIDStageIDMaps(1, result)

	shuffleStage := result.Parents[0]
	reg.UpdateJobIDStageIDMaps(2, shuffleStage) // a second job shares the shuffle-map stage

	job1 := domain.NewActiveJob(1, result, domain.CallSite{}, nil, nil, 4)
	reg.RegisterJob(job1)

	reg.CleanupForJob(job1)

	if _, ok := reg.StageByID(result.ID); ok {
		t.Fatalf("expected job-1-exclusive result stage to be removed")
	}
	if _, ok := reg.StageByID(shuffleStage.ID); !ok {
		t.Fatalf("expected shared shuffle-map stage to survive cleanup")
	}
	if shuffleStage.HasJobID(1) {
		t.Fatalf("expected job 1 removed from the shared stage's JobIDs")
	}
	if !shuffleStage.HasJobID(2) {
		t.Fatalf("expected job 2 to remain on the shared stage")
	}
}
