package scheduler

import (
	"testing"

	"github.com/flowstage/dagscheduler/internal/domain"
)

func TestShuffleDependenciesImmediateStopsAtBoundary(t *testing.T) {
	reg := newTestRegistry()
	ds0, ds1, ds2 := linearGraph(4)
	_ = ds0

	deps := reg.lineage.shuffleDependenciesImmediate(ds1)
	if len(deps) != 1 || deps[0].ShuffleID != 1 {
		t.Fatalf("expected ds1's immediate shuffle dependency to be shuffle 1, got %v", deps)
	}

	deps2 := reg.lineage.shuffleDependenciesImmediate(ds2)
	if len(deps2) != 1 || deps2[0].ShuffleID != 2 {
		t.Fatalf("expected ds2's immediate shuffle dependency to be shuffle 2, got %v", deps2)
	}
}

func TestShuffleDependenciesImmediateWalksThroughNarrowEdges(t *testing.T) {
	reg := newTestRegistry()
	ds0 := &domain.Dataset{ID: 0, NumPartitions: 4}
	shuf := &domain.ShuffleDependency{ShuffleID: 1, Parent: ds0}
	ds1 := &domain.Dataset{ID: 1, NumPartitions: 4, Dependencies: []domain.Dependency{domain.NewShuffleDependency(shuf)}}
	ds2 := &domain.Dataset{ID: 2, NumPartitions: 4, Dependencies: []domain.Dependency{
		domain.NewNarrowDependency(&domain.NarrowDependency{Parent: ds1}),
	}}

	deps := reg.lineage.shuffleDependenciesImmediate(ds2)
	if len(deps) != 1 || deps[0].ShuffleID != 1 {
		t.Fatalf("expected a narrow hop to surface the shuffle dependency behind it, got %v", deps)
	}
}

func TestMissingAncestorShufflesOrdersDeepestFirst(t *testing.T) {
	reg := newTestRegistry()
	_, _, ds2 := linearGraph(4)
	dep12, _ := ds2.Dependencies[0].Shuffle()

	missing := reg.lineage.missingAncestorShuffles(dep12.Parent)
	if len(missing) != 1 || missing[0].ShuffleID != 1 {
		t.Fatalf("expected only shuffle 1 missing from ds1's own ancestry, got %v", missing)
	}

	missingFromds2 := reg.lineage.missingAncestorShuffles(ds2)
	if len(missingFromds2) != 2 {
		t.Fatalf("expected both shuffle 1 and shuffle 2 missing, got %v", missingFromds2)
	}
	if missingFromds2[0].ShuffleID != 1 || missingFromds2[1].ShuffleID != 2 {
		t.Fatalf("expected deepest-first order [1, 2], got %v", missingFromds2)
	}
}

func TestMissingAncestorShufflesSkipsAlreadyRegistered(t *testing.T) {
	reg := newTestRegistry()
	_, ds1, ds2 := linearGraph(4)
	dep01, _ := ds1.Dependencies[0].Shuffle()
	reg.GetOrCreateShuffleMapStage(dep01, 1)

	missing := reg.lineage.missingAncestorShuffles(ds2)
	if len(missing) != 1 || missing[0].ShuffleID != 2 {
		t.Fatalf("expected only the unregistered shuffle 2, got %v", missing)
	}
}

func TestPreferredLocationsPrefersCacheThenFunctionThenNarrowParent(t *testing.T) {
	reg := newTestRegistry()
	parent := &domain.Dataset{ID: 0, NumPartitions: 2}
	reg.cacheIndex.locations[0] = [][]domain.TaskLocation{
		{{Host: "cached-host"}},
		nil,
	}

	child := &domain.Dataset{
		ID:            1,
		NumPartitions: 2,
		Dependencies: []domain.Dependency{
			domain.NewNarrowDependency(&domain.NarrowDependency{
				Parent:     parent,
				GetParents: func(p domain.PartitionID) []domain.PartitionID { return []domain.PartitionID{p} },
			}),
		},
	}

	locs := reg.lineage.preferredLocations(child, 0)
	if len(locs) != 1 || locs[0].Host != "cached-host" {
		t.Fatalf("expected cached location for partition 0, got %v", locs)
	}

	// partition 1 has no cache entry; falls through to the narrow parent,
	// which also has none, so the result is empty.
	locs1 := reg.lineage.preferredLocations(child, 1)
	if len(locs1) != 0 {
		t.Fatalf("expected no locations for partition 1, got %v", locs1)
	}
}

func TestPreferredLocationsUsesDatasetFunctionBeforeNarrowRecursion(t *testing.T) {
	reg := newTestRegistry()
	parent := &domain.Dataset{ID: 0, NumPartitions: 2}
	child := &domain.Dataset{
		ID:            1,
		NumPartitions: 2,
		PreferredLocations: func(p domain.PartitionID) []domain.TaskLocation {
			return []domain.TaskLocation{{Host: "from-function"}}
		},
		Dependencies: []domain.Dependency{
			domain.NewNarrowDependency(&domain.NarrowDependency{
				Parent:     parent,
				GetParents: func(p domain.PartitionID) []domain.PartitionID { return []domain.PartitionID{p} },
			}),
		},
	}

	locs := reg.lineage.preferredLocations(child, 0)
	if len(locs) != 1 || locs[0].Host != "from-function" {
		t.Fatalf("expected PreferredLocations function result, got %v", locs)
	}
}

func TestMissingParentStagesOfSkipsFullyCachedSubgraph(t *testing.T) {
	reg := newTestRegistry()
	dsX := &domain.Dataset{ID: 0, NumPartitions: 2}
	shufDep := &domain.ShuffleDependency{ShuffleID: 1, Parent: dsX}
	dsY := &domain.Dataset{ID: 1, NumPartitions: 2, Persisted: true, Dependencies: []domain.Dependency{domain.NewShuffleDependency(shufDep)}}
	resultDs := &domain.Dataset{ID: 2, NumPartitions: 2, Dependencies: []domain.Dependency{
		domain.NewNarrowDependency(&domain.NarrowDependency{Parent: dsY}),
	}}
	reg.cacheIndex.locations[dsY.ID] = [][]domain.TaskLocation{
		{{Host: "h0"}},
		{{Host: "h1"}},
	}

	resultStage := reg.CreateResultStage(resultDs, []domain.PartitionID{0, 1}, 1)
	missing := reg.lineage.missingParentStagesOf(resultStage)
	if len(missing) != 0 {
		t.Fatalf("expected no missing parent stages once dsY is fully cached, got %v", missing)
	}
}

func TestMissingParentStagesOfReportsUnavailableShuffleStage(t *testing.T) {
	reg := newTestRegistry()
	_, _, ds2 := linearGraph(2)

	resultStage := reg.CreateResultStage(ds2, []domain.PartitionID{0, 1}, 1)
	missing := reg.lineage.missingParentStagesOf(resultStage)
	if len(missing) != 1 {
		t.Fatalf("expected exactly one missing parent stage (shuffle 2's producer), got %v", missing)
	}
}
