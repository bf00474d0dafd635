package scheduler

import "github.com/flowstage/dagscheduler/internal/domain"

// LineageWalker performs traversals over the dataset graph. Most use an
// explicit work stack; missingAncestorShuffles and the preferred-locations
// walk recurse instead. The walks read Dataset and Dependency values the
// caller already owns, but missingParentStagesOf resolves producing stages
// through the registry (creating any that do not exist yet) and consults the
// cache-location index, which populates entries on first use. Registry and
// Scheduler call it while holding no locks of their own.
type LineageWalker struct {
	registry *Registry
}

// NewLineageWalker builds a walker backed by registry for resolving
// shuffle-id to producing-stage lookups mid-traversal.
func NewLineageWalker(registry *Registry) *LineageWalker {
	return &LineageWalker{registry: registry}
}

// shuffleDependenciesImmediate returns the shuffle dependencies crossed when
// walking narrow ancestors from ds, stopping descent at each shuffle edge.
// These are exactly the dependencies that define ds's stage boundary.
func (w *LineageWalker) shuffleDependenciesImmediate(ds *domain.Dataset) []*domain.ShuffleDependency {
	var out []*domain.ShuffleDependency
	visited := make(map[domain.DatasetID]bool)
	stack := []*domain.Dataset{ds}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil || visited[cur.ID] {
			continue
		}
		visited[cur.ID] = true

		for _, dep := range cur.Dependencies {
			if shuf, ok := dep.Shuffle(); ok {
				out = append(out, shuf)
				continue
			}
			if narrow, ok := dep.Narrow(); ok && narrow.Parent != nil {
				stack = append(stack, narrow.Parent)
			}
		}
	}
	return out
}

// missingAncestorShuffles returns every shuffle dependency transitively
// reachable from ds that is not yet registered in the Stage Registry,
// ordered deepest-first so ancestors are created before their children.
func (w *LineageWalker) missingAncestorShuffles(ds *domain.Dataset) []*domain.ShuffleDependency {
	var ordered []*domain.ShuffleDependency
	seenShuffle := make(map[domain.ShuffleID]bool)
	visitedDataset := make(map[domain.DatasetID]bool)

	// DFS post-order over narrow+shuffle-parent edges: a shuffle dep is
	// appended only after all of its own ancestor shuffles have been.
	var visit func(ds *domain.Dataset)
	visit = func(ds *domain.Dataset) {
		if ds == nil || visitedDataset[ds.ID] {
			return
		}
		visitedDataset[ds.ID] = true

		for _, dep := range ds.Dependencies {
			if shuf, ok := dep.Shuffle(); ok {
				if !seenShuffle[shuf.ShuffleID] {
					visit(shuf.Parent)
					if !w.registry.ContainsShuffle(shuf.ShuffleID) {
						ordered = append(ordered, shuf)
					}
					seenShuffle[shuf.ShuffleID] = true
				}
				continue
			}
			if narrow, ok := dep.Narrow(); ok {
				visit(narrow.Parent)
			}
		}
	}
	visit(ds)
	return ordered
}

// traverseWithinStageAll returns true iff predicate holds for every dataset
// reachable via narrow edges from ds (the datasets that belong to ds's
// stage). It short-circuits on the first failure.
func (w *LineageWalker) traverseWithinStageAll(ds *domain.Dataset, predicate func(*domain.Dataset) bool) bool {
	visited := make(map[domain.DatasetID]bool)
	stack := []*domain.Dataset{ds}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil || visited[cur.ID] {
			continue
		}
		visited[cur.ID] = true

		if !predicate(cur) {
			return false
		}
		for _, dep := range cur.Dependencies {
			if narrow, ok := dep.Narrow(); ok && narrow.Parent != nil {
				stack = append(stack, narrow.Parent)
			}
		}
	}
	return true
}

// missingParentStagesOf walks stage.Dataset over narrow edges; on a shuffle
// edge it resolves the producing ShuffleMapStage and records it as missing
// if not yet available. Subgraphs whose partitions are already fully cached
// are skipped, matching the source's "don't re-derive what's cached"
// shortcut.
func (w *LineageWalker) missingParentStagesOf(stage *domain.Stage) []*domain.Stage {
	var missing []*domain.Stage
	seenStage := make(map[domain.StageID]bool)
	visitedDataset := make(map[domain.DatasetID]bool)
	stack := []*domain.Dataset{stage.Dataset}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == nil || visitedDataset[cur.ID] {
			continue
		}
		visitedDataset[cur.ID] = true

		if cur.Persisted && w.registry.cacheIndex.IsFullyCached(cur) {
			continue
		}

		for _, dep := range cur.Dependencies {
			if shuf, ok := dep.Shuffle(); ok {
				mapStage := w.registry.GetOrCreateShuffleMapStage(shuf, stage.FirstJobID)
				if !seenStage[mapStage.ID] {
					seenStage[mapStage.ID] = true
					if !w.registry.IsAvailable(mapStage) {
						missing = append(missing, mapStage)
					}
				}
				continue
			}
			if narrow, ok := dep.Narrow(); ok && narrow.Parent != nil {
				stack = append(stack, narrow.Parent)
			}
		}
	}
	return missing
}

type locationKey struct {
	dataset   domain.DatasetID
	partition domain.PartitionID
}

// preferredLocations resolves placement hints for (ds, partition):
//  1. cached locations, if known;
//  2. the dataset's own PreferredLocations function, if set;
//  3. recursion into the first narrow parent partition that yields a
//     non-empty result;
//  4. otherwise empty.
//
// visited guards against revisiting the same (dataset, partition) pair
// within one top-level call.
func (w *LineageWalker) preferredLocations(ds *domain.Dataset, partition domain.PartitionID) []domain.TaskLocation {
	return w.preferredLocationsVisited(ds, partition, make(map[locationKey]bool))
}

func (w *LineageWalker) preferredLocationsVisited(ds *domain.Dataset, partition domain.PartitionID, visited map[locationKey]bool) []domain.TaskLocation {
	if ds == nil {
		return nil
	}
	key := locationKey{ds.ID, partition}
	if visited[key] {
		return nil
	}
	visited[key] = true

	if cached := w.registry.cacheIndex.Get(ds.ID, partition); len(cached) > 0 {
		return cached
	}
	if ds.PreferredLocations != nil {
		if locs := ds.PreferredLocations(partition); len(locs) > 0 {
			return locs
		}
	}

	for _, dep := range ds.Dependencies {
		narrow, ok := dep.Narrow()
		if !ok || narrow.Parent == nil || narrow.GetParents == nil {
			continue
		}
		for _, parentPartition := range narrow.GetParents(partition) {
			if locs := w.preferredLocationsVisited(narrow.Parent, parentPartition, visited); len(locs) > 0 {
				return locs
			}
		}
		// Only the first narrow dependency is consulted, per spec.
		break
	}
	return nil
}
