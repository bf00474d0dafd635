package scheduler

import (
	"sort"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/mapoutput"
)

// Registry owns the canonical set of stages, the shuffle-id -> producing
// stage mapping, and the job<->stage membership relation. It is mutated
// exclusively from the event loop; nothing here synchronizes itself.
type Registry struct {
	nextStageID domain.StageID

	stages         map[domain.StageID]*domain.Stage
	shuffleToStage map[domain.ShuffleID]*domain.Stage
	jobs           map[domain.JobID]*domain.ActiveJob

	cacheIndex   *CacheLocationIndex
	mapOutputs   mapoutput.Tracker
	lineage      *LineageWalker
}

// NewRegistry wires a Registry to its collaborators. lineage is assigned
// after construction because LineageWalker needs a *Registry back-reference;
// callers must call SetLineageWalker before using the registry.
func NewRegistry(cacheIndex *CacheLocationIndex, mapOutputs mapoutput.Tracker) *Registry {
	return &Registry{
		stages:         make(map[domain.StageID]*domain.Stage),
		shuffleToStage: make(map[domain.ShuffleID]*domain.Stage),
		jobs:           make(map[domain.JobID]*domain.ActiveJob),
		cacheIndex:     cacheIndex,
		mapOutputs:     mapOutputs,
	}
}

// SetLineageWalker completes the two-step wiring LineageWalker's
// registry-back-reference requires.
func (r *Registry) SetLineageWalker(w *LineageWalker) { r.lineage = w }

func (r *Registry) allocStageID() domain.StageID {
	r.nextStageID++
	return r.nextStageID
}

// ContainsShuffle reports whether shuffleID already has a live producing
// stage.
func (r *Registry) ContainsShuffle(shuffleID domain.ShuffleID) bool {
	_, ok := r.shuffleToStage[shuffleID]
	return ok
}

// StageByID looks up a stage by id.
func (r *Registry) StageByID(id domain.StageID) (*domain.Stage, bool) {
	s, ok := r.stages[id]
	return s, ok
}

// StageForShuffle looks up the producing ShuffleMapStage for shuffleID.
func (r *Registry) StageForShuffle(shuffleID domain.ShuffleID) (*domain.Stage, bool) {
	s, ok := r.shuffleToStage[shuffleID]
	return s, ok
}

// IsAvailable reports whether every partition of a ShuffleMapStage's output
// is currently registered with the map-output tracker. A ResultStage is
// never "available" in this sense; callers only ask this of ShuffleMap
// stages.
func (r *Registry) IsAvailable(stage *domain.Stage) bool {
	sm, ok := stage.ShuffleMap()
	if !ok {
		return false
	}
	return r.mapOutputs.NumAvailableOutputs(sm.ShuffleDep.ShuffleID) == stage.NumTasks
}

// GetOrCreateShuffleMapStage returns the canonical ShuffleMapStage for
// shuffleDep, creating any missing ancestor shuffle stages first
// (deepest-first). If dep's stage was created as a side effect of creating
// an ancestor earlier in this same call, the existing one is returned.
func (r *Registry) GetOrCreateShuffleMapStage(shuffleDep *domain.ShuffleDependency, firstJobID domain.JobID) *domain.Stage {
	if existing, ok := r.shuffleToStage[shuffleDep.ShuffleID]; ok {
		return existing
	}

	for _, ancestor := range r.lineage.missingAncestorShuffles(shuffleDep.Parent) {
		if _, ok := r.shuffleToStage[ancestor.ShuffleID]; ok {
			continue
		}
		r.createShuffleMapStage(ancestor, firstJobID)
	}

	if existing, ok := r.shuffleToStage[shuffleDep.ShuffleID]; ok {
		return existing
	}
	return r.createShuffleMapStage(shuffleDep, firstJobID)
}

func (r *Registry) createShuffleMapStage(dep *domain.ShuffleDependency, firstJobID domain.JobID) *domain.Stage {
	parents := r.parentStages(dep.Parent, firstJobID)
	stage := domain.NewShuffleMapStage(r.allocStageID(), dep.Parent, parents, firstJobID, dep)
	r.stages[stage.ID] = stage
	r.shuffleToStage[dep.ShuffleID] = stage
	_ = r.mapOutputs.RegisterShuffle(dep.ShuffleID, stage.NumTasks)
	return stage
}

// CreateResultStage allocates a new terminal stage for ds's given output
// partitions, computing its parents via shuffle-dependency discovery.
func (r *Registry) CreateResultStage(ds *domain.Dataset, partitions []domain.PartitionID, jobID domain.JobID) *domain.Stage {
	parents := r.parentStages(ds, jobID)
	stage := domain.NewResultStage(r.allocStageID(), ds, parents, jobID, partitions)
	r.stages[stage.ID] = stage
	return stage
}

// parentStages resolves, for every immediate shuffle dependency of ds, the
// producing ShuffleMapStage via GetOrCreateShuffleMapStage.
func (r *Registry) parentStages(ds *domain.Dataset, firstJobID domain.JobID) []*domain.Stage {
	var parents []*domain.Stage
	for _, dep := range r.lineage.shuffleDependenciesImmediate(ds) {
		parents = append(parents, r.GetOrCreateShuffleMapStage(dep, firstJobID))
	}
	return parents
}

// UpdateJobIDStageIDMaps transitively adds jobID to stage.JobIDs and to
// every ancestor's JobIDs that does not already contain it.
func (r *Registry) UpdateJobIDStageIDMaps(jobID domain.JobID, stage *domain.Stage) {
	stack := []*domain.Stage{stage}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur.HasJobID(jobID) {
			continue
		}
		cur.AddJobID(jobID)
		stack = append(stack, cur.Parents...)
	}
}

// RegisterJob adds job to the registry's job table.
func (r *Registry) RegisterJob(job *domain.ActiveJob) { r.jobs[job.JobID] = job }

// JobByID looks up an active job by id.
func (r *Registry) JobByID(id domain.JobID) (*domain.ActiveJob, bool) {
	j, ok := r.jobs[id]
	return j, ok
}

// ActiveJobIDs returns every currently-registered job id, ascending.
func (r *Registry) ActiveJobIDs() []domain.JobID {
	ids := make([]domain.JobID, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// RemoveJob drops job from the registry's job table without touching stage
// membership; callers use CleanupForJob for that.
func (r *Registry) RemoveJob(id domain.JobID) { delete(r.jobs, id) }

// CleanupForJob removes job.JobID from every one of its stages' JobIDs. Any
// stage whose JobIDs becomes empty is removed entirely; if it was a
// ShuffleMapStage, its shuffle-id mapping is also removed (the map-output
// tracker retains the underlying shuffle data, since other jobs' completed
// reads may still reference it via direct tracker queries).
func (r *Registry) CleanupForJob(job *domain.ActiveJob) {
	for _, stage := range r.stages {
		if !stage.HasJobID(job.JobID) {
			continue
		}
		stage.RemoveJobID(job.JobID)
		if len(stage.JobIDs) == 0 {
			r.removeStage(stage)
		}
	}
	r.RemoveJob(job.JobID)
}

func (r *Registry) removeStage(stage *domain.Stage) {
	delete(r.stages, stage.ID)
	if sm, ok := stage.ShuffleMap(); ok {
		delete(r.shuffleToStage, sm.ShuffleDep.ShuffleID)
	}
}

// StagesSharedAcrossJobs reports whether stage is referenced by any job
// other than excluding.
func (r *Registry) StagesSharedAcrossJobs(stage *domain.Stage, excluding domain.JobID) bool {
	for jobID := range stage.JobIDs {
		if jobID != excluding {
			return true
		}
	}
	return false
}

// StagesForJob returns every stage in the registry whose JobIDs includes id.
func (r *Registry) StagesForJob(id domain.JobID) []*domain.Stage {
	var out []*domain.Stage
	for _, stage := range r.stages {
		if stage.HasJobID(id) {
			out = append(out, stage)
		}
	}
	return out
}

// DependentStages returns the stages downstream of a ShuffleMapStage, i.e.
// every stage in the registry that lists it as a direct parent. Used to
// submit stages that were waiting on exactly this shuffle output once it
// completes; a stage two hops away is not yet submittable; its own direct
// parent submits it in turn once that parent completes.
func (r *Registry) DependentStages(producer *domain.Stage) []*domain.Stage {
	var out []*domain.Stage
	for _, stage := range r.stages {
		for _, p := range stage.Parents {
			if p.ID == producer.ID {
				out = append(out, stage)
				break
			}
		}
	}
	return out
}

// TransitiveDependentStages returns every stage that transitively depends
// on producer (directly or through any number of intermediate parents) and
// is reachable from some active job's FinalStage by walking Parents. This
// is the successor set the indeterminate-rollback path (§4.7) aborts over:
// a producer -> A -> B -> C chain must surface B and C even though only A
// lists producer as a direct parent, and a stage that no active job's
// FinalStage can reach (e.g. already cleaned up) must not appear at all.
func (r *Registry) TransitiveDependentStages(producer *domain.Stage) []*domain.Stage {
	dependsOnProducer := make(map[domain.StageID]bool)
	visiting := make(map[domain.StageID]bool)

	var dependsOn func(stage *domain.Stage) bool
	dependsOn = func(stage *domain.Stage) bool {
		if stage.ID == producer.ID {
			return true
		}
		if v, ok := dependsOnProducer[stage.ID]; ok {
			return v
		}
		if visiting[stage.ID] {
			return false
		}
		visiting[stage.ID] = true
		result := false
		for _, p := range stage.Parents {
			if dependsOn(p) {
				result = true
				break
			}
		}
		visiting[stage.ID] = false
		dependsOnProducer[stage.ID] = result
		return result
	}

	dependents := make(map[domain.StageID]*domain.Stage)
	visited := make(map[domain.StageID]bool)
	var walk func(stage *domain.Stage)
	walk = func(stage *domain.Stage) {
		if stage == nil || visited[stage.ID] {
			return
		}
		visited[stage.ID] = true
		if stage.ID != producer.ID && dependsOn(stage) {
			dependents[stage.ID] = stage
		}
		for _, p := range stage.Parents {
			walk(p)
		}
	}
	for _, job := range r.jobs {
		walk(job.FinalStage)
	}

	out := make([]*domain.Stage, 0, len(dependents))
	for _, stage := range dependents {
		out = append(out, stage)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// StagePartitionCounts reports how many of stage's output partitions are
// currently missing versus its total, for the indeterminate-rollback
// partial-output check (§4.7): a ShuffleMapStage's missing count is the
// size of its pending-partitions set; a ResultStage's is derived from its
// ActiveJob's finished-output tracking.
func (r *Registry) StagePartitionCounts(stage *domain.Stage) (missing, total int) {
	if sm, ok := stage.ShuffleMap(); ok {
		return len(sm.PendingPartitions), stage.NumTasks
	}
	if rs, ok := stage.Result(); ok && rs.ActiveJob != nil {
		job := rs.ActiveJob
		return job.NumPartitions - job.NumFinished, job.NumPartitions
	}
	return 0, 0
}
