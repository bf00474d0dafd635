package scheduler

import (
	"sort"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/listenerbus"
	"github.com/flowstage/dagscheduler/internal/taskscheduler"
)

// submitStage is the entry point for making progress on a stage: it submits
// any missing ancestors first, and only launches this stage's own tasks once
// every ancestor's output is available. It is idempotent — calling it on a
// stage that is already Waiting or Running is a no-op.
func (s *Scheduler) submitStage(stage *domain.Stage) {
	if stage.Status == domain.StageWaiting || stage.Status == domain.StageRunning {
		return
	}

	if _, ok := s.earliestActiveJobFor(stage); !ok {
		s.log.Warn("no active job references stage, dropping submission", "stage_id", stage.ID)
		return
	}

	missing := s.lineage.missingParentStagesOf(stage)
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i].ID < missing[j].ID })
		stage.Status = domain.StageWaiting
		for _, parent := range missing {
			s.submitStage(parent)
		}
		return
	}

	if stage.Dataset.Barrier {
		if reason, retryable := s.checkBarrierAdmission(stage); reason != "" {
			if !retryable {
				delete(s.barrierRetries, stage.ID)
				s.abortStage(stage, reason)
				return
			}
			s.barrierRetries[stage.ID]++
			if s.barrierRetries[stage.ID] > s.cfg.BarrierMaxConcurrentTasksCheckMaxFailures {
				delete(s.barrierRetries, stage.ID)
				s.abortStage(stage, reason)
				return
			}
			s.failedStages[stage.ID] = stage
			s.barrierTimer.Schedule()
			return
		}
		delete(s.barrierRetries, stage.ID)
	}

	s.submitMissingTasks(stage)
}

// earliestActiveJobFor returns the smallest active job id that still
// references stage.
func (s *Scheduler) earliestActiveJobFor(stage *domain.Stage) (domain.JobID, bool) {
	best := domain.JobID(0)
	found := false
	for jobID := range stage.JobIDs {
		if _, ok := s.registry.JobByID(jobID); !ok {
			continue
		}
		if !found || jobID < best {
			best = jobID
			found = true
		}
	}
	return best, found
}

// checkBarrierAdmission reports a non-empty reason when stage cannot be
// admitted as a barrier stage right now, and whether that reason is worth
// retrying (true) or fatal (false).
func (s *Scheduler) checkBarrierAdmission(stage *domain.Stage) (reason string, retryable bool) {
	if s.cfg.DynamicAllocationEnabled {
		return "barrier stages are incompatible with dynamic allocation", false
	}

	uniformPartitions := stage.Dataset.NumPartitions
	sameCount := s.lineage.traverseWithinStageAll(stage.Dataset, func(d *domain.Dataset) bool {
		return d.NumPartitions == uniformPartitions
	})
	barrierShuffleParents := 0
	for _, p := range stage.Parents {
		if p.Dataset.Barrier {
			barrierShuffleParents++
		}
	}
	if !sameCount || barrierShuffleParents >= 2 {
		return "barrier stage topology has mismatched in-stage partition counts or multiple barrier-shuffle parents", false
	}

	if s.cfg.MaxConcurrentTaskSlots > 0 && stage.NumTasks > s.cfg.MaxConcurrentTaskSlots {
		return "not enough concurrent task slots for barrier stage", true
	}
	return "", false
}

// submitMissingTasks launches tasks for every partition of stage that has
// not yet produced output, recording a new attempt.
func (s *Scheduler) submitMissingTasks(stage *domain.Stage) {
	partitions := s.partitionsToCompute(stage)

	attemptNumber := stage.CurrentAttemptNumber() + 1
	now := time.Now()
	stage.Attempts = append(stage.Attempts, &domain.StageInfo{
		AttemptNumber:  attemptNumber,
		SubmissionTime: &now,
	})
	stage.Status = domain.StageRunning

	if sm, ok := stage.ShuffleMap(); ok {
		for _, p := range partitions {
			sm.PendingPartitions[p] = struct{}{}
		}
	}

	if len(partitions) == 0 {
		s.finishEmptyStage(stage)
		return
	}

	s.commit.StageStart(stage.ID, attemptNumber)
	s.bus.Post(listenerbus.StageSubmitted{StageID: stage.ID, AttemptNumber: attemptNumber, At: now})

	epoch := s.mapOutputs.GetEpoch()
	tasks := make([]*domain.Task, 0, len(partitions))
	for _, p := range partitions {
		base := domain.Task{
			ID:                 s.allocTaskID(),
			StageID:            stage.ID,
			StageAttemptID:     attemptNumber,
			Partition:          p,
			Epoch:              epoch,
			PreferredLocations: s.lineage.preferredLocations(stage.Dataset, p),
			Barrier:            stage.Dataset.Barrier,
		}
		if sm, ok := stage.ShuffleMap(); ok {
			tasks = append(tasks, domain.NewShuffleMapTask(base, sm.ShuffleDep.ShuffleID))
			continue
		}
		rs, _ := stage.Result()
		tasks = append(tasks, domain.NewResultTask(base, rs.ActiveJob.JobID, outputIDForPartition(rs, p)))
	}

	err := s.taskSched.SubmitTasks(&taskscheduler.TaskSet{
		StageID:        stage.ID,
		StageAttemptID: attemptNumber,
		Tasks:          tasks,
	})
	if err != nil {
		s.abortStage(stage, "task scheduler rejected task set: "+err.Error())
	}
}

func (s *Scheduler) allocTaskID() domain.TaskID {
	s.nextTaskID++
	return s.nextTaskID
}

// outputIDForPartition maps a result stage's partition back to its position
// in the job's output-finished tracking array.
func outputIDForPartition(rs *domain.ResultStage, p domain.PartitionID) int {
	for i, part := range rs.Partitions {
		if part == p {
			return i
		}
	}
	return -1
}

// partitionsToCompute identifies which partitions of stage still need a
// task launched: for a ShuffleMapStage, those not yet registered with the
// map-output tracker; for a ResultStage, those whose job output has not yet
// finished.
func (s *Scheduler) partitionsToCompute(stage *domain.Stage) []domain.PartitionID {
	if sm, ok := stage.ShuffleMap(); ok {
		missing := s.mapOutputs.MissingMapIDs(sm.ShuffleDep.ShuffleID, stage.NumTasks)
		out := make([]domain.PartitionID, len(missing))
		for i, id := range missing {
			out[i] = domain.PartitionID(id)
		}
		return out
	}

	rs, _ := stage.Result()
	var out []domain.PartitionID
	for i, p := range rs.Partitions {
		if rs.ActiveJob != nil && i < len(rs.ActiveJob.Finished) && rs.ActiveJob.Finished[i] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// finishEmptyStage handles the degenerate case of a stage with no
// partitions left to compute: it is marked complete immediately and its
// dependents are given a chance to run.
func (s *Scheduler) finishEmptyStage(stage *domain.Stage) {
	stage.Status = domain.StageNone
	if _, ok := stage.ShuffleMap(); ok {
		s.completeShuffleMapStage(stage)
		return
	}
	if rs, ok := stage.Result(); ok && rs.ActiveJob != nil && rs.ActiveJob.IsComplete() {
		s.finishJob(rs.ActiveJob, stage)
	}
}
