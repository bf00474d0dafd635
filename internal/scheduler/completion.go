package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/listenerbus"
	"github.com/flowstage/dagscheduler/internal/platform/dbctx"
)

// handleCompletionEvent is the Completion Handler (§4.7): it notifies the
// commit coordinator of every completion regardless of outcome, then
// dispatches on the task's end reason.
func (s *Scheduler) handleCompletionEvent(ev domain.CompletionEvent) {
	s.commit.TaskCompleted(ev.Task.StageID, ev.Task.StageAttemptID, ev.Task.Partition, ev.Task.TaskAttemptNumber, ev.Reason)

	stage, ok := s.registry.StageByID(ev.Task.StageID)
	if !ok {
		s.bus.Post(listenerbus.TaskEnd{Task: ev.Task, Reason: ev.Reason, At: ev.CompletedAt})
		return
	}
	s.bus.Post(listenerbus.TaskEnd{Task: ev.Task, Reason: ev.Reason, At: ev.CompletedAt})

	if len(ev.AccumUpdates) > 0 {
		s.log.Debug("accumulator updates received", "task_id", ev.Task.ID, "count", len(ev.AccumUpdates))
	}

	if ev.Reason.Kind() != domain.ReasonSuccess {
		s.handleUnsuccessfulCompletion(stage, ev)
		return
	}

	if rt, ok := ev.Task.Result(); ok {
		s.handleResultTaskSuccess(stage, ev, rt)
		return
	}
	if smt, ok := ev.Task.ShuffleMap(); ok {
		s.handleShuffleMapTaskSuccess(stage, ev, smt)
	}
}

func (s *Scheduler) handleUnsuccessfulCompletion(stage *domain.Stage, ev domain.CompletionEvent) {
	switch ev.Reason.Kind() {
	case domain.ReasonFetchFailed:
		s.handleFetchFailed(stage, ev)
		return
	case domain.ReasonResubmitted:
		if sm, ok := stage.ShuffleMap(); ok {
			sm.PendingPartitions[ev.Task.Partition] = struct{}{}
		}
		return
	}

	if stage.Dataset.Barrier {
		s.handleBarrierTaskFailure(stage, ev)
		return
	}
	// TaskCommitDenied, ExecutorLostFailure, ExceptionFailure and
	// UnknownReason on a non-barrier stage: the task scheduler owns retrying
	// the individual task attempt, nothing to do at the DAG level.
}

func (s *Scheduler) handleResultTaskSuccess(stage *domain.Stage, ev domain.CompletionEvent, rt *domain.ResultTask) {
	rs, ok := stage.Result()
	if !ok || rs.ActiveJob == nil {
		return
	}
	job := rs.ActiveJob
	if !job.MarkOutputFinished(rt.OutputID) {
		return
	}
	if err := job.Listener.TaskSucceeded(rt.OutputID, ev.Result); err != nil {
		s.failJob(job, fmt.Errorf("job listener rejected output %d: %w", rt.OutputID, err))
		return
	}
	if job.IsComplete() {
		s.finishJob(job, stage)
	}
}

func (s *Scheduler) handleShuffleMapTaskSuccess(stage *domain.Stage, ev domain.CompletionEvent, smt *domain.ShuffleMapTask) {
	sm, ok := stage.ShuffleMap()
	if !ok {
		return
	}
	partition := ev.Task.Partition
	delete(sm.PendingPartitions, partition)

	executor := domain.ExecutorID("")
	host := ""
	if ev.TaskInfo != nil {
		executor = ev.TaskInfo.ExecutorID
		host = ev.TaskInfo.Host
	}
	if s.epochs.IsTaskStale(executor, ev.Task.Epoch) {
		sm.PendingPartitions[partition] = struct{}{}
		return
	}

	_ = s.mapOutputs.RegisterMapOutput(smt.ShuffleID, int64(partition), domain.TaskLocation{
		Host:       host,
		ExecutorID: string(executor),
	})

	if len(sm.PendingPartitions) == 0 {
		s.completeShuffleMapStage(stage)
	}
}

// completeShuffleMapStage finalizes a ShuffleMapStage once every partition
// has registered output: it bumps the map-output epoch, clears stale cache
// entries, completes any map-stage-only jobs directly, and submits
// dependent stages that were waiting on it.
func (s *Scheduler) completeShuffleMapStage(stage *domain.Stage) {
	sm, ok := stage.ShuffleMap()
	if !ok {
		return
	}
	now := time.Now()
	if latest := stage.LatestAttempt(); latest != nil {
		latest.CompletionTime = &now
	}
	stage.Status = domain.StageNone
	s.mapOutputs.IncrementEpoch()
	s.cacheIndex.Clear()
	s.commit.StageEnd(stage.ID, stage.CurrentAttemptNumber())
	s.bus.Post(listenerbus.StageCompleted{StageID: stage.ID, AttemptNumber: stage.CurrentAttemptNumber(), At: now})

	if !s.registry.IsAvailable(stage) {
		s.submitStage(stage)
		return
	}

	for _, job := range sm.MapStageJobs {
		stats, err := s.mapOutputs.GetStatistics(sm.ShuffleDep.ShuffleID)
		if err != nil {
			s.failJob(job, err)
			continue
		}
		if err := job.Listener.TaskSucceeded(0, stats); err != nil {
			s.failJob(job, fmt.Errorf("map-stage job listener rejected statistics: %w", err))
			continue
		}
		job.MarkOutputFinished(0)
		s.finishJob(job, stage)
	}

	for _, dep := range s.registry.DependentStages(stage) {
		if dep.Status == domain.StageWaiting {
			dep.Status = domain.StageNone
		}
		s.submitStage(dep)
	}
}

// handleFetchFailed implements the fetch-failure recovery branch of the
// completion state machine: stale-attempt filtering, consecutive-attempt
// abort, map-output invalidation, indeterminate-output rollback, and
// debounced resubmission.
func (s *Scheduler) handleFetchFailed(stage *domain.Stage, ev domain.CompletionEvent) {
	ff, ok := ev.Reason.FetchFailed()
	if !ok {
		return
	}
	if ev.Task.StageAttemptID != stage.CurrentAttemptNumber() {
		// A failure from a superseded attempt; the current attempt already
		// superseded it, nothing to recover.
		return
	}

	if stage.Dataset.Barrier {
		if _, ok := stage.Result(); ok {
			s.abortStage(stage, "fetch failure in barrier result stage: "+ff.Message)
			return
		}
	}

	stage.FailedAttemptIDs[ev.Task.StageAttemptID] = struct{}{}
	shouldAbort := len(stage.FailedAttemptIDs) >= s.cfg.MaxConsecutiveStageAttempts || s.cfg.TestNoStageRetry
	if latest := stage.LatestAttempt(); latest != nil {
		latest.FinishedWithRetry = !shouldAbort
		latest.FailureReason = ff.Message
	}
	if shouldAbort {
		s.abortStage(stage, fmt.Sprintf("fetch failures exceeded max consecutive attempts (%d): %s", s.cfg.MaxConsecutiveStageAttempts, ff.Message))
		return
	}

	if s.cfg.UnRegisterOutputOnHostOnFetchFailure && s.cfg.ExternalShuffleServiceEnabled {
		_ = s.mapOutputs.RemoveOutputsOnHost(hostFromBlockManagerAddress(ff.BlockManagerAddress))
	} else {
		_ = s.mapOutputs.UnregisterMapOutput(ff.ShuffleID, ff.MapID)
	}
	if producer, ok := s.registry.StageForShuffle(ff.ShuffleID); ok && producer.Dataset.Barrier {
		_ = s.mapOutputs.UnregisterAllMapOutput(ff.ShuffleID)
	}

	if producer, ok := s.registry.StageForShuffle(ff.ShuffleID); ok && producer.Dataset.Determinism == domain.Indeterminate {
		for _, dependent := range s.registry.TransitiveDependentStages(producer) {
			if dependent.ID == stage.ID {
				continue
			}
			// Only a dependent holding partial output is unsafe to keep: one
			// with every partition still missing has nothing to lose (it
			// will simply recompute against the producer's retry), and one
			// with none missing is already fully computed.
			missing, total := s.registry.StagePartitionCounts(dependent)
			if missing == 0 || missing == total {
				continue
			}
			s.abortStage(dependent, "upstream indeterminate shuffle output was lost; partial downstream output cannot be safely retained")
		}
	}

	s.epochs.RecordShuffleFileLoss(executorForFetchFailure(ff), s.mapOutputs.GetEpoch())
	s.failedStages[stage.ID] = stage
	s.resubmit.Schedule()
}

func executorForFetchFailure(ff *domain.FetchFailed) domain.ExecutorID {
	return domain.ExecutorID(ff.BlockManagerAddress)
}

func hostFromBlockManagerAddress(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}

// handleBarrierTaskFailure implements the barrier-stage-wide failure path:
// any non-success completion on a barrier stage kills every other task
// attempt in the stage and either retries the whole stage or aborts it.
func (s *Scheduler) handleBarrierTaskFailure(stage *domain.Stage, ev domain.CompletionEvent) {
	_ = s.taskSched.KillAllTaskAttempts(stage.ID, true, "barrier task failure: "+ev.Reason.String())

	attempt := stage.CurrentAttemptNumber()
	stage.FailedAttemptIDs[attempt] = struct{}{}
	if latest := stage.LatestAttempt(); latest != nil {
		latest.FailureReason = ev.Reason.String()
	}

	if len(stage.FailedAttemptIDs) >= s.cfg.MaxConsecutiveStageAttempts || s.cfg.TestNoStageRetry {
		s.abortStage(stage, "barrier stage failed: "+ev.Reason.String())
		return
	}

	if sm, ok := stage.ShuffleMap(); ok {
		_ = s.mapOutputs.UnregisterAllMapOutput(sm.ShuffleDep.ShuffleID)
		stage.Status = domain.StageNone
		s.submitStage(stage)
		return
	}
	s.abortStage(stage, "barrier result stage failed: "+ev.Reason.String())
}

// handleTaskSetFailed aborts a stage when the task scheduler gives up on
// its whole task set rather than a single task attempt.
func (s *Scheduler) handleTaskSetFailed(ev domain.TaskSetFailed) {
	stage, ok := s.registry.StageByID(ev.StageID)
	if !ok {
		return
	}
	s.abortStage(stage, ev.Reason)
}

// handleResubmitFailedStages drains failedStages in ascending FirstJobID
// order and resubmits each, covering both fetch-failure recovery and
// barrier-admission retries (both park stages in the same set).
func (s *Scheduler) handleResubmitFailedStages() {
	stages := make([]*domain.Stage, 0, len(s.failedStages))
	for _, st := range s.failedStages {
		stages = append(stages, st)
	}
	s.failedStages = make(map[domain.StageID]*domain.Stage)

	for i := 0; i < len(stages); i++ {
		for j := i + 1; j < len(stages); j++ {
			if stages[j].FirstJobID < stages[i].FirstJobID {
				stages[i], stages[j] = stages[j], stages[i]
			}
		}
	}

	for _, st := range stages {
		if st.Status == domain.StageFailed {
			continue
		}
		st.Status = domain.StageNone
		s.submitStage(st)
	}
}

// abortStage marks a stage permanently failed and fails every job that
// references it.
func (s *Scheduler) abortStage(stage *domain.Stage, message string) {
	stage.Status = domain.StageFailed
	now := time.Now()
	if latest := stage.LatestAttempt(); latest != nil {
		latest.CompletionTime = &now
		latest.FailureReason = message
	}
	s.commit.StageEnd(stage.ID, stage.CurrentAttemptNumber())
	s.bus.Post(listenerbus.StageCompleted{StageID: stage.ID, AttemptNumber: stage.CurrentAttemptNumber(), FailureReason: message, At: now})

	err := &StageAbortedError{StageID: stage.ID, Message: message}
	for jobID := range stage.JobIDs {
		if job, ok := s.registry.JobByID(jobID); ok {
			s.failJob(job, err)
		}
	}
}

// failJob notifies a job's listener of failure, marks it finished, and
// removes it (and any stage exclusively reachable from it) from the
// registry.
func (s *Scheduler) failJob(job *domain.ActiveJob, err error) {
	job.Listener.JobFailed(err)
	now := time.Now()
	job.FinishedAt = &now
	s.bus.Post(listenerbus.JobEnd{JobID: job.JobID, Success: false, Err: err, At: now})
	s.registry.CleanupForJob(job)
}

// finishJob marks a job complete, notifies listeners, and cleans up its
// exclusive stages.
func (s *Scheduler) finishJob(job *domain.ActiveJob, stage *domain.Stage) {
	now := time.Now()
	job.FinishedAt = &now
	s.commit.StageEnd(stage.ID, stage.CurrentAttemptNumber())
	s.bus.Post(listenerbus.JobEnd{JobID: job.JobID, Success: true, At: now})
	s.registry.CleanupForJob(job)
}

func (s *Scheduler) handleStageCancelled(ev domain.StageCancelled) {
	stage, ok := s.registry.StageByID(ev.StageID)
	if !ok {
		return
	}
	s.abortStage(stage, ev.Reason)
}

func (s *Scheduler) handleJobCancelled(ev domain.JobCancelled) {
	job, ok := s.registry.JobByID(ev.JobID)
	if !ok {
		return
	}
	s.failJob(job, fmt.Errorf("job cancelled: %s", ev.Reason))
}

func (s *Scheduler) handleJobGroupCancelled(ev domain.JobGroupCancelled) {
	for _, id := range s.registry.ActiveJobIDs() {
		job, ok := s.registry.JobByID(id)
		if !ok || job.GroupID != ev.GroupID {
			continue
		}
		s.failJob(job, fmt.Errorf("job group %q cancelled", ev.GroupID))
	}
}

func (s *Scheduler) handleAllJobsCancelled(ev domain.AllJobsCancelled) {
	for _, id := range s.registry.ActiveJobIDs() {
		job, ok := s.registry.JobByID(id)
		if !ok {
			continue
		}
		s.failJob(job, fmt.Errorf("all jobs cancelled: %s", ev.Reason))
	}
}

func (s *Scheduler) handleExecutorLost(ev domain.ExecutorLost) {
	fileLost := ev.Reason.WorkerLost || !s.cfg.ExternalShuffleServiceEnabled
	s.epochs.RecordExecutorLoss(ev.ExecutorID, s.mapOutputs.GetEpoch(), fileLost)
	if fileLost {
		_ = s.mapOutputs.RemoveOutputsOnExecutor(ev.ExecutorID)
		s.mapOutputs.IncrementEpoch()
	}
	if s.blockManager != nil {
		if err := s.blockManager.RemoveExecutor(dbctx.Context{Ctx: context.Background()}, ev.ExecutorID); err != nil {
			s.log.Warn("block manager failed to drop lost executor", "executorID", ev.ExecutorID, "error", err)
		}
	}
	s.cacheIndex.Clear()
}

func (s *Scheduler) handleWorkerRemoved(ev domain.WorkerRemoved) {
	_ = s.mapOutputs.RemoveOutputsOnHost(ev.Host)
	s.mapOutputs.IncrementEpoch()
	s.cacheIndex.Clear()
}

func (s *Scheduler) handleJobSubmitted(ev domain.JobSubmitted) {
	stage := s.registry.CreateResultStage(ev.Dataset, ev.Partitions, ev.JobID)
	job := domain.NewActiveJob(ev.JobID, stage, ev.CallSite, ev.Listener, ev.Properties, len(ev.Partitions))
	if rs, ok := stage.Result(); ok {
		rs.ActiveJob = job
	}
	s.registry.RegisterJob(job)
	s.registry.UpdateJobIDStageIDMaps(ev.JobID, stage)
	s.cacheIndex.Clear()
	s.cacheIndex.Populate(ev.Dataset)
	s.bus.Post(listenerbus.JobStart{JobID: ev.JobID, StageIDs: []domain.StageID{stage.ID}, At: time.Now()})
	s.submitStage(stage)
}

func (s *Scheduler) handleMapStageSubmitted(ev domain.MapStageSubmitted) {
	stage := s.registry.GetOrCreateShuffleMapStage(ev.ShuffleDep, ev.JobID)
	sm, ok := stage.ShuffleMap()
	if !ok {
		return
	}
	job := domain.NewActiveJob(ev.JobID, stage, ev.CallSite, ev.Listener, ev.Properties, 1)
	sm.MapStageJobs = append(sm.MapStageJobs, job)
	s.registry.RegisterJob(job)
	s.registry.UpdateJobIDStageIDMaps(ev.JobID, stage)
	s.bus.Post(listenerbus.JobStart{JobID: ev.JobID, StageIDs: []domain.StageID{stage.ID}, At: time.Now()})

	if s.registry.IsAvailable(stage) {
		stats, err := s.mapOutputs.GetStatistics(sm.ShuffleDep.ShuffleID)
		if err != nil {
			s.failJob(job, err)
			return
		}
		if err := job.Listener.TaskSucceeded(0, stats); err != nil {
			s.failJob(job, fmt.Errorf("map-stage job listener rejected statistics: %w", err))
			return
		}
		job.MarkOutputFinished(0)
		s.finishJob(job, stage)
		return
	}
	s.submitStage(stage)
}
