package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowstage/dagscheduler/internal/domain"
	"github.com/flowstage/dagscheduler/internal/mapoutput"
)

// JobWaiter is both the domain.JobListener the event loop calls back into
// and the handle callers use to wait for (or cancel) a submitted job. One
// JobWaiter is created per SubmitJob/SubmitMapStage call; it is never
// shared between jobs. numOutputs is known up front (len(partitions), or 1
// for a map-stage job), so Wait can close as soon as every output has
// reported in, without needing a dedicated "job succeeded" hook on
// domain.JobListener.
type JobWaiter struct {
	jobID     domain.JobID
	scheduler *Scheduler
	onResult  func(outputID int, result any)

	mu         sync.Mutex
	numOutputs int
	finished   int

	done chan struct{}
	once sync.Once
	err  error
}

func newJobWaiter(jobID domain.JobID, s *Scheduler, numOutputs int, onResult func(outputID int, result any)) *JobWaiter {
	return &JobWaiter{
		jobID:      jobID,
		scheduler:  s,
		onResult:   onResult,
		numOutputs: numOutputs,
		done:       make(chan struct{}),
	}
}

// TaskSucceeded implements domain.JobListener.
func (w *JobWaiter) TaskSucceeded(outputID int, result any) error {
	if w.onResult != nil {
		w.onResult(outputID, result)
	}
	w.mu.Lock()
	w.finished++
	done := w.finished >= w.numOutputs
	w.mu.Unlock()
	if done {
		w.markDone()
	}
	return nil
}

// JobFailed implements domain.JobListener.
func (w *JobWaiter) JobFailed(err error) {
	w.err = err
	w.markDone()
}

func (w *JobWaiter) markDone() {
	w.once.Do(func() { close(w.done) })
}

// JobID returns the id this waiter was created for.
func (w *JobWaiter) JobID() domain.JobID { return w.jobID }

// Wait blocks until the job finishes (successfully or not) or ctx is done,
// returning the job's terminal error, if any.
func (w *JobWaiter) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel requests cancellation of the underlying job.
func (w *JobWaiter) Cancel(reason string) {
	w.scheduler.PostEvent(domain.JobCancelled{JobID: w.jobID, Reason: reason})
}

func (s *Scheduler) allocJobID() domain.JobID {
	return domain.JobID(s.jobIDSeq.Add(1))
}

// SubmitJob validates the requested output partitions against ds and posts
// a JobSubmitted event, returning a waiter the caller can block on with
// Wait or poll asynchronously. onResult, if non-nil, is invoked once per
// finished output partition with its computed result.
func (s *Scheduler) SubmitJob(ds *domain.Dataset, partitions []domain.PartitionID, callSite domain.CallSite, properties map[string]string, onResult func(outputID int, result any)) (*JobWaiter, error) {
	for _, p := range partitions {
		if int(p) < 0 || int(p) >= ds.NumPartitions {
			return nil, &SubmissionValidationError{Reason: fmt.Sprintf("partition %d out of range [0,%d)", p, ds.NumPartitions)}
		}
	}
	jobID := s.allocJobID()
	waiter := newJobWaiter(jobID, s, len(partitions), onResult)

	s.PostEvent(domain.JobSubmitted{
		JobID:      jobID,
		Dataset:    ds,
		Partitions: partitions,
		CallSite:   callSite,
		Listener:   waiter,
		Properties: properties,
	})
	return waiter, nil
}

// RunJob submits ds and blocks until it completes, returning its terminal
// error (nil on success).
func (s *Scheduler) RunJob(ctx context.Context, ds *domain.Dataset, partitions []domain.PartitionID, callSite domain.CallSite, properties map[string]string, onResult func(outputID int, result any)) error {
	waiter, err := s.SubmitJob(ds, partitions, callSite, properties, onResult)
	if err != nil {
		return err
	}
	return waiter.Wait(ctx)
}

// SubmitMapStage runs only the map side of shuffleDep, notifying onStats
// once with the resulting MapOutputStatistics.
func (s *Scheduler) SubmitMapStage(shuffleDep *domain.ShuffleDependency, callSite domain.CallSite, properties map[string]string, onStats func(*mapoutput.MapOutputStatistics)) (*JobWaiter, error) {
	jobID := s.allocJobID()
	waiter := newJobWaiter(jobID, s, 1, func(outputID int, result any) {
		if onStats == nil {
			return
		}
		if stats, ok := result.(*mapoutput.MapOutputStatistics); ok {
			onStats(stats)
		}
	})

	s.PostEvent(domain.MapStageSubmitted{
		JobID:      jobID,
		ShuffleDep: shuffleDep,
		CallSite:   callSite,
		Listener:   waiter,
		Properties: properties,
	})
	return waiter, nil
}

// CancelJob requests cancellation of a single job.
func (s *Scheduler) CancelJob(jobID domain.JobID, reason string) {
	s.PostEvent(domain.JobCancelled{JobID: jobID, Reason: reason})
}

// CancelJobGroup cancels every active job sharing groupID.
func (s *Scheduler) CancelJobGroup(groupID string) {
	s.PostEvent(domain.JobGroupCancelled{GroupID: groupID})
}

// CancelAllJobs cancels every currently active job.
func (s *Scheduler) CancelAllJobs(reason string) {
	s.PostEvent(domain.AllJobsCancelled{Reason: reason})
}

// CancelStage cancels every job that depends on stageID.
func (s *Scheduler) CancelStage(stageID domain.StageID, reason string) {
	s.PostEvent(domain.StageCancelled{StageID: stageID, Reason: reason})
}

// KillTaskAttempt asks the task scheduler to kill a single task attempt.
// Unlike the other upward calls this goes straight to the task scheduler
// rather than through the event loop, since it does not mutate any
// registry state the loop owns.
func (s *Scheduler) KillTaskAttempt(taskID domain.TaskID, interruptThread bool, reason string) error {
	return s.taskSched.KillTaskAttempt(taskID, interruptThread, reason)
}
