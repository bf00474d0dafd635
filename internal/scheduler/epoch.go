package scheduler

import "github.com/flowstage/dagscheduler/internal/domain"

// FailureEpochTracker owns the two monotone per-executor epoch maps that
// gate late events: once an executor's recorded epoch reaches or exceeds a
// task's launch epoch, that task's completion is treated as a loss
// regardless of what it reports. It is only ever touched from the event
// loop, so it carries no synchronization of its own.
type FailureEpochTracker struct {
	executorFailureEpoch map[domain.ExecutorID]domain.Epoch
	shuffleFileLostEpoch map[domain.ExecutorID]domain.Epoch
}

// NewFailureEpochTracker returns an empty tracker.
func NewFailureEpochTracker() *FailureEpochTracker {
	return &FailureEpochTracker{
		executorFailureEpoch: make(map[domain.ExecutorID]domain.Epoch),
		shuffleFileLostEpoch: make(map[domain.ExecutorID]domain.Epoch),
	}
}

// RecordExecutorLoss updates executorFailureEpoch[e] if currentEpoch is
// newer than what's stored, and conditionally updates shuffleFileLostEpoch:
// when fileLost is true (worker-level loss, or no external shuffle service
// in use), shuffleFileLostEpoch is bumped to match; otherwise it is left
// alone, deferring shuffle-file unregistration until an actual fetch
// failure proves the data is gone.
func (t *FailureEpochTracker) RecordExecutorLoss(e domain.ExecutorID, currentEpoch domain.Epoch, fileLost bool) {
	if t.executorFailureEpoch[e] < currentEpoch {
		t.executorFailureEpoch[e] = currentEpoch
	}
	if fileLost && t.shuffleFileLostEpoch[e] < currentEpoch {
		t.shuffleFileLostEpoch[e] = currentEpoch
	}
}

// RecordShuffleFileLoss bumps shuffleFileLostEpoch[e] directly, used when a
// fetch failure later proves a previously-"executor lost but not file lost"
// executor's shuffle output is in fact gone.
func (t *FailureEpochTracker) RecordShuffleFileLoss(e domain.ExecutorID, currentEpoch domain.Epoch) {
	if t.shuffleFileLostEpoch[e] < currentEpoch {
		t.shuffleFileLostEpoch[e] = currentEpoch
	}
}

// ClearExecutor resets both epochs for e, called on ExecutorAdded so a
// reused executor id does not inherit a prior incarnation's failure record.
func (t *FailureEpochTracker) ClearExecutor(e domain.ExecutorID) {
	delete(t.executorFailureEpoch, e)
	delete(t.shuffleFileLostEpoch, e)
}

// ExecutorFailureEpoch returns the last recorded executor-loss epoch for e
// (zero if none recorded).
func (t *FailureEpochTracker) ExecutorFailureEpoch(e domain.ExecutorID) domain.Epoch {
	return t.executorFailureEpoch[e]
}

// ShuffleFileLostEpoch returns the last recorded shuffle-file-loss epoch for
// e (zero if none recorded).
func (t *FailureEpochTracker) ShuffleFileLostEpoch(e domain.ExecutorID) domain.Epoch {
	return t.shuffleFileLostEpoch[e]
}

// IsTaskStale reports whether a task launched at launchEpoch and executed on
// e should be treated as a loss: the executor's recorded failure epoch has
// caught up to or passed the task's launch epoch. An executor with no
// recorded failure never makes a task stale.
func (t *FailureEpochTracker) IsTaskStale(e domain.ExecutorID, launchEpoch domain.Epoch) bool {
	failed, ok := t.executorFailureEpoch[e]
	return ok && failed >= launchEpoch
}
