package domain

import "testing"

type recordingListener struct {
	succeeded []int
	failed    error
}

func (l *recordingListener) TaskSucceeded(outputID int, result any) error {
	l.succeeded = append(l.succeeded, outputID)
	return nil
}

func (l *recordingListener) JobFailed(err error) { l.failed = err }

func TestActiveJobMarkOutputFinishedOnce(t *testing.T) {
	stage := NewResultStage(1, &Dataset{ID: 1, NumPartitions: 2}, nil, 1, []PartitionID{0, 1})
	job := NewActiveJob(1, stage, CallSite{}, &recordingListener{}, nil, 2)

	if !job.MarkOutputFinished(0) {
		t.Fatalf("first mark of output 0 should succeed")
	}
	if job.MarkOutputFinished(0) {
		t.Fatalf("duplicate mark of output 0 should be rejected")
	}
	if job.NumFinished != 1 {
		t.Fatalf("expected NumFinished=1, got %d", job.NumFinished)
	}
	if job.IsComplete() {
		t.Fatalf("job should not be complete yet")
	}
	job.MarkOutputFinished(1)
	if !job.IsComplete() {
		t.Fatalf("job should be complete after all outputs finished")
	}
}

func TestActiveJobGroupIDFromProperties(t *testing.T) {
	stage := NewResultStage(1, &Dataset{ID: 1, NumPartitions: 1}, nil, 1, []PartitionID{0})
	job := NewActiveJob(1, stage, CallSite{}, &recordingListener{}, map[string]string{"jobGroup.id": "G"}, 1)
	if job.GroupID != "G" {
		t.Fatalf("expected GroupID=G, got %q", job.GroupID)
	}
}
