package commitcoordinator

import "testing"

func TestCanCommitFirstAttemptWins(t *testing.T) {
	c := NewInMemory()
	c.StageStart(1, 0)

	if !c.CanCommit(1, 0, 0, 1) {
		t.Fatalf("first attempt should be granted commit")
	}
	if c.CanCommit(1, 0, 0, 2) {
		t.Fatalf("a second attempt for the same partition should be denied")
	}
	if !c.CanCommit(1, 0, 0, 1) {
		t.Fatalf("the winning attempt asking again should still be granted")
	}
}

func TestCanCommitIndependentPerPartitionAndAttempt(t *testing.T) {
	c := NewInMemory()
	c.StageStart(1, 0)

	if !c.CanCommit(1, 0, 0, 1) || !c.CanCommit(1, 0, 1, 5) {
		t.Fatalf("distinct partitions should each get their own grant")
	}

	c.StageEnd(1, 0)
	c.StageStart(1, 1)
	if !c.CanCommit(1, 1, 0, 7) {
		t.Fatalf("a new stage attempt should reset commit grants")
	}
}
