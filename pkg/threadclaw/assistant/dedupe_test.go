package assistant

import (
	"testing"
	"time"
)

func TestDeduperSeenMarksOnFirstCheck(t *testing.T) {
	d := NewDeduper(time.Minute, testLogger())
	defer d.Stop()

	if d.Seen("slack:1.000001") {
		t.Error("first check should not be seen")
	}
	if !d.Seen("slack:1.000001") {
		t.Error("second check should be seen")
	}
	if d.Seen("slack:1.000002") {
		t.Error("different key should not be seen")
	}
}

func TestDeduperPruneExpiresOldEntries(t *testing.T) {
	d := NewDeduper(time.Millisecond, testLogger())
	defer d.Stop()

	d.Seen("old")
	time.Sleep(5 * time.Millisecond)
	d.prune()

	if d.Size() != 0 {
		t.Errorf("size = %d after prune, want 0", d.Size())
	}
	if d.Seen("old") {
		t.Error("expired key should be forgotten")
	}
}

func TestDeduperDefaultTTL(t *testing.T) {
	d := NewDeduper(0, testLogger())
	defer d.Stop()

	d.Seen("k")
	d.prune()
	if d.Size() != 1 {
		t.Errorf("fresh entry pruned under default TTL, size = %d", d.Size())
	}
}
