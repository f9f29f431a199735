package core

import (
	"testing"
)

// TestTopKeysDisabled tests that a non-positive capacity disables tracking
func TestTopKeysDisabled(t *testing.T) {
	tk := NewTopKeys(0)

	tk.Touch("a")
	tk.Touch("a")

	if report := tk.Report(); len(report) != 0 {
		t.Errorf("Disabled sketch tracked %d keys", len(report))
	}
}

// TestTopKeysTracking tests counting within capacity
func TestTopKeysTracking(t *testing.T) {
	tk := NewTopKeys(4)

	for i := 0; i < 5; i++ {
		tk.Touch("hot")
	}
	tk.Touch("warm")
	tk.Touch("warm")
	tk.Touch("cold")

	report := tk.Report()
	if len(report) != 3 {
		t.Fatalf("Report has %d entries, want 3", len(report))
	}
	if report[0].Key != "hot" || report[0].Count != 5 {
		t.Errorf("Top entry = %+v, want hot/5", report[0])
	}
	if report[1].Key != "warm" || report[1].Count != 2 {
		t.Errorf("Second entry = %+v, want warm/2", report[1])
	}
	if report[2].Key != "cold" || report[2].Count != 1 {
		t.Errorf("Third entry = %+v, want cold/1", report[2])
	}
}

// TestTopKeysDisplacement tests that a full sketch only evicts the coldest
// key once the untracked pressure exceeds its counter
func TestTopKeysDisplacement(t *testing.T) {
	tk := NewTopKeys(2)

	for i := 0; i < 5; i++ {
		tk.Touch("hot")
	}
	tk.Touch("cold")

	// First miss only builds pressure, cold (count 1) survives
	tk.Touch("new")
	report := tk.Report()
	if len(report) != 2 || report[1].Key != "cold" {
		t.Fatalf("Cold key displaced on the first miss: %+v", report)
	}

	// Second miss pushes pressure past cold's counter
	tk.Touch("new")
	report = tk.Report()
	if len(report) != 2 {
		t.Fatalf("Report has %d entries, want 2", len(report))
	}
	if report[0].Key != "hot" || report[0].Count != 5 {
		t.Errorf("Hot key disturbed by displacement: %+v", report[0])
	}
	if report[1].Key != "new" {
		t.Errorf("Second entry = %+v, want the new key", report[1])
	}
}

// TestTopKeysReset tests that Reset drops all state
func TestTopKeysReset(t *testing.T) {
	tk := NewTopKeys(2)
	tk.Touch("a")
	tk.Touch("b")

	tk.Reset()

	if report := tk.Report(); len(report) != 0 {
		t.Errorf("Report has %d entries after reset", len(report))
	}

	// Capacity is available again after the reset
	tk.Touch("c")
	report := tk.Report()
	if len(report) != 1 || report[0].Key != "c" {
		t.Errorf("Tracking broken after reset: %+v", report)
	}
}
