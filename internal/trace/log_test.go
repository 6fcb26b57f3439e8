package trace

import (
	"path/filepath"
	"testing"
)

func TestLog_AppendAndReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")

	l, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := l.Append(&IssueEvent{Event: Event{Cycle: 1, Type: EventTypeIssue}, OpSeqNum: 1, PC: 0x100, Kind: "STORE"}); err != nil {
		t.Fatalf("Append issue: %v", err)
	}
	if _, err := l.Append(&ForwardEvent{Event: Event{Cycle: 2, Type: EventTypeForward}, LoadSeqNum: 2, StoreSeqNum: 1, Address: 0x1000, Data: 0xBEEF}); err != nil {
		t.Fatalf("Append forward: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	if got := l2.LastSequence(); got != 2 {
		t.Fatalf("LastSequence after reopen = %d, want 2", got)
	}

	var types []EventType
	err = l2.Replay(func(seqNum uint64, event interface{}) error {
		switch e := event.(type) {
		case *IssueEvent:
			types = append(types, e.Type)
		case *ForwardEvent:
			types = append(types, e.Type)
			if e.Data != 0xBEEF {
				t.Errorf("forward data = %#x, want 0xBEEF", e.Data)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(types) != 2 || types[0] != EventTypeIssue || types[1] != EventTypeForward {
		t.Fatalf("replayed types = %v", types)
	}
}

func TestLog_ViolationAndRecoveryRoundTripWithDetail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "violation.log")

	l, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := l.Append(&ViolationEvent{
		Event:      Event{Cycle: 7, Type: EventTypeViolation},
		LoadSeqNum: 2,
		LoadPC:     0x304,
		StorePC:    0x300,
		Expected:   0xCAFE,
		Actual:     0,
	}); err != nil {
		t.Fatalf("Append violation: %v", err)
	}
	if _, err := l.Append(&RecoveryEvent{
		Event:          Event{Cycle: 7, Type: EventTypeRecovery},
		ViolatorSeqNum: 2,
		RefetchPC:      0x304,
	}); err != nil {
		t.Fatalf("Append recovery: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	l2, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()

	var sawViolation, sawRecovery bool
	err = l2.Replay(func(_ uint64, event interface{}) error {
		switch e := event.(type) {
		case *ViolationEvent:
			sawViolation = true
			if e.LoadSeqNum != 2 || e.LoadPC != 0x304 || e.StorePC != 0x300 {
				t.Errorf("violation identity fields lost in replay: %+v", e)
			}
			if e.Expected != 0xCAFE || e.Actual != 0 {
				t.Errorf("violation data fields lost in replay: %+v", e)
			}
		case *RecoveryEvent:
			sawRecovery = true
			if e.ViolatorSeqNum != 2 || e.RefetchPC != 0x304 {
				t.Errorf("recovery fields lost in replay: %+v", e)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !sawViolation || !sawRecovery {
		t.Fatalf("expected both events replayed, violation=%v recovery=%v", sawViolation, sawRecovery)
	}
}

func TestLog_ReplayEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.log")
	l, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer l.Close()

	called := false
	if err := l.Replay(func(uint64, interface{}) error { called = true; return nil }); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if called {
		t.Fatal("handler called on empty log")
	}
}
