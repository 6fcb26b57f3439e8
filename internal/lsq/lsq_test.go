package lsq

import "testing"

func TestAllocate_FullSignalsBackpressure(t *testing.T) {
	q := New(Config{Capacity: 2})

	if _, err := q.Allocate(1, 0x100, Store, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.Allocate(2, 0x104, Load, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := q.Allocate(3, 0x108, Load, 4); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
	if !q.IsFull() {
		t.Fatal("expected queue to report full")
	}
}

func TestCheckDependency_ForwardsFromExactMatchingStore(t *testing.T) {
	q := New(DefaultConfig())

	stIdx, _ := q.Allocate(1, 0x200, Store, 4)
	q.UpdateAddress(stIdx, 0x1000)
	q.UpdateData(stIdx, 0xBEEF)
	q.MarkCompleted(stIdx)

	ldIdx, _ := q.Allocate(2, 0x204, Load, 4)
	q.UpdateAddress(ldIdx, 0x1000)

	dep := q.CheckDependency(ldIdx)
	if !dep.HasConflict || !dep.Forwardable {
		t.Fatalf("expected forwardable conflict, got %+v", dep)
	}
	if dep.ForwardData != 0xBEEF {
		t.Fatalf("expected forwarded data 0xBEEF, got %#x", dep.ForwardData)
	}
}

func TestCheckDependency_UnresolvedStoreBlocksForwarding(t *testing.T) {
	q := New(DefaultConfig())

	stIdx, _ := q.Allocate(1, 0x300, Store, 4)
	// address left unresolved

	ldIdx, _ := q.Allocate(2, 0x304, Load, 4)
	q.UpdateAddress(ldIdx, 0x1000)

	dep := q.CheckDependency(ldIdx)
	if !dep.HasConflict || dep.Forwardable {
		t.Fatalf("expected unresolved conflict blocking forward, got %+v", dep)
	}

	// Once the store resolves to a non-overlapping address, the load no
	// longer conflicts with it.
	q.UpdateAddress(stIdx, 0x2000)
	dep = q.CheckDependency(ldIdx)
	if dep.HasConflict {
		t.Fatalf("expected no conflict once store resolves elsewhere, got %+v", dep)
	}
}

func TestCheckDependency_NewestConflictSupersedesOlderForwardable(t *testing.T) {
	q := New(DefaultConfig())

	st1, _ := q.Allocate(1, 0x10, Store, 4)
	q.UpdateAddress(st1, 0x1000)
	q.UpdateData(st1, 0xAAAA)

	// A newer store to the same line whose address hasn't resolved yet must
	// supersede the older, forwardable store: forwardability is evaluated
	// against the newest conflicting store only.
	st2, _ := q.Allocate(2, 0x14, Store, 4)

	ld, _ := q.Allocate(3, 0x18, Load, 4)
	q.UpdateAddress(ld, 0x1000)

	dep := q.CheckDependency(ld)
	if !dep.HasConflict || dep.Forwardable {
		t.Fatalf("expected newest (unresolved) store to block forwarding, got %+v", dep)
	}
	if dep.StoreSeq != 2 {
		t.Fatalf("expected conflict attributed to newest store (seq 2), got seq %d", dep.StoreSeq)
	}

	q.UpdateAddress(st2, 0x2000) // resolves elsewhere; st1 should forward again
	dep = q.CheckDependency(ld)
	if !dep.Forwardable || dep.ForwardData != 0xAAAA {
		t.Fatalf("expected forward from st1 once st2 clears, got %+v", dep)
	}
}

func TestCheckDependency_PartialOverlapConflictsButDoesNotForward(t *testing.T) {
	q := New(DefaultConfig())

	st, _ := q.Allocate(1, 0x10, Store, 2) // covers [0x1000, 0x1002)
	q.UpdateAddress(st, 0x1000)
	q.UpdateData(st, 0x1)

	ld, _ := q.Allocate(2, 0x14, Load, 4) // wants [0x1000, 0x1004)
	q.UpdateAddress(ld, 0x1000)

	dep := q.CheckDependency(ld)
	if !dep.HasConflict || dep.Forwardable {
		t.Fatalf("expected conflict without forwarding for undersized store, got %+v", dep)
	}
}

func TestSquashFrom_RemovesContiguousTailAndRewindsIdempotently(t *testing.T) {
	q := New(DefaultConfig())
	for i := uint64(1); i <= 5; i++ {
		q.Allocate(i, 0x1000+i, Load, 4)
	}

	q.SquashFrom(3)
	if q.Size() != 2 {
		t.Fatalf("expected 2 entries remaining after squash, got %d", q.Size())
	}

	sizeBefore := q.Size()
	q.SquashFrom(3) // idempotent: squashing again changes nothing
	if q.Size() != sizeBefore {
		t.Fatalf("expected squash_from to be idempotent, size changed from %d to %d", sizeBefore, q.Size())
	}
}

func TestStoreAndLoadCounts(t *testing.T) {
	q := New(DefaultConfig())
	q.Allocate(1, 0x1, Store, 4)
	q.Allocate(2, 0x2, Load, 4)
	q.Allocate(3, 0x3, Load, 4)

	if got := q.StoreCount(); got != 1 {
		t.Fatalf("expected 1 store, got %d", got)
	}
	if got := q.LoadCount(); got != 2 {
		t.Fatalf("expected 2 loads, got %d", got)
	}
}

func TestCommitHead_FreesSlotInOrder(t *testing.T) {
	q := New(DefaultConfig())
	q.Allocate(1, 0x1, Store, 4)
	q.Allocate(2, 0x2, Load, 4)

	e := q.CommitHead()
	if e == nil || e.SeqNum != 1 {
		t.Fatalf("expected to commit seq 1 first, got %+v", e)
	}
	if !e.Committed {
		t.Fatal("expected committed flag set")
	}
	if q.Size() != 1 {
		t.Fatalf("expected 1 entry remaining, got %d", q.Size())
	}
}
