package fingertable

import (
	"testing"

	"chordring/internal/chordnode"
)

func testSpace(t *testing.T) chordnode.Space {
	t.Helper()
	sp, err := chordnode.NewSpace(7, 5, 28)
	if err != nil {
		t.Fatalf("NewSpace: %v", err)
	}
	return sp
}

func node(id chordnode.ID, addr string) chordnode.NodeInfo {
	return chordnode.NodeInfo{Address: addr, ID: id}
}

func TestNewInitializesFingersAndPredecessorToSelf(t *testing.T) {
	sp := testSpace(t)
	self := node(10, "n10")
	ft := New(self, sp, nil)

	for i, f := range ft.Fingers() {
		if f.ID != self.ID {
			t.Errorf("finger %d = %v, want self", i, f)
		}
	}
	pred := ft.Predecessor()
	if pred == nil || pred.ID != self.ID {
		t.Errorf("predecessor = %v, want self", pred)
	}
	if len(ft.Successors()) != 0 {
		t.Errorf("successors should start empty, got %v", ft.Successors())
	}
}

// P1: the successor list is strictly ordered by clockwise distance, has no
// duplicates, excludes self, and never exceeds R entries.
func TestUpdateSuccessorsEnforcesInvariants(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	for _, id := range []chordnode.ID{40, 10, 0, 20, 10, 30} {
		ft.UpdateSuccessors(node(id, "x"))
	}
	ft.UpdateSuccessors(node(50, "n50")) // would be 5th distinct entry; list caps at R=5

	succ := ft.Successors()
	if len(succ) != 5 {
		t.Fatalf("expected successor list capped at 5, got %d: %v", len(succ), succ)
	}
	seen := map[chordnode.ID]bool{}
	for i, s := range succ {
		if s.ID == self.ID {
			t.Errorf("successor list contains self: %v", s)
		}
		if seen[s.ID] {
			t.Errorf("successor list contains duplicate id %d", s.ID)
		}
		seen[s.ID] = true
		if i > 0 && succ[i-1].ID > s.ID {
			t.Errorf("successor list not ordered: %v", succ)
		}
	}
	want := []chordnode.ID{10, 20, 30, 40, 50}
	for i, id := range want {
		if succ[i].ID != id {
			t.Errorf("successor[%d].ID = %d, want %d", i, succ[i].ID, id)
		}
	}
}

func TestUpdateSuccessorsIdempotent(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	ft.UpdateSuccessors(node(10, "n10"))
	ft.UpdateSuccessors(node(10, "n10"))

	if got := ft.Successors(); len(got) != 1 {
		t.Errorf("UpdateSuccessors not idempotent, got %v", got)
	}
}

func TestInformFailureEmptiesListTriggersRefresh(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	refreshed := false
	ft.SetNotifier(fakeNotifier{onSuccessor: func() { refreshed = true }})

	target := node(10, "n10")
	ft.UpdateSuccessors(target)
	ft.InformFailure(target)

	if !refreshed {
		t.Error("expected RefreshSuccessor to be called when the list becomes empty")
	}
	if got := ft.Successors(); len(got) != 0 {
		t.Errorf("expected empty successor list after InformFailure, got %v", got)
	}
}

// P2: NextBestNode never returns self when at least one finger or
// successor differs from self.
func TestNextBestNodeAvoidsSelfWhenPossible(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)
	ft.UpdateFingerTable(node(50, "n50"))

	got := ft.NextBestNode(90)
	if got.ID == self.ID {
		t.Errorf("NextBestNode returned self despite a populated finger")
	}
}

func TestNextBestNodeFallsBackToSuccessorThenSelf(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	// no fingers populated, no successors: must fall back to self.
	got := ft.NextBestNode(5)
	if got.ID != self.ID {
		t.Errorf("NextBestNode = %v, want self when table is empty", got)
	}

	ft.UpdateSuccessors(node(64, "n64"))
	got = ft.NextBestNode(5)
	if got.ID != 64 {
		t.Errorf("NextBestNode = %v, want successor fallback", got)
	}
}

// P3: UpdatePredecessor is idempotent.
func TestUpdatePredecessorIdempotent(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	cand := node(42, "n42")
	ft.UpdatePredecessor(cand)
	first := *ft.Predecessor()

	changed := ft.UpdatePredecessor(cand)
	second := *ft.Predecessor()

	if first != second {
		t.Errorf("UpdatePredecessor not idempotent: %v != %v", first, second)
	}
	if changed {
		t.Error("UpdatePredecessor reported a change on a repeat call with the same candidate")
	}
}

func TestUpdatePredecessorRejectsSelf(t *testing.T) {
	sp := testSpace(t)
	self := node(7, "n7")
	ft := New(self, sp, nil)

	if ft.UpdatePredecessor(self) {
		t.Error("UpdatePredecessor should reject a candidate equal to self")
	}
}

func TestUpdatePredecessorAcceptsCloserCandidate(t *testing.T) {
	sp := testSpace(t)
	self := node(100, "n100")
	ft := New(self, sp, nil)

	far := node(10, "n10")
	ft.UpdatePredecessor(far)

	closer := node(80, "n80")
	if !ft.UpdatePredecessor(closer) {
		t.Fatal("expected a candidate strictly between current predecessor and self to be accepted")
	}

	got := ft.Predecessor()
	if got == nil || got.ID != closer.ID {
		t.Errorf("predecessor = %v, want closer candidate %v", got, closer)
	}

	// a candidate farther away than the current predecessor must be rejected.
	if ft.UpdatePredecessor(far) {
		t.Error("expected a farther candidate to be rejected")
	}
	got = ft.Predecessor()
	if got == nil || got.ID != closer.ID {
		t.Errorf("predecessor regressed to farther candidate: %v", got)
	}
}

func TestInformFailureClearsPredecessorAndRefreshesFingers(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	cand := node(5, "n5")
	ft.UpdatePredecessor(cand)
	ft.UpdateFingerTable(cand)

	refreshed := map[int]bool{}
	ft.SetNotifier(fakeNotifier{onFinger: func(i int) { refreshed[i] = true }})

	ft.InformFailure(cand)

	if got := ft.Predecessor(); got != nil {
		t.Errorf("predecessor = %v, want nil after InformFailure", got)
	}
	if len(refreshed) == 0 {
		t.Error("expected at least one finger slot to be scheduled for refresh")
	}
}

func TestKeyBelongsToSuccessorRightInclusive(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)
	ft.UpdateSuccessors(node(10, "n10"))

	if !ft.KeyBelongsToSuccessor(10) {
		t.Error("expected key equal to successor id to belong to successor")
	}
	if !ft.KeyBelongsToSuccessor(5) {
		t.Error("expected key strictly between self and successor to belong to successor")
	}
	if ft.KeyBelongsToSuccessor(20) {
		t.Error("expected key beyond successor to not belong to successor")
	}
}

func TestUpdateFingerTableReplacesZeroAndInsertsSuccessor(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	cand := node(2, "n2") // finger 0 target is self+1; (target, self] initially since finger[0]==self
	ft.UpdateFingerTable(cand)

	if got := ft.Finger(0); got.ID != cand.ID {
		t.Errorf("finger[0] = %v, want %v", got, cand)
	}
	succ := ft.Successors()
	if len(succ) != 1 || succ[0].ID != cand.ID {
		t.Errorf("expected replacing finger[0] to insert into successors, got %v", succ)
	}
}

func TestInformExistenceComposesAllThree(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	cand := node(2, "n2")
	ft.InformExistence(cand)

	if got := ft.Predecessor(); got == nil || got.ID != cand.ID {
		t.Errorf("predecessor = %v, want %v", got, cand)
	}
	if got := ft.Finger(0); got.ID != cand.ID {
		t.Errorf("finger[0] = %v, want %v", got, cand)
	}
	succ := ft.Successors()
	if len(succ) != 1 || succ[0].ID != cand.ID {
		t.Errorf("successors = %v, want [%v]", succ, cand)
	}
}

func TestFillUsesLocalKnowledgeBeforeRequestingLookup(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)
	ft.UpdateSuccessors(node(127, "nFar")) // covers almost the whole ring from self

	requested := map[int]bool{}
	ft.SetNotifier(fakeNotifier{onFinger: func(i int) { requested[i] = true }})
	ft.Fill()

	if len(requested) != 0 {
		t.Errorf("expected Fill to resolve every slot locally given a wraparound successor, got lookups for %v", requested)
	}
	for i := 1; i < sp.Bits; i++ {
		if got := ft.Finger(i); got.ID != 127 {
			t.Errorf("finger[%d] = %v, want successor fallback", i, got)
		}
	}
}

func TestFillRequestsLookupWhenNoLocalCandidate(t *testing.T) {
	sp := testSpace(t)
	self := node(0, "n0")
	ft := New(self, sp, nil)

	requested := map[int]bool{}
	ft.SetNotifier(fakeNotifier{onFinger: func(i int) { requested[i] = true }})
	ft.Fill()

	if len(requested) != sp.Bits-1 {
		t.Errorf("expected %d finger refresh requests with no local knowledge, got %d", sp.Bits-1, len(requested))
	}
}

type fakeNotifier struct {
	onFinger    func(int)
	onSuccessor func()
}

func (f fakeNotifier) RefreshFinger(i int) {
	if f.onFinger != nil {
		f.onFinger(i)
	}
}

func (f fakeNotifier) RefreshSuccessor() {
	if f.onSuccessor != nil {
		f.onSuccessor()
	}
}
