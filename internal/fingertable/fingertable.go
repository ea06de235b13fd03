// Package fingertable implements the per-node mutable ring-membership
// state: predecessor, m-entry finger array, and a bounded ordered
// successor list. It is pure state plus queries and mutators; it never
// performs network I/O, callers (the lookup engine, stabilizer, and
// dispatcher) own all of that.
package fingertable

import (
	"sync"

	"chordring/internal/chordnode"
	"chordring/internal/logger"
)

// FailureNotifier is implemented by whatever component wants to react when
// a finger slot or successor-list entry needs to be refreshed after a
// failure or a gap in local knowledge, in this codebase the lookup
// engine. Kept as a narrow interface so FingerTable never depends on
// lookup.
type FailureNotifier interface {
	// RefreshFinger schedules a bounded lookup to repopulate finger slot i.
	RefreshFinger(i int)
	// RefreshSuccessor schedules a lookup for a replacement successor when
	// the successor list becomes short.
	RefreshSuccessor()
}

// Table holds one node's view of the ring: predecessor, finger array, and
// successor list.
//
// Three fields guard three independently-lockable pieces of state: a
// predecessor slot (predMu), the finger array (fingerMu, one lock for the
// whole array is sufficient at this scale, and readers tolerate transient
// staleness), and the successor sequence (succMu), whose ordering and
// length invariants must hold after every commit and whose mutations are
// serialized.
type Table struct {
	self  chordnode.NodeInfo
	space chordnode.Space
	log   logger.Logger

	predMu sync.RWMutex
	pred   *chordnode.NodeInfo // nil = "predecessor declared failed"; self = "never learned one"

	fingerMu sync.RWMutex
	fingers  []chordnode.NodeInfo // length m, every entry initialized to self

	succMu     sync.Mutex
	successors []chordnode.NodeInfo // ordered clockwise from self, length <= R, self excluded

	notifier FailureNotifier
}

// New builds a Table for self, with predecessor and every finger
// initialized to self and an empty successor list.
func New(self chordnode.NodeInfo, space chordnode.Space, log logger.Logger) *Table {
	if log == nil {
		log = logger.NopLogger{}
	}
	fingers := make([]chordnode.NodeInfo, space.Bits)
	for i := range fingers {
		fingers[i] = self
	}
	return &Table{
		self:     self,
		space:    space,
		log:      log,
		pred:     &self,
		fingers:  fingers,
		notifier: noopNotifier{},
	}
}

// SetNotifier wires the component that should be asked to refresh a finger
// or successor slot after a failure or a knowledge gap. Called once during
// node construction, after both Table and the lookup engine exist
// (breaking their otherwise circular dependency).
func (t *Table) SetNotifier(n FailureNotifier) {
	t.notifier = n
}

// Self returns the local node's identity.
func (t *Table) Self() chordnode.NodeInfo { return t.self }

// Space returns the ring's identifier space.
func (t *Table) Space() chordnode.Space { return t.space }

// Predecessor returns the current predecessor, or nil if it has been
// declared failed. Absent and self are distinct states: a fresh table has
// its predecessor set to self, and only InformFailure ever sets it to nil.
func (t *Table) Predecessor() *chordnode.NodeInfo {
	t.predMu.RLock()
	defer t.predMu.RUnlock()
	return t.pred
}

// Successor0 returns successors[0] if the list is non-empty, else the
// zero-value fallback fingers[0] (which is self until a real successor is
// learned). successors[0] is the authoritative successor; when non-empty
// it shadows fingers[0].
func (t *Table) Successor0() chordnode.NodeInfo {
	t.succMu.Lock()
	if len(t.successors) > 0 {
		s := t.successors[0]
		t.succMu.Unlock()
		return s
	}
	t.succMu.Unlock()

	t.fingerMu.RLock()
	defer t.fingerMu.RUnlock()
	return t.fingers[0]
}

// Successors returns a copy of the current successor list.
func (t *Table) Successors() []chordnode.NodeInfo {
	t.succMu.Lock()
	defer t.succMu.Unlock()
	out := make([]chordnode.NodeInfo, len(t.successors))
	copy(out, t.successors)
	return out
}

// Finger returns finger slot i.
func (t *Table) Finger(i int) chordnode.NodeInfo {
	t.fingerMu.RLock()
	defer t.fingerMu.RUnlock()
	return t.fingers[i]
}

// Fingers returns a copy of the whole finger array.
func (t *Table) Fingers() []chordnode.NodeInfo {
	t.fingerMu.RLock()
	defer t.fingerMu.RUnlock()
	out := make([]chordnode.NodeInfo, len(t.fingers))
	copy(out, t.fingers)
	return out
}

// KeyBelongsToSuccessor reports whether key lies clockwise between self and
// successors[0] (or fingers[0] when no successor is known), inclusive of
// the endpoint.
func (t *Table) KeyBelongsToSuccessor(key chordnode.ID) bool {
	succ := t.Successor0()
	return t.space.BetweenRightInclusive(uint64(t.self.ID), uint64(succ.ID), uint64(key))
}

// NextBestNode scans fingers from m-1 down to 0 and returns the first
// finger whose id is strictly between self and key (mod M) and is not
// self. If none qualifies, it returns successors[0] if present, else self.
func (t *Table) NextBestNode(key chordnode.ID) chordnode.NodeInfo {
	t.fingerMu.RLock()
	fingers := t.fingers
	for i := len(fingers) - 1; i >= 0; i-- {
		f := fingers[i]
		if f.ID == t.self.ID {
			continue
		}
		if t.space.Between(uint64(t.self.ID), uint64(key), uint64(f.ID)) {
			t.fingerMu.RUnlock()
			return f
		}
	}
	t.fingerMu.RUnlock()

	t.succMu.Lock()
	defer t.succMu.Unlock()
	if len(t.successors) > 0 {
		return t.successors[0]
	}
	return t.self
}

// UpdatePredecessor accepts n as the new predecessor iff the current
// predecessor is absent, or n lies strictly between the current
// predecessor and self. n equal to self is always rejected. Returns
// whether the predecessor changed.
func (t *Table) UpdatePredecessor(n chordnode.NodeInfo) bool {
	if n.ID == t.self.ID {
		return false
	}

	t.predMu.Lock()
	defer t.predMu.Unlock()

	if t.pred == nil || t.pred.ID == t.self.ID {
		t.pred = &n
		return true
	}
	if n.ID == t.pred.ID {
		return false
	}
	if t.space.Between(uint64(t.pred.ID), uint64(t.self.ID), uint64(n.ID)) {
		t.pred = &n
		return true
	}
	return false
}

// UpdateSuccessors inserts n into the successor list at the position
// dictated by clockwise order from self. Idempotent: a no-op if n is
// already present. Keeps the list ordered, duplicate-free, and no longer
// than R by truncating the farthest entry when the list would grow past
// that bound.
func (t *Table) UpdateSuccessors(n chordnode.NodeInfo) {
	if n.ID == t.self.ID {
		return
	}

	t.succMu.Lock()
	defer t.succMu.Unlock()

	for _, s := range t.successors {
		if s.ID == n.ID {
			return
		}
	}

	pos := len(t.successors)
	for i, s := range t.successors {
		if t.space.Between(uint64(t.self.ID), uint64(s.ID), uint64(n.ID)) {
			pos = i
			break
		}
	}
	t.successors = append(t.successors, chordnode.NodeInfo{})
	copy(t.successors[pos+1:], t.successors[pos:])
	t.successors[pos] = n

	if len(t.successors) > t.space.SuccessorListSize {
		t.successors = t.successors[:t.space.SuccessorListSize]
	}
}

// UpdateFingerTable examines every finger slot i and, if n's id lies in the
// clockwise arc (self.id + 2^i, fingers[i].id], replaces fingers[i] with n.
// Replacement of slot 0 also inserts n into the successor list.
func (t *Table) UpdateFingerTable(n chordnode.NodeInfo) {
	if n.ID == t.self.ID {
		return
	}

	t.fingerMu.Lock()
	replacedZero := false
	for i := range t.fingers {
		target := t.space.FingerTarget(t.self.ID, i)
		if t.space.BetweenRightInclusive(uint64(target), uint64(t.fingers[i].ID), uint64(n.ID)) {
			t.fingers[i] = n
			if i == 0 {
				replacedZero = true
			}
		}
	}
	t.fingerMu.Unlock()

	if replacedZero {
		t.UpdateSuccessors(n)
	}
}

// InformExistence is the composite operation invoked whenever a peer is
// observed alive: it updates the successor list, the finger table, and
// then the predecessor slot.
func (t *Table) InformExistence(n chordnode.NodeInfo) {
	t.UpdateSuccessors(n)
	t.UpdateFingerTable(n)
	t.UpdatePredecessor(n)
}

// InformFailure removes n from the successor list (requesting a
// replacement when the list becomes short), clears the predecessor if it
// was n, and schedules a refresh for any finger slot that held n.
func (t *Table) InformFailure(n chordnode.NodeInfo) {
	t.succMu.Lock()
	out := t.successors[:0:0]
	for _, s := range t.successors {
		if s.ID != n.ID {
			out = append(out, s)
		}
	}
	becameEmpty := len(out) == 0 && len(t.successors) > 0
	t.successors = out
	t.succMu.Unlock()
	if becameEmpty {
		t.notifier.RefreshSuccessor()
	}

	t.predMu.Lock()
	if t.pred != nil && t.pred.ID == n.ID {
		t.pred = nil
	}
	t.predMu.Unlock()

	t.fingerMu.RLock()
	var stale []int
	for i, f := range t.fingers {
		if f.ID == n.ID {
			stale = append(stale, i)
		}
	}
	t.fingerMu.RUnlock()
	for _, i := range stale {
		t.notifier.RefreshFinger(i)
	}
}

// Fill populates finger slots 1..m-1 from locally-known state where
// possible, and falls back to the notifier (a bounded lookup) otherwise.
// Fill computes targets only for slots 1..m-1, but installing a known
// successor through UpdateFingerTable can also replace slot 0.
func (t *Table) Fill() {
	succ0 := t.Successor0()
	finger0 := t.Finger(0)

	for i := 1; i < t.space.Bits; i++ {
		k := t.space.FingerTarget(t.self.ID, i)

		if succ0.ID != t.self.ID && t.space.BetweenRightInclusive(uint64(t.self.ID), uint64(succ0.ID), uint64(k)) {
			t.UpdateFingerTable(succ0)
			continue
		}
		if finger0.ID != t.self.ID && t.space.BetweenRightInclusive(uint64(t.self.ID), uint64(finger0.ID), uint64(k)) {
			t.UpdateFingerTable(finger0)
			continue
		}
		t.notifier.RefreshFinger(i)
	}
}

type noopNotifier struct{}

func (noopNotifier) RefreshFinger(int) {}
func (noopNotifier) RefreshSuccessor() {}
