package mainloop

import (
	"time"
)

type (
	// EventID identifies a registered event. It is the index of the event's
	// slot, valid until the event is cancelled or, for one-shot timers,
	// fires. Ids are reused.
	EventID int

	// GroupID is an opaque tag shared by related events, used for bulk
	// Cancel and Count. It need not be unique.
	GroupID int

	// Kind is the type of an event slot.
	Kind uint8

	// Callback is invoked on the loop goroutine with the id and group of the
	// event that fired. State is captured by the closure.
	Callback func(id EventID, group GroupID)
)

const (
	// AnyEvent matches every non-empty slot in Cancel and Count.
	AnyEvent EventID = -1
	// AnyGroup matches every group in Cancel and Count.
	AnyGroup GroupID = -1
)

const (
	KindEmpty Kind = iota
	KindTimer
	KindPeriodicTimer
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindTimer:
		return "timer"
	case KindPeriodicTimer:
		return "periodic"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

type slot struct {
	deadline time.Time
	cb       Callback
	interval time.Duration
	gen      uint64
	fd       int
	group    GroupID
	kind     Kind
	// processed is scratch state for the current timer dispatch pass
	processed bool
}

func (s *slot) isTimer() bool {
	return s.kind == KindTimer || s.kind == KindPeriodicTimer
}

// table is the event table. It never compacts: released slots become
// KindEmpty and are reused by alloc, first empty slot first. Access is
// guarded by Loop.mu.
type table struct {
	slots  []slot
	max    int
	gen    uint64
	active int
}

func newTable(initial, limit int) table {
	return table{slots: make([]slot, initial), max: limit}
}

// alloc claims the first empty slot for an event of the given kind, growing
// the table by one slot if there is none. grew reports growth.
func (t *table) alloc(kind Kind) (i int, grew bool, err error) {
	for i := range t.slots {
		if t.slots[i].kind == KindEmpty {
			t.claim(i, kind)
			return i, false, nil
		}
	}
	if t.max > 0 && len(t.slots) >= t.max {
		return -1, false, &ResourceError{Op: "table", Err: ErrTableFull}
	}
	t.slots = append(t.slots, slot{})
	i = len(t.slots) - 1
	t.claim(i, kind)
	return i, true, nil
}

func (t *table) claim(i int, kind Kind) {
	t.gen++
	t.slots[i] = slot{gen: t.gen, fd: -1, kind: kind}
	t.active++
}

// release marks the slot empty, returning the old contents. It is a no-op
// for an empty or out of range slot.
func (t *table) release(i int) (old slot, ok bool) {
	if i < 0 || i >= len(t.slots) || t.slots[i].kind == KindEmpty {
		return slot{}, false
	}
	old = t.slots[i]
	t.slots[i] = slot{fd: -1}
	t.active--
	return old, true
}

// matches implements the Cancel and Count predicate: a non-negative id
// selects that slot only, otherwise every non-empty slot in group (any
// group if negative).
func (t *table) matches(i int, id EventID, group GroupID) bool {
	s := &t.slots[i]
	if s.kind == KindEmpty {
		return false
	}
	if id >= 0 && EventID(i) != id {
		return false
	}
	return group < 0 || s.group == group
}

func (t *table) count(id EventID, group GroupID) (n int) {
	if id >= 0 {
		if int(id) < len(t.slots) && t.matches(int(id), id, group) {
			return 1
		}
		return 0
	}
	for i := range t.slots {
		if t.matches(i, id, group) {
			n++
		}
	}
	return n
}

// nextDeadline returns the earliest timer deadline, if any timer exists.
func (t *table) nextDeadline() (deadline time.Time, ok bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if !s.isTimer() {
			continue
		}
		if !ok || s.deadline.Before(deadline) {
			deadline, ok = s.deadline, true
		}
	}
	return deadline, ok
}

// resetProcessed clears the dispatch scratch flag on every timer.
func (t *table) resetProcessed() {
	for i := range t.slots {
		t.slots[i].processed = false
	}
}

// nextDue returns the unprocessed timer with the smallest deadline at or
// before limit. Ties go to the lowest index.
func (t *table) nextDue(limit time.Time) (int, bool) {
	best := -1
	for i := range t.slots {
		s := &t.slots[i]
		if !s.isTimer() || s.processed || s.deadline.After(limit) {
			continue
		}
		if best < 0 || s.deadline.Before(t.slots[best].deadline) {
			best = i
		}
	}
	return best, best >= 0
}

// ioWatch is a snapshot of an I/O slot taken before dispatch.
type ioWatch struct {
	gen uint64
	idx int
}

// watchesFor appends every live I/O watch on fd to dst.
func (t *table) watchesFor(dst []ioWatch, fd int) []ioWatch {
	for i := range t.slots {
		if s := &t.slots[i]; s.kind == KindIO && s.fd == fd {
			dst = append(dst, ioWatch{idx: i, gen: s.gen})
		}
	}
	return dst
}

// live reports whether the slot still holds the event with the given
// generation.
func (t *table) live(i int, gen uint64) bool {
	return i >= 0 && i < len(t.slots) && t.slots[i].kind != KindEmpty && t.slots[i].gen == gen
}
