package crdt

import (
	"fmt"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/texmesh/go-texmesh/common/types"
)

type element struct {
	id      ElementID
	origin  ElementID
	clock   uint64
	value   rune
	deleted bool
}

type changeKey struct {
	author string
	seq    uint64
}

// replica is an RGA sequence of runes with tombstones. Elements inserted after the
// same origin are ordered by descending (clock, author, seq, offset), so every replica
// that integrated the same set of elements holds them in the same order.
type replica struct {
	mu sync.RWMutex

	id       types.DocumentID
	self     string
	meta     Meta
	elements []*element
	index    map[ElementID]*element
	visible  int

	// vv is the version vector: author -> highest contiguous applied seq.
	vv      map[string]uint64
	clock   uint64
	version uint64

	pending    map[changeKey]*Change
	maxPending int
}

func newReplica(id types.DocumentID, self string, meta Meta, maxPending int) *replica {
	return &replica{
		id:         id,
		self:       self,
		meta:       meta,
		index:      map[ElementID]*element{},
		vv:         map[string]uint64{},
		pending:    map[changeKey]*Change{},
		maxPending: maxPending,
	}
}

func (r *replica) content() string {
	runes := make([]rune, 0, r.visible)
	for _, e := range r.elements {
		if !e.deleted {
			runes = append(runes, e.value)
		}
	}
	return string(runes)
}

func (r *replica) summary() types.DocumentSummary {
	meta := r.meta.Clone()
	return types.DocumentSummary{
		ID:            r.id,
		Title:         meta.Title,
		Owner:         meta.Owner,
		Collaborators: meta.Collaborators,
		Repository:    meta.Repository,
		Created:       meta.Created,
		Updated:       meta.Updated,
		Version:       r.version,
	}
}

// visibleIDs returns ids of visible elements in [start, end) and the id of the visible
// element preceding start.
func (r *replica) visibleIDs(start, end int) (ElementID, []ElementID) {
	var (
		before = Head
		ids    = make([]ElementID, 0, end-start)
		pos    = 0
	)
	for _, e := range r.elements {
		if e.deleted {
			continue
		}
		switch {
		case pos < start:
			before = e.id
		case pos < end:
			ids = append(ids, e.id)
		default:
			return before, ids
		}
		pos++
	}
	return before, ids
}

// applyLocal converts an operation into a change authored by this replica and applies it.
func (r *replica) applyLocal(user types.UserID, op types.Operation, now time.Time) (*Change, error) {
	change := &Change{
		Document: r.id,
		Author:   r.self,
		Seq:      r.vv[r.self] + 1,
		Clock:    r.clock + 1,
		User:     user,
	}
	switch op.Kind {
	case types.OpInsert:
		if op.Position > r.visible {
			return nil, fmt.Errorf("%w: insert at %d, length %d", ErrRangeOutOfBounds, op.Position, r.visible)
		}
		change.Origin, _ = r.visibleIDs(op.Position, op.Position)
		change.Content = op.Content
	case types.OpDelete, types.OpReplace:
		if op.Range.End > r.visible {
			return nil, fmt.Errorf("%w: range %s, length %d", ErrRangeOutOfBounds, op.Range, r.visible)
		}
		change.Origin, change.Deletes = r.visibleIDs(op.Range.Start, op.Range.End)
		if len(change.Deletes) == 0 {
			change.Deletes = nil
		}
		change.Content = op.Content
	default:
		return nil, fmt.Errorf("%w: kind %s", types.ErrInvalidOperation, op.Kind)
	}
	if len(change.Content) == 0 {
		change.Origin = Head
	}
	r.integrate(change, now)
	return change, nil
}

// ready is true if every element the change refers to is known and the change is the
// next one from its author.
func (r *replica) ready(c *Change) bool {
	if c.Seq != r.vv[c.Author]+1 {
		return false
	}
	if len(c.Content) > 0 && !c.Origin.IsHead() {
		if _, exist := r.index[c.Origin]; !exist {
			return false
		}
	}
	for _, id := range c.Deletes {
		if _, exist := r.index[id]; !exist {
			return false
		}
	}
	return true
}

func (r *replica) duplicate(c *Change) bool {
	return c.Seq <= r.vv[c.Author]
}

// applyRemote integrates a change from a peer. Duplicates are dropped, changes with
// missing dependencies are buffered until they arrive.
func (r *replica) applyRemote(c *Change, now time.Time) (ApplyResult, error) {
	if r.duplicate(c) {
		return ApplyResult{Duplicate: true, Version: r.version}, nil
	}
	key := changeKey{author: c.Author, seq: c.Seq}
	if !r.ready(c) {
		if _, exist := r.pending[key]; exist {
			return ApplyResult{Duplicate: true, Buffered: true, Version: r.version}, nil
		}
		if len(r.pending) >= r.maxPending {
			return ApplyResult{}, fmt.Errorf("%w: %d changes in %s", ErrTooManyPending, len(r.pending), r.id)
		}
		r.pending[key] = c
		return ApplyResult{Buffered: true, Version: r.version}, nil
	}
	if !r.causal(c) {
		return ApplyResult{}, fmt.Errorf("%w: clock %d is not after origin %s", ErrMalformedChange, c.Clock, c.Origin)
	}
	r.integrate(c, now)
	applied := 1 + r.drainPending(now)
	return ApplyResult{Applied: applied, Version: r.version}, nil
}

// drainPending integrates buffered changes whose dependencies are now satisfied.
func (r *replica) drainPending(now time.Time) int {
	applied := 0
	for progress := true; progress && len(r.pending) > 0; {
		progress = false
		for key, c := range r.pending {
			switch {
			case r.duplicate(c):
				delete(r.pending, key)
			case r.ready(c) && !r.causal(c):
				delete(r.pending, key)
			case r.ready(c):
				delete(r.pending, key)
				r.integrate(c, now)
				applied++
				progress = true
			}
		}
	}
	return applied
}

// integrate applies a ready change. Deletions are applied before insertion, both
// under the change's single clock value.
func (r *replica) integrate(c *Change, now time.Time) {
	for _, id := range c.Deletes {
		if e := r.index[id]; !e.deleted {
			e.deleted = true
			r.visible--
		}
	}
	origin := c.Origin
	offset := uint32(0)
	at := -1
	for _, value := range c.Content {
		e := &element{
			id:     ElementID{Author: c.Author, Seq: c.Seq, Offset: offset},
			origin: origin,
			clock:  c.Clock,
			value:  value,
		}
		at = r.insertAfter(e, at)
		origin = e.id
		offset++
	}
	r.vv[c.Author] = c.Seq
	r.clock = max(r.clock, c.Clock)
	r.version++
	r.meta.Collaborators = types.AddCollaborator(r.meta.Collaborators, c.User)
	if now.After(r.meta.Updated) {
		r.meta.Updated = now
	}
}

// insertAfter places e after its origin, skipping elements that take precedence,
// and returns the index of e. hint is the likely index of the origin, -1 if unknown.
// Caller guarantees that the origin is known.
//
// Skipping only elements that precede e is enough: a subtree of a preceding sibling
// is contiguous and every element in it has a clock not lower than the sibling's.
func (r *replica) insertAfter(e *element, hint int) int {
	i := 0
	if !e.origin.IsHead() {
		i = r.position(e.origin, hint) + 1
	}
	for ; i < len(r.elements); i++ {
		next := r.elements[i]
		if !precedes(next.clock, next.id, e.clock, e.id) {
			break
		}
	}
	r.elements = slices.Insert(r.elements, i, e)
	r.index[e.id] = e
	if !e.deleted {
		r.visible++
	}
	return i
}

func (r *replica) position(id ElementID, hint int) int {
	target := r.index[id]
	if hint >= 0 && hint < len(r.elements) && r.elements[hint] == target {
		return hint
	}
	for i, e := range r.elements {
		if e == target {
			return i
		}
	}
	panic(fmt.Sprintf("BUG: element %s is indexed but not in sequence", id))
}

// causal is true if the change was produced after observing its origin. Clock of an
// insertion lower than the clock of its origin breaks ordering of siblings.
func (r *replica) causal(c *Change) bool {
	if len(c.Content) == 0 || c.Origin.IsHead() {
		return true
	}
	return r.index[c.Origin].clock < c.Clock
}

func (r *replica) export() *Snapshot {
	elements := make([]SnapshotElement, 0, len(r.elements))
	for _, e := range r.elements {
		elements = append(elements, SnapshotElement{
			ID:      e.id,
			Origin:  e.origin,
			Clock:   e.clock,
			Value:   e.value,
			Deleted: e.deleted,
		})
	}
	return &Snapshot{
		Document: r.id,
		Meta:     r.meta.Clone(),
		Clock:    r.clock,
		Version:  r.version,
		Versions: sortedVersions(r.vv),
		Elements: elements,
	}
}

// validateSnapshot checks that every element of the snapshot can be integrated:
// origins refer to the head, a known element, or an earlier element of the snapshot.
func (r *replica) validateSnapshot(s *Snapshot) error {
	seen := make(map[ElementID]uint64, len(s.Elements))
	for i, e := range s.Elements {
		if e.ID.IsHead() || e.ID.Author == "" {
			return fmt.Errorf("%w: element %d has no id", ErrMalformedSnapshot, i)
		}
		if e.Clock == 0 || !utf8.ValidRune(e.Value) {
			return fmt.Errorf("%w: element %s is invalid", ErrMalformedSnapshot, e.ID)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("%w: duplicate element %s", ErrMalformedSnapshot, e.ID)
		}
		if !e.Origin.IsHead() {
			clock, earlier := seen[e.Origin]
			if !earlier {
				local, known := r.index[e.Origin]
				if !known {
					return fmt.Errorf("%w: element %s has unknown origin %s", ErrMalformedSnapshot, e.ID, e.Origin)
				}
				clock = local.clock
			}
			chained := e.Origin.Author == e.ID.Author && e.Origin.Seq == e.ID.Seq
			if (chained && clock != e.Clock) || (!chained && clock >= e.Clock) {
				return fmt.Errorf("%w: element %s is not ordered after origin %s", ErrMalformedSnapshot, e.ID, e.Origin)
			}
		}
		seen[e.ID] = e.Clock
	}
	return nil
}

// merge is a state-based merge: union of elements, union of tombstones and pointwise
// maximum of version vectors.
func (r *replica) merge(s *Snapshot) (MergeOutcome, error) {
	if err := r.validateSnapshot(s); err != nil {
		return MergeOutcome{}, err
	}
	var (
		outcome MergeOutcome
		last    = Head
		lastAt  = -1
	)
	for _, se := range s.Elements {
		if e, exist := r.index[se.ID]; exist {
			if se.Deleted && !e.deleted {
				e.deleted = true
				r.visible--
				outcome.Deleted++
			}
			last, lastAt = se.ID, -1
			continue
		}
		hint := -1
		if se.Origin == last {
			hint = lastAt
		}
		lastAt = r.insertAfter(&element{
			id:      se.ID,
			origin:  se.Origin,
			clock:   se.Clock,
			value:   se.Value,
			deleted: se.Deleted,
		}, hint)
		last = se.ID
		outcome.Inserted++
	}
	advanced := false
	for _, entry := range s.Versions {
		if entry.Seq > r.vv[entry.Author] {
			r.vv[entry.Author] = entry.Seq
			advanced = true
		}
	}
	r.clock = max(r.clock, s.Clock)
	r.meta = r.meta.merge(s.Meta)
	outcome.Replayed = r.drainPending(r.meta.Updated)
	// version moves with every change of the exported state except metadata
	if outcome.Inserted > 0 || outcome.Deleted > 0 || advanced {
		r.version++
	}
	outcome.Version = r.version
	return outcome, nil
}
