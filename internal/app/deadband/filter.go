// Package deadband decides whether a sampled tag value is worth transmitting.
package deadband

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ghalamif/AegisSpark/internal/domain"
)

type tagState struct {
	mu     sync.Mutex
	tag    domain.Tag
	policy domain.DeadbandPolicy
	last   domain.Value
	lastAt time.Time
	seen   bool
}

// Filter keeps the last transmitted value per tag. Decisions for one tag are
// serialized; different tags are evaluated independently.
type Filter struct {
	mu   sync.RWMutex
	tags map[string]*tagState
}

func NewFilter(tags ...domain.Tag) (*Filter, error) {
	f := &Filter{tags: make(map[string]*tagState, len(tags))}
	for _, t := range tags {
		if err := f.Register(t); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Register adds a tag, or replaces its definition while keeping the last
// transmitted value when the scalar kind is unchanged.
func (f *Filter) Register(t domain.Tag) error {
	if err := t.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	st := &tagState{tag: t, policy: domain.DeadbandFor(t)}
	if prev, ok := f.tags[t.ID]; ok {
		prev.mu.Lock()
		if prev.tag.Type.Kind() == t.Type.Kind() {
			st.last, st.lastAt, st.seen = prev.last, prev.lastAt, prev.seen
		}
		prev.mu.Unlock()
	}
	f.tags[t.ID] = st
	return nil
}

// ShouldPublish reports whether v for tagID passes the deadband. On acceptance
// the last transmitted value and timestamp are updated in the same step.
func (f *Filter) ShouldPublish(tagID string, v domain.Value, ts time.Time) (bool, error) {
	st, err := f.lookup(tagID)
	if err != nil {
		return false, err
	}
	if v.Kind != st.tag.Type.Kind() {
		return false, fmt.Errorf("tag %q: got %s for %s: %w", tagID, v.Kind, st.tag.Type, domain.ErrTypeMismatch)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.seen && !st.policy.Exceeded(st.last, v) {
		return false, nil
	}
	st.last = v
	st.lastAt = ts
	st.seen = true
	return true, nil
}

// Last returns the last transmitted value of a tag.
func (f *Filter) Last(tagID string) (domain.Value, time.Time, bool, error) {
	st, err := f.lookup(tagID)
	if err != nil {
		return domain.Value{}, time.Time{}, false, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.last, st.lastAt, st.seen, nil
}

// Tag returns the registered definition of tagID.
func (f *Filter) Tag(tagID string) (domain.Tag, error) {
	st, err := f.lookup(tagID)
	if err != nil {
		return domain.Tag{}, err
	}
	return st.tag, nil
}

// Snapshot is the per-tag view used to build birth announcements.
type Snapshot struct {
	Tag    domain.Tag
	Last   domain.Value
	LastAt time.Time
	Seen   bool
}

// Snapshot lists all tags ordered by ID.
func (f *Filter) Snapshot() []Snapshot {
	f.mu.RLock()
	states := make([]*tagState, 0, len(f.tags))
	for _, st := range f.tags {
		states = append(states, st)
	}
	f.mu.RUnlock()

	out := make([]Snapshot, 0, len(states))
	for _, st := range states {
		st.mu.Lock()
		out = append(out, Snapshot{Tag: st.tag, Last: st.last, LastAt: st.lastAt, Seen: st.seen})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag.ID < out[j].Tag.ID })
	return out
}

// Reset forgets every last transmitted value so the next sample of each tag
// is accepted.
func (f *Filter) Reset() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, st := range f.tags {
		st.mu.Lock()
		st.last = domain.Value{}
		st.lastAt = time.Time{}
		st.seen = false
		st.mu.Unlock()
	}
}

func (f *Filter) lookup(tagID string) (*tagState, error) {
	f.mu.RLock()
	st, ok := f.tags[tagID]
	f.mu.RUnlock()
	if !ok {
		return nil, &domain.UnknownTagError{TagID: tagID}
	}
	return st, nil
}
