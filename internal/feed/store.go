package feed

import (
	"sync"

	"github.com/emilythestrangee/memories/backend/internal/models"
)

// Ticket identifies one fetch issued against the Store.
type Ticket struct {
	seq uint64
}

// Store owns the feed State and serialises every delta applied to it.
//
// Fetches (page loads and searches) are sequenced: Begin hands out a
// Ticket, and Complete applies the fetched delta only if no newer fetch was
// begun in the meantime. A slow response to a superseded request is
// therefore dropped instead of overwriting newer results.
//
// Subscribers see snapshots in the order the changes were applied. They run
// on the dispatching goroutine and must not call Dispatch, Begin or
// Complete themselves.
type Store struct {
	// delivery is held from applying a change until its subscribers return.
	delivery sync.Mutex
	mu       sync.Mutex
	state    State
	latest   uint64
	subs     map[int]func(State)
	nextID   int
}

func NewStore() *Store {
	return &Store{state: State{CurrentPage: 1, Posts: []models.Post{}}, subs: make(map[int]func(State))}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return snapshot(s.state)
}

// Dispatch applies d immediately.
func (s *Store) Dispatch(d Delta) {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	s.state = Reduce(s.state, d)
	st, subs := snapshot(s.state), s.subscribers()
	s.mu.Unlock()
	notify(subs, st)
}

// Begin starts a fetch, superseding any fetch still in flight.
func (s *Store) Begin() Ticket {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	s.latest++
	t := Ticket{seq: s.latest}
	s.state = Reduce(s.state, LoadingStarted{})
	st, subs := snapshot(s.state), s.subscribers()
	s.mu.Unlock()
	notify(subs, st)
	return t
}

// Complete finishes the fetch identified by t. If t is still the newest
// fetch, d (when non-nil) is applied followed by LoadingEnded and Complete
// reports true. Stale tickets change nothing.
func (s *Store) Complete(t Ticket, d Delta) bool {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	if t.seq != s.latest {
		s.mu.Unlock()
		return false
	}
	if d != nil {
		s.state = Reduce(s.state, d)
	}
	s.state = Reduce(s.state, LoadingEnded{})
	st, subs := snapshot(s.state), s.subscribers()
	s.mu.Unlock()
	notify(subs, st)
	return true
}

// Subscribe registers fn to receive a snapshot after every change. The
// returned func removes the subscription.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) subscribers() []func(State) {
	out := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify(subs []func(State), st State) {
	for _, fn := range subs {
		fn(st)
	}
}

func snapshot(s State) State {
	s.Posts = clonePosts(s.Posts)
	s.Query.Tags = append([]string(nil), s.Query.Tags...)
	return s
}
