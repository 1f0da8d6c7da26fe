package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/iamyasumichi/only-one/internal/memo/model"
)

type memoryWatch struct {
	onSnapshot func([]model.Memo)
	onError    func(error)
}

// MemoryStore keeps memos in process. Watchers are called synchronously on the writing goroutine,
// after the store's lock is released.
type MemoryStore struct {
	mu       sync.Mutex
	memos    map[string]map[string]model.Memo
	watchers map[string]map[int]memoryWatch
	nextID   int
	failure  error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memos:    make(map[string]map[string]model.Memo),
		watchers: make(map[string]map[int]memoryWatch),
	}
}

// SetFailure makes every call fail with err until it is cleared with nil.
func (s *MemoryStore) SetFailure(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *MemoryStore) List(ctx context.Context, owner string) ([]model.Memo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return nil, s.failure
	}
	return s.snapshotLocked(owner), nil
}

func (s *MemoryStore) Create(ctx context.Context, owner string, m model.Memo) (string, error) {
	s.mu.Lock()
	if s.failure != nil {
		defer s.mu.Unlock()
		return "", s.failure
	}
	m = prepare(m)
	if s.memos[owner] == nil {
		s.memos[owner] = make(map[string]model.Memo)
	}
	s.memos[owner][m.ID] = m
	s.mu.Unlock()

	s.notify(owner)
	return m.ID, nil
}

func (s *MemoryStore) Update(ctx context.Context, owner, id string, p model.Patch) error {
	s.mu.Lock()
	if s.failure != nil {
		defer s.mu.Unlock()
		return s.failure
	}
	m, ok := s.memos[owner][id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.memos[owner][id] = model.Apply(m, p)
	s.mu.Unlock()

	s.notify(owner)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, owner, id string) error {
	s.mu.Lock()
	if s.failure != nil {
		defer s.mu.Unlock()
		return s.failure
	}
	if _, ok := s.memos[owner][id]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.memos[owner], id)
	s.mu.Unlock()

	s.notify(owner)
	return nil
}

// Watch delivers the current snapshot before returning.
func (s *MemoryStore) Watch(owner string, onSnapshot func([]model.Memo), onError func(error)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	if s.watchers[owner] == nil {
		s.watchers[owner] = make(map[int]memoryWatch)
	}
	s.watchers[owner][id] = memoryWatch{onSnapshot: onSnapshot, onError: onError}
	failure := s.failure
	snapshot := s.snapshotLocked(owner)
	s.mu.Unlock()

	if failure != nil {
		if onError != nil {
			onError(failure)
		}
	} else if onSnapshot != nil {
		onSnapshot(snapshot)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers[owner], id)
			s.mu.Unlock()
		})
	}
}

// Watchers reports how many live watches an owner has.
func (s *MemoryStore) Watchers(owner string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers[owner])
}

func (s *MemoryStore) notify(owner string) {
	s.mu.Lock()
	snapshot := s.snapshotLocked(owner)
	targets := make([]memoryWatch, 0, len(s.watchers[owner]))
	for _, w := range s.watchers[owner] {
		targets = append(targets, w)
	}
	s.mu.Unlock()

	for _, w := range targets {
		if w.onSnapshot != nil {
			w.onSnapshot(model.CloneAll(snapshot))
		}
	}
}

func (s *MemoryStore) snapshotLocked(owner string) []model.Memo {
	out := make([]model.Memo, 0, len(s.memos[owner]))
	for _, m := range s.memos[owner] {
		out = append(out, model.Clone(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return model.SortByUpdated(out)
}
