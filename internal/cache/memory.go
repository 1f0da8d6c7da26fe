package cache

import (
	gocache "github.com/patrickmn/go-cache"
)

// MemorySlot is a process-local slot. Entries never expire.
type MemorySlot struct {
	store *gocache.Cache
	key   string
}

func NewMemorySlot() *MemorySlot {
	return &MemorySlot{store: gocache.New(gocache.NoExpiration, 0), key: DefaultKey}
}

func (s *MemorySlot) Get() ([]byte, bool, error) {
	v, ok := s.store.Get(s.key)
	if !ok {
		return nil, false, nil
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), true, nil
}

func (s *MemorySlot) Set(b []byte) error {
	s.store.Set(s.key, append([]byte(nil), b...), gocache.NoExpiration)
	return nil
}
