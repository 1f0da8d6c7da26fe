// Package cache holds the local durable copy of the memo collection.
package cache

import (
	"errors"
	"fmt"
	"strings"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

// DefaultKey names the slot holding the serialized collection.
const DefaultKey = "onlyone_memos_cache"

// Slot is a synchronous get/set of one serialized blob.
type Slot interface {
	Get() ([]byte, bool, error)
	Set(b []byte) error
}

// Cache stores the memo collection in a Slot.
type Cache struct {
	slot Slot
}

func New(slot Slot) *Cache {
	return &Cache{slot: slot}
}

// Load returns the cached collection. Read failures and undecodable blobs count as no cache.
func (c *Cache) Load() ([]model.Memo, bool) {
	if c == nil || c.slot == nil {
		return nil, false
	}
	b, ok, err := c.slot.Get()
	if err != nil {
		logger.Sugar.Warnf("Failed to read memo cache: %v", err)
		return nil, false
	}
	if !ok || len(b) == 0 {
		return nil, false
	}
	memos, err := model.DecodeCollection(b)
	if err != nil {
		logger.Sugar.Warnf("Ignoring corrupt memo cache: %v", err)
		return nil, false
	}
	return memos, true
}

// Save replaces the cached collection.
func (c *Cache) Save(memos []model.Memo) error {
	if c == nil || c.slot == nil {
		return nil
	}
	b, err := model.EncodeCollection(memos)
	if err != nil {
		return err
	}
	if err := c.slot.Set(b); err != nil {
		return fmt.Errorf("write memo cache: %w", err)
	}
	return nil
}

// Open picks a slot from a location string: "memory", "sqlite:<path>", or a JSON file path.
// The returned close func releases the slot's resources.
func Open(location string) (*Cache, func() error, error) {
	location = strings.TrimSpace(location)
	noop := func() error { return nil }
	switch {
	case location == "":
		return nil, noop, errors.New("cache location required")
	case location == "memory":
		return New(NewMemorySlot()), noop, nil
	case strings.HasPrefix(location, "sqlite:"):
		slot, err := OpenSQLiteSlot(strings.TrimPrefix(location, "sqlite:"), DefaultKey)
		if err != nil {
			return nil, noop, err
		}
		return New(slot), slot.Close, nil
	default:
		return New(NewFileSlot(location)), noop, nil
	}
}
