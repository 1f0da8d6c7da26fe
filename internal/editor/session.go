// Package editor binds one open memo's outline engine to the memo coordinator.
package editor

import (
	"context"
	"sync"
	"time"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/outline"
)

const DefaultTitleDelay = 500 * time.Millisecond

// Memos is the part of the coordinator a session writes through.
type Memos interface {
	Update(ctx context.Context, id string, p model.Patch)
	Delete(ctx context.Context, id string)
}

type Option func(*Session)

// WithTitleDelay sets how long SetTitle waits for further edits before writing.
func WithTitleDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.delay = d
		}
	}
}

// Session edits one memo. Every engine change is written as an items patch; titles are debounced.
type Session struct {
	ctx    context.Context
	memos  Memos
	engine *outline.Engine
	id     string
	delay  time.Duration
	detach func()

	mu      sync.Mutex
	pending *string
	timer   *time.Timer
	closed  bool
}

// Open loads m's items into engine and starts forwarding its changes. ctx bounds the writes made
// on the session's behalf.
func Open(ctx context.Context, memos Memos, engine *outline.Engine, m model.Memo, opts ...Option) *Session {
	s := &Session{
		ctx:    ctx,
		memos:  memos,
		engine: engine,
		id:     m.ID,
		delay:  DefaultTitleDelay,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine.Load(m.Items)
	s.detach = engine.OnChange(func(ch outline.Change) {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if !closed {
			s.memos.Update(s.ctx, s.id, model.ItemsPatch(ch.Items))
		}
	})
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Engine() *outline.Engine { return s.engine }

// SetTitle schedules a title write. A later call within the delay replaces the pending title.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = &title
	if s.timer == nil {
		s.timer = time.AfterFunc(s.delay, s.Flush)
		return
	}
	s.timer.Reset(s.delay)
}

// Flush writes the pending title now, if there is one.
func (s *Session) Flush() {
	s.mu.Lock()
	title := s.pending
	s.pending = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if title != nil {
		s.memos.Update(s.ctx, s.id, model.TitlePatch(*title))
	}
}

// Delete removes the memo and ends the session. A pending title is dropped.
func (s *Session) Delete(ctx context.Context) {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	s.Close()
	s.memos.Delete(ctx, s.id)
}

// Close flushes a pending title and stops forwarding engine changes.
func (s *Session) Close() {
	s.Flush()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.detach()
}
