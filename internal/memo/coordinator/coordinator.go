// Package coordinator owns the memo collection and keeps the local cache and the remote store in step.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/iamyasumichi/only-one/internal/cache"
	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/observer"
	"github.com/iamyasumichi/only-one/internal/outline"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

// State is the externally visible sync status.
type State string

const (
	StateOffline State = "offline"
	StateSyncing State = "syncing"
	StateSynced  State = "synced"
)

// Remote is the store the coordinator syncs with. Watch must deliver the owner's full collection
// on attach and after every change, and return a func that detaches it.
type Remote interface {
	Ping(ctx context.Context) error
	Create(ctx context.Context, owner string, m model.Memo) (string, error)
	Update(ctx context.Context, owner, id string, p model.Patch) error
	Delete(ctx context.Context, owner, id string) error
	Watch(owner string, onSnapshot func([]model.Memo), onError func(error)) (stop func())
}

type Option func(*Coordinator)

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// Coordinator is safe for concurrent use. Listeners are always called without internal locks held,
// so they may call back into the coordinator.
type Coordinator struct {
	mu     sync.Mutex
	remote Remote
	cache  *cache.Cache
	now    func() time.Time

	owner  string
	online bool
	state  State
	memos  []model.Memo
	closed bool

	watchGen  uint64
	watching  bool
	watchStop func()

	subscribers observer.Set[[]model.Memo]
	states      observer.Set[State]
}

// New builds a coordinator. remote may be nil, in which case it stays offline. The cache is read
// once; an absent or corrupt cache starts an empty collection.
func New(remote Remote, c *cache.Cache, opts ...Option) *Coordinator {
	co := &Coordinator{
		remote: remote,
		cache:  c,
		now:    time.Now,
		online: true,
		state:  StateOffline,
		memos:  []model.Memo{},
	}
	for _, opt := range opts {
		opt(co)
	}
	if memos, ok := c.Load(); ok {
		co.memos = memos
	}
	return co
}

// Connect checks the remote and, on success, binds the coordinator to owner.
func (c *Coordinator) Connect(ctx context.Context, owner string) bool {
	if c.remote == nil || owner == "" {
		c.setState(StateOffline)
		return false
	}

	c.setState(StateSyncing)
	if err := c.remote.Ping(ctx); err != nil {
		logger.Sugar.Warnf("Remote unreachable, working from the local cache: %v", err)
		c.setState(StateOffline)
		return false
	}

	c.mu.Lock()
	var stop func()
	if c.owner != owner {
		stop = c.detachLocked()
	}
	c.owner = owner
	c.closed = false
	c.mu.Unlock()
	if stop != nil {
		stop()
	}

	logger.Sugar.Infof("Connected to remote as %s", owner)
	c.setState(StateSynced)
	c.ensureWatch()
	return true
}

// Subscribe registers fn for collection updates and replays the current collection to it before
// returning. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func([]model.Memo)) func() {
	c.mu.Lock()
	unsubscribe := c.subscribers.Add(fn)
	snapshot := model.CloneAll(c.memos)
	c.mu.Unlock()

	fn(snapshot)
	c.ensureWatch()
	return unsubscribe
}

// OnSyncStateChange registers fn for state transitions and replays the current state to it.
func (c *Coordinator) OnSyncStateChange(fn func(State)) func() {
	c.mu.Lock()
	unsubscribe := c.states.Add(fn)
	current := c.state
	c.mu.Unlock()

	fn(current)
	return unsubscribe
}

// Create adds a memo with an empty outline. When the remote is reachable the backend assigns
// the id and the collection is refreshed by the live watch; otherwise the memo gets a local id.
func (c *Coordinator) Create(ctx context.Context, title string) model.Memo {
	now := c.now().UnixMilli()
	m := model.Memo{
		Title:     model.NormalizeTitle(title),
		Items:     []outline.Item{},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if owner, ok := c.target(); ok {
		c.setState(StateSyncing)
		id, err := c.remote.Create(ctx, owner, m)
		if err == nil {
			c.remoteSucceeded()
			m.ID = id
			m.Origin = model.OriginRemote
			return m
		}
		c.remoteFailed("create", err)
	}

	c.mu.Lock()
	m.ID = c.localIDLocked(now)
	m.Origin = model.OriginLocal
	c.memos = append(c.memos, model.Clone(m))
	snapshot := model.CloneAll(c.memos)
	c.mu.Unlock()

	c.commit(snapshot)
	return m
}

// Update stamps p with the current time and applies it. Local-only memos never reach the remote.
func (c *Coordinator) Update(ctx context.Context, id string, p model.Patch) {
	p.UpdatedAt = c.now().UnixMilli()

	if owner, ok := c.target(); ok && !c.isLocal(id) {
		c.setState(StateSyncing)
		err := c.remote.Update(ctx, owner, id, p)
		if err == nil {
			c.remoteSucceeded()
			return
		}
		c.remoteFailed("update", err)
	}

	c.mu.Lock()
	i := model.Index(c.memos, id)
	if i < 0 {
		c.mu.Unlock()
		return
	}
	c.memos[i] = model.Apply(c.memos[i], p)
	snapshot := model.CloneAll(c.memos)
	c.mu.Unlock()

	c.commit(snapshot)
}

// Delete removes a memo, routed like Update. The local path always notifies subscribers.
func (c *Coordinator) Delete(ctx context.Context, id string) {
	if owner, ok := c.target(); ok && !c.isLocal(id) {
		c.setState(StateSyncing)
		err := c.remote.Delete(ctx, owner, id)
		if err == nil {
			c.remoteSucceeded()
			return
		}
		c.remoteFailed("delete", err)
	}

	c.mu.Lock()
	kept := make([]model.Memo, 0, len(c.memos))
	for _, m := range c.memos {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	c.memos = kept
	snapshot := model.CloneAll(c.memos)
	c.mu.Unlock()

	c.commit(snapshot)
}

// SetOnline feeds an environment network signal into the state machine.
func (c *Coordinator) SetOnline(online bool) {
	c.mu.Lock()
	c.online = online
	connected := c.remote != nil && c.owner != "" && !c.closed
	var stop func()
	if !online {
		stop = c.detachLocked()
	}
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if !online {
		c.setState(StateOffline)
		return
	}
	if connected {
		c.setState(StateSynced)
		c.ensureWatch()
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Memos returns a copy of the collection in storage order.
func (c *Coordinator) Memos() []model.Memo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneAll(c.memos)
}

func (c *Coordinator) Find(id string) (model.Memo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := model.Index(c.memos, id); i >= 0 {
		return model.Clone(c.memos[i]), true
	}
	return model.Memo{}, false
}

// Owner returns the identity bound by Connect.
func (c *Coordinator) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Close detaches the live watch and unbinds the identity. Later writes go to the local cache.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.owner = ""
	stop := c.detachLocked()
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	c.setState(StateOffline)
}

func (c *Coordinator) target() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil || c.owner == "" || !c.online || c.closed {
		return "", false
	}
	return c.owner, true
}

func (c *Coordinator) isLocal(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := model.Index(c.memos, id); i >= 0 {
		return c.memos[i].IsLocal()
	}
	return model.IsLocalID(id)
}

// localIDLocked returns local_<ms>, suffixed when that id is already taken.
func (c *Coordinator) localIDLocked(now int64) string {
	base := fmt.Sprintf("%s%d", model.LocalIDPrefix, now)
	id := base
	for n := 1; model.Index(c.memos, id) >= 0; n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}

func (c *Coordinator) remoteSucceeded() {
	c.setState(StateSynced)
	c.ensureWatch()
}

func (c *Coordinator) remoteFailed(op string, err error) {
	logger.Sugar.Warnf("Remote %s failed, falling back to the local cache: %v", op, err)
	c.setState(StateOffline)
}

// commit persists snapshot and hands it to every subscriber.
func (c *Coordinator) commit(snapshot []model.Memo) {
	if err := c.cache.Save(snapshot); err != nil {
		logger.Sugar.Errorf("Failed to save memo cache: %v", err)
	}
	c.subscribers.Emit(snapshot)
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.states.Emit(s)
}

// ensureWatch attaches the live watch when connected, online and subscribed.
func (c *Coordinator) ensureWatch() {
	c.mu.Lock()
	if c.watching || c.remote == nil || c.owner == "" || !c.online || c.closed || c.subscribers.Len() == 0 {
		c.mu.Unlock()
		return
	}
	c.watching = true
	c.watchGen++
	gen := c.watchGen
	owner := c.owner
	c.mu.Unlock()

	stop := c.remote.Watch(owner,
		func(memos []model.Memo) { c.applySnapshot(gen, memos) },
		func(err error) { c.watchFailed(gen, err) },
	)

	c.mu.Lock()
	if c.watchGen != gen || !c.watching {
		// Detached while attaching.
		c.mu.Unlock()
		stop()
		return
	}
	c.watchStop = stop
	c.mu.Unlock()
}

// detachLocked forgets the current watch and returns its stop func for the caller to run unlocked.
func (c *Coordinator) detachLocked() func() {
	if !c.watching {
		return nil
	}
	stop := c.watchStop
	c.watching = false
	c.watchStop = nil
	c.watchGen++
	return stop
}

func (c *Coordinator) applySnapshot(gen uint64, memos []model.Memo) {
	c.mu.Lock()
	if gen != c.watchGen || !c.watching {
		c.mu.Unlock()
		return
	}
	next := model.CloneAll(memos)
	for i := range next {
		next[i].Origin = model.OriginRemote
		if next[i].Items == nil {
			next[i].Items = []outline.Item{}
		}
	}
	c.memos = next
	snapshot := model.CloneAll(next)
	c.mu.Unlock()

	c.setState(StateSynced)
	c.commit(snapshot)
}

func (c *Coordinator) watchFailed(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.watchGen || !c.watching {
		c.mu.Unlock()
		return
	}
	stop := c.detachLocked()
	c.mu.Unlock()

	logger.Sugar.Warnf("Live memo watch failed: %v", err)
	if stop != nil {
		stop()
	}
	c.setState(StateOffline)
}
