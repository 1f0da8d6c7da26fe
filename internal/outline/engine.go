package outline

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/iamyasumichi/only-one/internal/observer"
)

// Change is emitted after every mutation. Items is the full root sequence after the edit.
// Focus names the item the view should focus once it has rendered the new tree; it is empty when
// focus should not move.
type Change struct {
	Items []Item
	Focus string
}

// Render asks the view to redraw. Focus follows the same two-phase rule as Change.Focus.
type Render struct {
	Focus string
	Query string
}

// Engine owns the in-memory tree of the open memo. All operations are synchronous; unknown ids and
// structural boundaries are silent no-ops reported only through the boolean results.
type Engine struct {
	mu     sync.Mutex
	tree   *arena
	query  string
	newID  func() string
	loaded bool

	changes observer.Set[Change]
	renders observer.Set[Render]
}

type Option func(*Engine)

// WithIDGenerator replaces the item id generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	e.tree = newArena(nil, e.newID)
	return e
}

// OnChange registers fn for mutation notifications. The returned func unsubscribes.
func (e *Engine) OnChange(fn func(Change)) func() { return e.changes.Add(fn) }

// OnRender registers fn for redraw requests. The returned func unsubscribes.
func (e *Engine) OnRender(fn func(Render)) func() { return e.renders.Add(fn) }

// Load replaces the active tree with a copy of items and clears the search query.
func (e *Engine) Load(items []Item) {
	e.mu.Lock()
	e.tree = newArena(items, e.newID)
	e.query = ""
	e.loaded = true
	e.mu.Unlock()

	e.renders.Emit(Render{})
}

// Loaded reports whether a memo has been loaded.
func (e *Engine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

// Items returns a copy of the active root sequence.
func (e *Engine) Items() []Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.items()
}

// Locate reports the position of id: its parent, index and the sibling sequence it sits in.
func (e *Engine) Locate(id string) (Location, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	loc, ok := e.tree.locate(id)
	if ok {
		loc.Siblings = append([]string(nil), loc.Siblings...)
	}
	return loc, ok
}

// Item returns a copy of the item with id, children included.
func (e *Engine) Item(id string) (Item, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.tree.nodes[id]
	if n == nil {
		return Item{}, false
	}
	return Item{
		ID:        n.id,
		Content:   n.content,
		Children:  e.tree.materialize(n.children, n.nilChildren),
		Collapsed: n.collapsed,
	}, true
}

// AddItem appends an empty item to the end of the root sequence.
func (e *Engine) AddItem() (string, bool) {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return "", false
	}
	id := e.create()
	e.tree.insertAt("", len(e.tree.roots), id)
	change := e.snapshot(id)
	e.mu.Unlock()

	e.publish(change, true)
	return id, true
}

// InsertItemAfter places a new empty item right after id, in id's own sibling sequence.
func (e *Engine) InsertItemAfter(id string) (string, bool) {
	e.mu.Lock()
	loc, ok := e.tree.locate(id)
	if !ok {
		e.mu.Unlock()
		return "", false
	}
	newID := e.create()
	e.tree.insertAt(loc.ParentID, loc.Index+1, newID)
	change := e.snapshot(newID)
	e.mu.Unlock()

	e.publish(change, true)
	return newID, true
}

// Indent makes id the last child of its preceding sibling. The first item of a level stays put.
func (e *Engine) Indent(id string) bool {
	e.mu.Lock()
	loc, ok := e.tree.locate(id)
	if !ok || loc.Index == 0 {
		e.mu.Unlock()
		return false
	}
	parent := e.tree.nodes[loc.Siblings[loc.Index-1]]
	e.tree.detach(loc)
	e.tree.insertAt(parent.id, len(parent.children), id)
	parent.collapsed = false
	change := e.snapshot(id)
	e.mu.Unlock()

	e.publish(change, true)
	return true
}

// Outdent moves id out of its parent, right after that parent. Root items stay put.
func (e *Engine) Outdent(id string) bool {
	e.mu.Lock()
	loc, ok := e.tree.locate(id)
	if !ok || loc.ParentID == "" {
		e.mu.Unlock()
		return false
	}
	parentLoc, ok := e.tree.locate(loc.ParentID)
	if !ok {
		e.mu.Unlock()
		return false
	}
	e.tree.detach(loc)
	e.tree.insertAt(parentLoc.ParentID, parentLoc.Index+1, id)
	change := e.snapshot(id)
	e.mu.Unlock()

	e.publish(change, true)
	return true
}

// ToggleCollapse flips the collapsed flag of id.
func (e *Engine) ToggleCollapse(id string) bool {
	e.mu.Lock()
	n := e.tree.nodes[id]
	if n == nil {
		e.mu.Unlock()
		return false
	}
	n.collapsed = !n.collapsed
	change := e.snapshot("")
	e.mu.Unlock()

	e.publish(change, true)
	return true
}

// UpdateContent sets the text of id. Every call notifies; callers coalesce keystrokes if needed.
func (e *Engine) UpdateContent(id, text string) bool {
	e.mu.Lock()
	n := e.tree.nodes[id]
	if n == nil {
		e.mu.Unlock()
		return false
	}
	n.content = text
	change := e.snapshot("")
	e.mu.Unlock()

	// The view already shows what was typed.
	e.publish(change, false)
	return true
}

// DeleteItem removes id and its subtree. A memo keeps at least one root item.
// Focus moves to the previous sibling, else the parent, else nowhere.
func (e *Engine) DeleteItem(id string) bool {
	e.mu.Lock()
	loc, ok := e.tree.locate(id)
	if !ok {
		e.mu.Unlock()
		return false
	}
	if len(e.tree.roots) == 1 && loc.ParentID == "" {
		e.mu.Unlock()
		return false
	}
	e.tree.detach(loc)
	e.tree.drop(id)

	focus := ""
	if loc.Index > 0 {
		focus = loc.Siblings[loc.Index-1]
	} else if loc.ParentID != "" {
		focus = loc.ParentID
	}
	change := e.snapshot(focus)
	e.mu.Unlock()

	e.publish(change, true)
	return true
}

// Search sets the highlight query. Matching is a case-insensitive substring test on content.
func (e *Engine) Search(query string) {
	e.mu.Lock()
	e.query = strings.ToLower(query)
	q := e.query
	e.mu.Unlock()

	e.renders.Emit(Render{Query: q})
}

// Query returns the active, lower-cased search query.
func (e *Engine) Query() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.query
}

// Matches reports whether id is highlighted by the active query.
func (e *Engine) Matches(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.tree.nodes[id]
	return n != nil && matches(n.content, e.query)
}

// Highlighted lists the ids of matching items in document order.
func (e *Engine) Highlighted() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.query == "" {
		return nil
	}
	var ids []string
	Walk(e.tree.items(), func(it Item, _ int) bool {
		if matches(it.Content, e.query) {
			ids = append(ids, it.ID)
		}
		return true
	})
	return ids
}

func matches(content, query string) bool {
	return query != "" && strings.Contains(strings.ToLower(content), query)
}

func (e *Engine) create() string {
	id := e.newID()
	for id == "" || e.tree.nodes[id] != nil {
		id = e.newID()
	}
	e.tree.nodes[id] = &node{id: id}
	return id
}

// snapshot must be called with e.mu held.
func (e *Engine) snapshot(focus string) Change {
	return Change{Items: e.tree.items(), Focus: focus}
}

func (e *Engine) publish(change Change, render bool) {
	if render {
		e.renders.Emit(Render{Focus: change.Focus, Query: e.Query()})
	}
	e.changes.Emit(change)
}
