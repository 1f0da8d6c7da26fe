package outline

// node is the arena form of an Item. Structure is held as ids: the parent back-reference and the
// ordered child ids. An empty parent means root level.
type node struct {
	id        string
	content   string
	collapsed bool
	parent    string
	children  []string
	// nilChildren records a loaded item whose children slice was nil, so untouched leaves
	// materialize exactly as they were loaded.
	nilChildren bool
}

type arena struct {
	nodes map[string]*node
	roots []string
}

// Location describes where an item sits in the tree.
type Location struct {
	ID       string
	ParentID string // empty at root level
	Index    int
	Siblings []string
}

func newArena(items []Item, newID func() string) *arena {
	a := &arena{nodes: make(map[string]*node)}
	a.roots = a.load(items, "", newID)
	return a
}

func (a *arena) load(items []Item, parent string, newID func() string) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		id := it.ID
		// Ids must be unique for the arena; re-key blanks and repeats.
		for id == "" || a.nodes[id] != nil {
			id = newID()
		}
		n := &node{
			id:          id,
			content:     it.Content,
			collapsed:   it.Collapsed,
			parent:      parent,
			nilChildren: it.Children == nil,
		}
		a.nodes[id] = n
		n.children = a.load(it.Children, id, newID)
		ids = append(ids, id)
	}
	return ids
}

func (a *arena) siblings(parent string) []string {
	if parent == "" {
		return a.roots
	}
	if p := a.nodes[parent]; p != nil {
		return p.children
	}
	return nil
}

func (a *arena) setSiblings(parent string, ids []string) {
	if parent == "" {
		a.roots = ids
		return
	}
	if p := a.nodes[parent]; p != nil {
		p.children = ids
		p.nilChildren = false
	}
}

// locate finds id by walking from the roots in document order, so the first match wins.
func (a *arena) locate(id string) (Location, bool) {
	return a.locateIn(a.roots, "", id)
}

func (a *arena) locateIn(ids []string, parent string, id string) (Location, bool) {
	for i, cur := range ids {
		if cur == id {
			return Location{ID: id, ParentID: parent, Index: i, Siblings: ids}, true
		}
		if n := a.nodes[cur]; n != nil && len(n.children) > 0 {
			if loc, ok := a.locateIn(n.children, cur, id); ok {
				return loc, true
			}
		}
	}
	return Location{}, false
}

func (a *arena) insertAt(parent string, index int, id string) {
	sibs := a.siblings(parent)
	if index < 0 || index > len(sibs) {
		index = len(sibs)
	}
	next := make([]string, 0, len(sibs)+1)
	next = append(next, sibs[:index]...)
	next = append(next, id)
	next = append(next, sibs[index:]...)
	a.setSiblings(parent, next)
	a.nodes[id].parent = parent
}

func (a *arena) detach(loc Location) {
	next := make([]string, 0, len(loc.Siblings)-1)
	next = append(next, loc.Siblings[:loc.Index]...)
	next = append(next, loc.Siblings[loc.Index+1:]...)
	a.setSiblings(loc.ParentID, next)
}

// drop removes id and its whole subtree from the node table.
func (a *arena) drop(id string) {
	n := a.nodes[id]
	if n == nil {
		return
	}
	for _, child := range n.children {
		a.drop(child)
	}
	delete(a.nodes, id)
}

func (a *arena) items() []Item {
	return a.materialize(a.roots, false)
}

func (a *arena) materialize(ids []string, nilIfEmpty bool) []Item {
	if len(ids) == 0 && nilIfEmpty {
		return nil
	}
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		n := a.nodes[id]
		if n == nil {
			continue
		}
		out = append(out, Item{
			ID:        n.id,
			Content:   n.content,
			Children:  a.materialize(n.children, n.nilChildren),
			Collapsed: n.collapsed,
		})
	}
	return out
}
