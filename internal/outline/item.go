// Package outline implements the hierarchical item tree of one open memo.
package outline

// Item is one node of an outline. Children order is display order.
type Item struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Children  []Item `json:"children"`
	Collapsed bool   `json:"collapsed"`
}

// CloneItems deep-copies a tree, keeping nil and empty child slices as they are.
func CloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it
		out[i].Children = CloneItems(it.Children)
	}
	return out
}

// Count returns the number of items in the tree, descendants included.
func Count(items []Item) int {
	n := 0
	Walk(items, func(Item, int) bool {
		n++
		return true
	})
	return n
}

// Walk visits items depth-first in document order. Returning false from fn skips the item's children.
func Walk(items []Item, fn func(it Item, depth int) bool) {
	walk(items, 0, fn)
}

func walk(items []Item, depth int, fn func(Item, int) bool) {
	for _, it := range items {
		if fn(it, depth) {
			walk(it.Children, depth+1, fn)
		}
	}
}
