package model

import (
	"sort"
	"strings"

	"github.com/iamyasumichi/only-one/internal/outline"
)

// Origin tags where a memo's identity comes from.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"

	// LocalIDPrefix marks ids minted on this installation while the remote was unreachable.
	LocalIDPrefix = "local_"

	DefaultTitle = "Untitled"
)

type Memo struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Items     []outline.Item `json:"items"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
	Origin    Origin         `json:"origin,omitempty"`
}

// IsLocal reports whether the memo only exists in the local cache. The origin tag decides;
// untagged memos from older caches fall back to the id prefix.
func (m Memo) IsLocal() bool {
	if m.Origin != "" {
		return m.Origin == OriginLocal
	}
	return IsLocalID(m.ID)
}

func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Patch is a partial field set. Nil fields are left untouched.
type Patch struct {
	Title     *string         `json:"title,omitempty"`
	Items     *[]outline.Item `json:"items,omitempty"`
	UpdatedAt int64           `json:"updatedAt"`
}

func TitlePatch(title string) Patch {
	return Patch{Title: &title}
}

func ItemsPatch(items []outline.Item) Patch {
	return Patch{Items: &items}
}

// Apply merges p into m and returns the result. m is not modified.
func Apply(m Memo, p Patch) Memo {
	out := Clone(m)
	if p.Title != nil {
		out.Title = *p.Title
	}
	if p.Items != nil {
		out.Items = outline.CloneItems(*p.Items)
	}
	if p.UpdatedAt != 0 {
		out.UpdatedAt = p.UpdatedAt
	}
	return out
}

// NormalizeTitle trims the title and substitutes the default for blanks.
func NormalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultTitle
	}
	return title
}

func Clone(m Memo) Memo {
	m.Items = outline.CloneItems(m.Items)
	return m
}

// CloneAll deep-copies a collection. A nil collection becomes an empty one.
func CloneAll(memos []Memo) []Memo {
	out := make([]Memo, len(memos))
	for i, m := range memos {
		out[i] = Clone(m)
	}
	return out
}

// Index returns the position of id in memos, or -1.
func Index(memos []Memo, id string) int {
	for i := range memos {
		if memos[i].ID == id {
			return i
		}
	}
	return -1
}

// SortByUpdated returns a copy ordered by UpdatedAt, newest first.
func SortByUpdated(memos []Memo) []Memo {
	out := make([]Memo, len(memos))
	copy(out, memos)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out
}

// Filter keeps memos whose title or item text contains query, ignoring case.
func Filter(memos []Memo, query string) []Memo {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return memos
	}
	out := make([]Memo, 0, len(memos))
	for _, m := range memos {
		if strings.Contains(strings.ToLower(m.Title), q) || strings.Contains(strings.ToLower(ContentText(m.Items)), q) {
			out = append(out, m)
		}
	}
	return out
}

// ContentText flattens an outline into one space-separated string.
func ContentText(items []outline.Item) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		text := it.Content
		if len(it.Children) > 0 {
			text += " " + ContentText(it.Children)
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}
