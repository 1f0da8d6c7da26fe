package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/outline"
)

// renderMemo prints the title line and then one line per visible item:
//
//	* - text  [id]
//
// The first column marks search matches. The bullet is "+" for a collapsed item with hidden
// children and "-" otherwise.
func renderMemo(w io.Writer, m model.Memo, e *outline.Engine, expand bool) error {
	bw := bufio.NewWriter(w)
	origin := ""
	if m.IsLocal() {
		origin = ", local only"
	}
	fmt.Fprintf(bw, "%s  (%s%s)\n", model.NormalizeTitle(m.Title), m.ID, origin)

	items := e.Items()
	if len(items) == 0 {
		fmt.Fprintln(bw, "  (empty)")
	}
	renderItems(bw, e, items, 0, expand)
	if q := e.Query(); q != "" {
		fmt.Fprintf(bw, "%d match(es) for %q\n", len(e.Highlighted()), q)
	}
	return bw.Flush()
}

func renderItems(w io.Writer, e *outline.Engine, items []outline.Item, depth int, expand bool) {
	for _, it := range items {
		mark := " "
		if e.Matches(it.ID) {
			mark = "*"
		}
		bullet := "-"
		hidden := it.Collapsed && len(it.Children) > 0
		if hidden {
			bullet = "+"
		}
		fmt.Fprintf(w, "%s %s%s %s  [%s]\n", mark, strings.Repeat("  ", depth), bullet, it.Content, it.ID)
		if !hidden || expand {
			renderItems(w, e, it.Children, depth+1, expand)
		}
	}
}
