package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iamyasumichi/only-one/internal/editor"
	"github.com/iamyasumichi/only-one/internal/outline"
)

type itemOp func(e *outline.Engine, args []string) (string, error)

func newItemCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Edit the outline of a memo",
	}

	cmd.AddCommand(itemCmd(app, "add <memo>", "Append an empty item at the root", cobra.ExactArgs(1),
		func(e *outline.Engine, args []string) (string, error) {
			id, ok := e.AddItem()
			if !ok {
				return "", errNoChange("add", "")
			}
			return id, nil
		}))

	cmd.AddCommand(itemCmd(app, "insert <memo> <after-item>", "Insert an empty item after another", cobra.ExactArgs(2),
		func(e *outline.Engine, args []string) (string, error) {
			after, err := resolveItem(e, args[1])
			if err != nil {
				return "", err
			}
			id, ok := e.InsertItemAfter(after)
			if !ok {
				return "", errNoChange("insert", after)
			}
			return id, nil
		}))

	cmd.AddCommand(itemCmd(app, "indent <memo> <item>", "Nest an item under its previous sibling", cobra.ExactArgs(2),
		structural("indent", (*outline.Engine).Indent)))
	cmd.AddCommand(itemCmd(app, "outdent <memo> <item>", "Move an item up one level, after its parent", cobra.ExactArgs(2),
		structural("outdent", (*outline.Engine).Outdent)))
	cmd.AddCommand(itemCmd(app, "toggle <memo> <item>", "Collapse or expand an item", cobra.ExactArgs(2),
		structural("toggle", (*outline.Engine).ToggleCollapse)))
	cmd.AddCommand(itemCmd(app, "delete <memo> <item>", "Delete an item and everything under it", cobra.ExactArgs(2),
		structural("delete", (*outline.Engine).DeleteItem)))

	cmd.AddCommand(itemCmd(app, "set <memo> <item> <text...>", "Replace an item's text", cobra.MinimumNArgs(2),
		func(e *outline.Engine, args []string) (string, error) {
			id, err := resolveItem(e, args[1])
			if err != nil {
				return "", err
			}
			if !e.UpdateContent(id, strings.Join(args[2:], " ")) {
				return "", errNoChange("set", id)
			}
			return id, nil
		}))

	return cmd
}

func structural(name string, op func(*outline.Engine, string) bool) itemOp {
	return func(e *outline.Engine, args []string) (string, error) {
		id, err := resolveItem(e, args[1])
		if err != nil {
			return "", err
		}
		if !op(e, id) {
			return "", errNoChange(name, id)
		}
		return id, nil
	}
}

// itemCmd runs op against the memo named by the first argument inside an editor session and
// prints the id of the item it touched.
func itemCmd(app *App, use, short string, args cobra.PositionalArgs, op itemOp) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, argv []string) error {
			co, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			m, err := resolveMemo(co.Memos(), argv[0])
			if err != nil {
				return err
			}

			var touched string
			err = app.write(cmd.Context(), co, func(ctx context.Context) error {
				s := editor.Open(ctx, co, outline.New(), m)
				defer s.Close()
				id, opErr := op(s.Engine(), argv)
				touched = id
				return opErr
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), touched)
			return nil
		},
	}
}

// resolveItem accepts a full item id or a unique prefix of one.
func resolveItem(e *outline.Engine, ref string) (string, error) {
	if _, ok := e.Item(ref); ok {
		return ref, nil
	}
	var found []string
	outline.Walk(e.Items(), func(it outline.Item, _ int) bool {
		if strings.HasPrefix(it.ID, ref) {
			found = append(found, it.ID)
		}
		return true
	})
	switch len(found) {
	case 0:
		return "", errNotFound("item", ref)
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("item id %q is ambiguous (%d matches)", ref, len(found))
}
