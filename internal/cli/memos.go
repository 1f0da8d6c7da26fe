package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iamyasumichi/only-one/internal/editor"
	"github.com/iamyasumichi/only-one/internal/memo/coordinator"
	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/outline"
	"github.com/iamyasumichi/only-one/internal/remote"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

func newLoginCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Get an anonymous identity from the sync server",
		Long:  "Prints an export line for ONLYONE_TOKEN. Every login is a new, empty identity.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := remote.New(app.Server, "")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), app.Timeout)
			defer cancel()
			resp, err := client.SignInAnonymously(ctx)
			if err != nil {
				return fmt.Errorf("sign in: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "signed in as %s\n", resp.UserID)
			fmt.Fprintf(cmd.OutOrStdout(), "export ONLYONE_TOKEN=%s\n", resp.Token)
			return nil
		},
	}
}

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync state and cache details",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			co, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			memos := co.Memos()
			local := 0
			for _, m := range memos {
				if m.IsLocal() {
					local++
				}
			}
			owner := co.Owner()
			if owner == "" {
				owner = "-"
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "state:\t%s\n", co.State())
			fmt.Fprintf(w, "owner:\t%s\n", owner)
			fmt.Fprintf(w, "server:\t%s\n", app.Server)
			fmt.Fprintf(w, "cache:\t%s\n", app.Cache)
			fmt.Fprintf(w, "memos:\t%d (%d local only)\n", len(memos), local)
			return w.Flush()
		},
	}
}

func newListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List memos, newest first",
		Long:  "With a query, only memos whose title or item text contains it are listed.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			co, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			memos := model.SortByUpdated(model.Filter(co.Memos(), query))

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tITEMS\tUPDATED\t")
			for _, m := range memos {
				marker := ""
				if m.IsLocal() {
					marker = "local"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", m.ID, model.NormalizeTitle(m.Title), outline.Count(m.Items), formatTime(m.UpdatedAt), marker)
			}
			return w.Flush()
		},
	}
}

func newNewCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title...]",
		Short: "Create a memo and print its id",
		RunE: func(cmd *cobra.Command, args []string) error {
			co, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			var m model.Memo
			_ = app.write(cmd.Context(), co, func(ctx context.Context) error {
				m = co.Create(ctx, strings.Join(args, " "))
				return nil
			})
			fmt.Fprintln(cmd.OutOrStdout(), m.ID)
			return nil
		},
	}
}

func newRenameCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <memo> <title...>",
		Short: "Change a memo's title",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			co, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			m, err := resolveMemo(co.Memos(), args[0])
			if err != nil {
				return err
			}
			title := strings.Join(args[1:], " ")
			_ = app.write(cmd.Context(), co, func(ctx context.Context) error {
				s := editor.Open(ctx, co, outline.New(), m)
				s.SetTitle(title)
				s.Close()
				return nil
			})
			fmt.Fprintf(cmd.OutOrStdout(), "renamed %s\n", m.ID)
			return nil
		},
	}
}

func newRmCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <memo>",
		Aliases: []string{"delete"},
		Short:   "Delete a memo",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			co, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			m, err := resolveMemo(co.Memos(), args[0])
			if err != nil {
				return err
			}
			_ = app.write(cmd.Context(), co, func(ctx context.Context) error {
				editor.Open(ctx, co, outline.New(), m).Delete(ctx)
				return nil
			})
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", m.ID)
			return nil
		},
	}
}

func newShowCmd(app *App) *cobra.Command {
	var search string
	var expand bool
	cmd := &cobra.Command{
		Use:   "show <memo>",
		Short: "Print a memo's outline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			co, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			m, err := resolveMemo(co.Memos(), args[0])
			if err != nil {
				return err
			}
			engine := outline.New()
			engine.Load(m.Items)
			if search != "" {
				engine.Search(search)
			}
			return renderMemo(cmd.OutOrStdout(), m, engine, expand)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "Mark items whose text contains this")
	cmd.Flags().BoolVar(&expand, "expand", false, "Show the children of collapsed items too")
	return cmd
}

func newWatchCmd(app *App) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the memo collection and sync state until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			co, err := app.open(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var mu sync.Mutex
			emit := func(format string, a ...interface{}) {
				mu.Lock()
				defer mu.Unlock()
				fmt.Fprintf(out, time.Now().Format("15:04:05")+" "+format+"\n", a...)
			}

			unwatch := co.OnSyncStateChange(func(s coordinator.State) { emit("state %s", s) })
			defer unwatch()
			unsubscribe := co.Subscribe(func(memos []model.Memo) { emit("%d memos", len(memos)) })
			defer unsubscribe()

			co.WatchNetwork(cmd.Context(), interval)
			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 15*time.Second, "How often to check the server")
	return cmd
}

// write runs fn and, when fn succeeds with the coordinator synced, waits for the server's echo so the local
// cache holds the result before the process exits.
func (a *App) write(ctx context.Context, co *coordinator.Coordinator, fn func(ctx context.Context) error) error {
	if !a.connected || co.State() == coordinator.StateOffline {
		return fn(ctx)
	}

	echoed := make(chan struct{})
	var once sync.Once
	var deliveries atomic.Int32
	unsubscribe := co.Subscribe(func([]model.Memo) {
		if deliveries.Add(1) > 1 {
			once.Do(func() { close(echoed) })
		}
	})
	defer unsubscribe()

	wctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	if err := fn(wctx); err != nil {
		return err
	}
	if co.State() != coordinator.StateSynced {
		return nil
	}
	select {
	case <-echoed:
	case <-wctx.Done():
		logger.Sugar.Warn("Write sent, but the server has not echoed it yet")
	}
	return nil
}

func resolveMemo(memos []model.Memo, ref string) (model.Memo, error) {
	var found []model.Memo
	for _, m := range memos {
		if m.ID == ref {
			return m, nil
		}
		if strings.HasPrefix(m.ID, ref) {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return model.Memo{}, errNotFound("memo", ref)
	case 1:
		return found[0], nil
	}
	return model.Memo{}, fmt.Errorf("memo id %q is ambiguous (%d matches)", ref, len(found))
}

func formatTime(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
