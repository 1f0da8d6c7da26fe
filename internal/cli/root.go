// Package cli is the onlyone terminal client.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/iamyasumichi/only-one/internal/cache"
	"github.com/iamyasumichi/only-one/internal/memo/coordinator"
	"github.com/iamyasumichi/only-one/internal/memo/model"
	"github.com/iamyasumichi/only-one/internal/remote"
	"github.com/iamyasumichi/only-one/pkg/logger"
)

const defaultServer = "http://localhost:8080"

type App struct {
	Server   string
	Token    string
	Cache    string
	LogLevel string
	Timeout  time.Duration

	coord      *coordinator.Coordinator
	client     *remote.Client
	closeCache func() error
	connected  bool
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "onlyone",
		Short:        "Outline memos that keep working offline",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Get a token and keep it in the environment
  eval "$(onlyone login)"

  # Create and edit a memo
  onlyone new Groceries
  onlyone item add <memo-id>
  onlyone item set <memo-id> <item-id> milk
  onlyone show <memo-id>
`),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitCLI(app.LogLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.close()
			logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&app.Server, "server", envOr("ONLYONE_SERVER", defaultServer), "Sync server URL")
	cmd.PersistentFlags().StringVar(&app.Token, "token", envOr("ONLYONE_TOKEN", ""), "Token from `onlyone login`; without one the client works offline")
	cmd.PersistentFlags().StringVar(&app.Cache, "cache", envOr("ONLYONE_CACHE", defaultCachePath()), "Local cache: a file path, sqlite:<path> or memory")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", envOr("ONLYONE_LOG_LEVEL", "warn"), "Log level")
	cmd.PersistentFlags().DurationVar(&app.Timeout, "timeout", 5*time.Second, "How long to wait for the server")

	cmd.AddCommand(newLoginCmd(app))
	cmd.AddCommand(newStatusCmd(app))
	cmd.AddCommand(newListCmd(app))
	cmd.AddCommand(newNewCmd(app))
	cmd.AddCommand(newRenameCmd(app))
	cmd.AddCommand(newRmCmd(app))
	cmd.AddCommand(newShowCmd(app))
	cmd.AddCommand(newItemCmd(app))
	cmd.AddCommand(newWatchCmd(app))

	return cmd
}

func envOr(k, d string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return d
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "memory"
	}
	return filepath.Join(dir, "onlyone", "memos.json")
}

// open builds the coordinator from the cache and, with a token, connects it to the server and
// waits for the first snapshot so commands see the server's collection.
func (a *App) open(ctx context.Context) (*coordinator.Coordinator, error) {
	if a.coord != nil {
		return a.coord, nil
	}

	if a.Cache != "memory" {
		path := strings.TrimPrefix(a.Cache, "sqlite:")
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
	}
	c, closeCache, err := cache.Open(a.Cache)
	if err != nil {
		return nil, err
	}
	a.closeCache = closeCache

	var r coordinator.Remote
	var owner string
	if a.Token != "" {
		owner, err = remote.Subject(a.Token)
		if err != nil {
			return nil, err
		}
		a.client, err = remote.New(a.Server, a.Token)
		if err != nil {
			return nil, err
		}
		r = a.client
	}
	a.coord = coordinator.New(r, c)
	if r == nil {
		logger.Sugar.Debug("No token, working offline")
		return a.coord, nil
	}

	first := make(chan struct{})
	var once sync.Once
	var deliveries atomic.Int32
	unsubscribe := a.coord.Subscribe(func([]model.Memo) {
		// The first delivery is the cache replay.
		if deliveries.Add(1) > 1 {
			once.Do(func() { close(first) })
		}
	})
	defer unsubscribe()

	cctx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	a.connected = a.coord.Connect(cctx, owner)
	if !a.connected {
		return a.coord, nil
	}

	// A watch that fails leaves nothing to wait for.
	unwatch := a.coord.OnSyncStateChange(func(s coordinator.State) {
		if s == coordinator.StateOffline {
			once.Do(func() { close(first) })
		}
	})
	defer unwatch()

	select {
	case <-first:
	case <-cctx.Done():
		logger.Sugar.Warn("No snapshot from the server yet, showing the local cache")
	}
	return a.coord, nil
}

func (a *App) close() {
	if a.coord != nil {
		a.coord.Close()
		a.coord = nil
	}
	if a.closeCache != nil {
		if err := a.closeCache(); err != nil {
			logger.Sugar.Warnf("Failed to close cache: %v", err)
		}
		a.closeCache = nil
	}
}
