package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thruflo/tasksync/internal/config"
	"github.com/thruflo/tasksync/internal/fsm"
	"github.com/thruflo/tasksync/internal/habitica"
	"github.com/thruflo/tasksync/internal/logging"
	"github.com/thruflo/tasksync/internal/loop"
	"github.com/thruflo/tasksync/internal/server"
	"github.com/thruflo/tasksync/internal/state"
	"github.com/thruflo/tasksync/internal/todoist"
)

var (
	runOnce   bool
	runListen string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sync Todoist completions to Habitica",
	Long: `Polls Todoist and rewards every completed task in Habitica.

The first cycle against an empty sync cache only records what already
exists: tasks completed before tasksync started are never rewarded.
The loop runs until interrupted (Ctrl-C or SIGTERM), finishing the
Habitica call in flight before it exits. Use --once to run a single
cycle, e.g. from cron.

With --listen (or server.addr) a status endpoint is served alongside the
loop: GET /healthz for supervisors and GET /status for task counts.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "run a single sync cycle and exit")
	runCmd.Flags().StringVar(&runListen, "listen", "", "serve /healthz and /status on this address (overrides server.addr)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var onCycle func(loop.CycleStats)
	if runListen != "" {
		cfg.Server.Addr = runListen
	}
	if cfg.Server.Addr != "" && !runOnce {
		srv, err := server.New(server.Config{Addr: cfg.Server.Addr, Token: cfg.Server.Token}, store, logging.Default())
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				logging.Error("status server stopped", "error", err)
			}
		}()
		defer srv.Stop()
		onCycle = srv.Record
	}

	l, err := newSyncLoop(ctx, cfg, store, runOnce, onCycle)
	if err != nil {
		return err
	}

	logging.Info("starting sync", "cache", store.Path(), "once", runOnce)
	result := l.Run(ctx)
	logging.Info("sync stopped", "reason", result.Reason.String(), "cycles", result.Cycles)

	if runOnce && result.Error != nil {
		return fmt.Errorf("sync cycle failed: %w", result.Error)
	}
	return nil
}

// newSyncLoop wires the Todoist and Habitica clients, the difficulty
// resolver and the state machine into a loop over store.
func newSyncLoop(ctx context.Context, cfg *config.Config, store *state.Store, once bool, onCycle func(loop.CycleStats)) (*loop.Loop, error) {
	resolver, err := cfg.Resolver()
	if err != nil {
		return nil, err
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	var todoistOpts []todoist.Option
	if cfg.Todoist.BaseURL != "" {
		todoistOpts = append(todoistOpts, todoist.WithBaseURL(cfg.Todoist.BaseURL))
	}
	source := todoist.New(ctx, cfg.Todoist.APIKey, todoistOpts...)

	habiticaOpts := []habitica.Option{habitica.WithMinInterval(cfg.Habitica.MinRequestInterval)}
	if cfg.Habitica.BaseURL != "" {
		habiticaOpts = append(habiticaOpts, habitica.WithBaseURL(cfg.Habitica.BaseURL))
	}
	rewards := habitica.New(cfg.Habitica.UserID, cfg.Habitica.APIKey, habiticaOpts...)

	log := logging.Default()
	return loop.New(loop.Options{
		Source:   source,
		Machine:  fsm.New(rewards, resolver, cfg.Todoist.UserID, log),
		Store:    store,
		Schedule: schedule,
		Logger:   log,
		Once:     once,
		OnCycle:  onCycle,
	}), nil
}
