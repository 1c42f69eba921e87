// Command briefer runs the report-agent service: a cron scheduler, an HTTP
// API, and the run pipeline behind both.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"briefer/internal/agent"
	"briefer/internal/collect"
	"briefer/internal/config"
	"briefer/internal/llm"
	"briefer/internal/logging"
	"briefer/internal/mcp"
	"briefer/internal/metrics"
	"briefer/internal/notify"
	"briefer/internal/report"
	"briefer/internal/runner"
	"briefer/internal/runstore"
	"briefer/internal/scheduler"
	"briefer/internal/server"
)

var (
	configPath string
	debugMode  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "briefer",
		Short:        "Scheduled report agents over local LLMs",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	rootCmd.AddCommand(serveCmd)

	runCmd := &cobra.Command{
		Use:   "run <agent-id>",
		Short: "Trigger one agent run and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(args[0])
		},
	}
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired service graph.
type app struct {
	cfg       *config.Config
	registry  *agent.Registry
	store     *runstore.Store
	mcp       *mcp.Manager
	runner    *runner.Runner
	scheduler *scheduler.Scheduler
	logger    logging.Logger
}

func buildApp() (*app, error) {
	if debugMode {
		logging.SetLevel(logging.LevelDebug)
	}
	logger := logging.NewComponentLogger("briefer")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	registry, err := agent.NewRegistry(cfg.Agents.File, logging.NewComponentLogger("registry"))
	if err != nil {
		return nil, err
	}
	store, err := runstore.NewStore(cfg.Agents.DataDir, logging.NewComponentLogger("runstore"))
	if err != nil {
		return nil, err
	}

	mcpManager := mcp.NewManager(cfg.MCP, logging.NewComponentLogger("mcp"))
	collector := collect.NewCollector(mcpManager, logging.NewComponentLogger("collector"))

	client := llm.NewOllamaClient(cfg.LLM.Model, llm.Config{BaseURL: cfg.LLM.BaseURL})
	generator := report.NewGenerator(client, logging.NewComponentLogger("report"))

	var notifier notify.Sender
	gotify := notify.NewGotifyClient(cfg.Gotify.URL, cfg.Gotify.Token)
	if gotify.Configured() {
		notifier = gotify
	} else {
		logger.Info("Gotify not configured, notifications disabled")
	}

	baseURL := fmt.Sprintf("http://%s", cfg.Server.Addr())
	run := runner.New(registry, store, collector, generator, notifier, metrics.Default(), baseURL, logging.NewComponentLogger("runner"))
	sched := scheduler.New(registry, run, logging.NewComponentLogger("scheduler"))

	return &app{
		cfg:       cfg,
		registry:  registry,
		store:     store,
		mcp:       mcpManager,
		runner:    run,
		scheduler: sched,
		logger:    logger,
	}, nil
}

func serve() error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	a.scheduler.Start()

	srv := server.New(a.cfg.Server.Addr(), server.Deps{
		Registry:  a.registry,
		Store:     a.store,
		Runner:    a.runner,
		Scheduler: a.scheduler,
		Logger:    logging.NewComponentLogger("http"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	a.scheduler.Stop()
	a.mcp.StopAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	a.logger.Info("Shutdown complete")
	return nil
}

// runOnce triggers an agent manually and polls until the run finishes, for
// use from cron-less setups and smoke tests.
func runOnce(agentID string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.mcp.StopAll()

	record, err := a.runner.Start(agentID, agent.TriggerManual)
	if err != nil {
		return err
	}
	fmt.Printf("Started run %s\n", record.RunID)

	deadline := time.Now().Add(15 * time.Minute)
	for time.Now().Before(deadline) {
		time.Sleep(500 * time.Millisecond)
		current, err := a.store.Get(agentID, record.RunID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			if current.Status == agent.RunFailed {
				return fmt.Errorf("run failed: %s", current.Error)
			}
			fmt.Printf("Run completed in %dms, report at %s\n", *current.DurationMS, current.Output.Path)
			return nil
		}
	}
	return fmt.Errorf("run %s did not finish in time", record.RunID)
}
