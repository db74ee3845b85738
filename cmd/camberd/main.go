// Command camberd runs the camber build-dispatch server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/camber-cd/camber/internal/agent"
	"github.com/camber-cd/camber/internal/api"
	"github.com/camber-cd/camber/internal/assignment"
	"github.com/camber-cd/camber/internal/config"
	"github.com/camber-cd/camber/internal/dispatch"
	"github.com/camber-cd/camber/internal/doctor"
	"github.com/camber-cd/camber/internal/elastic"
	"github.com/camber-cd/camber/internal/events"
	"github.com/camber-cd/camber/internal/health"
	"github.com/camber-cd/camber/internal/inspect"
	"github.com/camber-cd/camber/internal/lock"
	"github.com/camber-cd/camber/internal/log"
	"github.com/camber-cd/camber/internal/maintenance"
	"github.com/camber-cd/camber/internal/plugin"
	"github.com/camber-cd/camber/internal/queue"
	"github.com/camber-cd/camber/internal/scheduler"
	"github.com/camber-cd/camber/internal/secret"
	"github.com/camber-cd/camber/internal/storage"
)

var version = "dev"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	switch args[0] {
	case "start":
		return runStart(args[1:])
	case "doctor":
		return runDoctor(args[1:])
	case "inspect":
		return runInspect(args[1:])
	case "version":
		fmt.Printf("camberd %s\n", version)
		return 0
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Usage: camberd <command> [flags]

Commands:
  start    Run the dispatch server
  doctor   Validate configuration and report problems
  inspect  Report on scheduled jobs and outbound messages
  version  Print version
`)
}

// runInspect reports on the state database without starting the server.
func runInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "camber.yaml", "Path to configuration file")
	jobKey := fs.String("job", "", "Show detail for one job key (pipeline/counter/stage/stage-counter/job)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	if *jobKey != "" {
		detail, err := inspect.BuildJobDetail(ctx, db, *jobKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Print(inspect.FormatJobDetail(detail))
		return 0
	}

	overview, err := inspect.BuildOverview(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	fmt.Print(inspect.FormatOverview(overview))
	return 0
}

// runDoctor loads and validates configuration without starting anything.
func runDoctor(args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ExitOnError)
	configPath := fs.String("config", "camber.yaml", "Path to configuration file")
	asJSON := fs.Bool("json", false, "Emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	result := doctor.New(cfg).Validate()
	if *asJSON {
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render report: %v\n", err)
			return 1
		}
		fmt.Println(out)
	} else {
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	return 0
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "camber.yaml", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Server.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("camberd starting", "version", version, "config", *configPath)

	pidLockPath := filepath.Join(filepath.Dir(cfg.State.Path), "camberd.lock")
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	resolver := secret.StaticResolver(nil)
	if cfg.Server.SecretsFile != "" {
		resolver, err = secret.FileResolver(cfg.Server.SecretsFile)
		if err != nil {
			logger.Error("failed to load secrets file", "path", cfg.Server.SecretsFile, "error", err)
			return 1
		}
		logger.Info("secrets file loaded", "path", cfg.Server.SecretsFile)
	}

	cfgStore := config.NewStore(cfg)
	hub := events.NewHub(256)
	reporter := health.NewReporter(hub)
	maint := maintenance.NewService(hub)

	jobStore := storage.NewScheduledJobStore(db)
	outbox := queue.NewOutbox(db)
	plugins := plugin.NewRegistry()
	agents := agent.NewRegistry(cfg.Server.AutoRegisterKey)

	orchestrator := elastic.NewOrchestrator(plugins, agents, cfgStore, outbox, reporter)
	planRegistry := assignment.NewRegistry(jobStore, cfgStore, maint, orchestrator)
	assigner := assignment.NewAssigner(agents, planRegistry, jobStore, cfgStore, resolver)
	service := dispatch.NewService(cfgStore, jobStore, planRegistry, orchestrator, maint)
	deliverer := dispatch.New(outbox, plugins)

	reload := func() (*config.Config, error) {
		return config.Load(*configPath)
	}
	sched := scheduler.New(cfgStore, planRegistry, orchestrator, maint, reload, hub)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	sched.Start(ctx)
	defer sched.Stop()

	go func() {
		if err := deliverer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("dispatch: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(
			api.Config{Listen: cfg.API.Listen, APIKey: cfg.API.APIKey},
			agents, assigner, service, service, reporter, maint, orchestrator, plugins,
			hub, log.WithComponent("api"),
		)
		go func() {
			if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("camberd running (press Ctrl+C to stop)")

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("camberd stopped")
	return 0
}
