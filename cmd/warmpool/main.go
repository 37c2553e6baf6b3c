package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/warmpool/internal/api"
	"github.com/mattjoyce/warmpool/internal/config"
	"github.com/mattjoyce/warmpool/internal/events"
	"github.com/mattjoyce/warmpool/internal/invoke"
	"github.com/mattjoyce/warmpool/internal/log"
	"github.com/mattjoyce/warmpool/internal/loop"
	"github.com/mattjoyce/warmpool/internal/pool"
	"github.com/mattjoyce/warmpool/internal/store"
	"github.com/mattjoyce/warmpool/internal/tui"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "run":
		return runOnce(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

// runtime bundles the long-lived collaborators a pool host needs.
type runtime struct {
	cfg  *config.Config
	lp   *loop.Loop
	hub  *events.Hub
	db   *store.SQLiteStore
	pool *pool.Pool
}

func buildRuntime(configPath string) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log.Setup(cfg.LogLevel)

	db, err := store.OpenSQLite(context.Background(), cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open payload store: %w", err)
	}

	var builder invoke.Builder
	if cfg.WorkerEntrypoint != "" {
		builder = &invoke.ScriptBuilder{Path: cfg.WorkerEntrypoint, Args: cfg.WorkerArgs}
	}

	lp := loop.New()
	hub := events.NewHub(256)

	p, err := pool.New(pool.Config{
		QueueName:     cfg.Queue,
		OutputResults: cfg.OutputResults,
		Async:         cfg.Async,
		PreforkSize:   cfg.PreforkSize,
		Command:       cfg.WorkerCommand,
		Loop:          lp,
	}, nil, db, builder, hub)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, lp: lp, hub: hub, db: db, pool: p}, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	monitor := fs.Bool("monitor", false, "Show the live monitoring TUI")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	rt, err := buildRuntime(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer rt.db.Close()

	logger := log.WithComponent("main")
	logger.Info("warmpool starting", "version", version, "config", *configPath,
		"prefork_size", rt.cfg.PreforkSize)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	var apiServer *api.Server
	if rt.cfg.API.Enabled {
		apiServer = api.NewServer(rt.cfg.API.Listen, rt.pool, rt.hub)
		go func() {
			if err := apiServer.Start(); err != nil {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", rt.cfg.API.Listen)
	}

	if *monitor {
		prog := tea.NewProgram(tui.NewMonitor(rt.hub, rt.poolStats))
		go func() {
			if _, err := prog.Run(); err != nil {
				errCh <- fmt.Errorf("monitor: %w", err)
				return
			}
			// Quitting the monitor stops the whole service.
			sigCh <- syscall.SIGTERM
		}()
	}

	// All pool teardown happens on the loop, like every other mutation.
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
		case err := <-errCh:
			logger.Error("component failed", "error", err)
		}
		rt.lp.Schedule(func() {
			rt.pool.Shutdown()
			rt.lp.Stop()
		})
	}()

	logger.Info("warmpool running (press Ctrl+C to stop)")
	rt.pool.RunLoop(nil)

	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			logger.Warn("api shutdown", "error", err)
		}
	}

	logger.Info("warmpool stopped")
	return 0
}

// poolStats snapshots pool counts from the loop for the monitor goroutine.
func (rt *runtime) poolStats() tui.Stats {
	done := make(chan tui.Stats, 1)
	rt.lp.Schedule(func() {
		done <- tui.Stats{Running: rt.pool.Count(), Idle: rt.pool.IdleCount()}
	})
	select {
	case s := <-done:
		return s
	case <-time.After(time.Second):
		return tui.Stats{}
	}
}

// runOnce dispatches a single payload and exits with the worker's exit code.
func runOnce(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	payloadArg := fs.String("payload", "", "Payload body (reads stdin when empty)")
	queueName := fs.String("queue", "", "Queue name for this dispatch")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	body := []byte(*payloadArg)
	if len(body) == 0 {
		read, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read payload from stdin: %v\n", err)
			return 1
		}
		body = read
	}
	if len(body) == 0 {
		fmt.Fprintln(os.Stderr, "A payload is required: pass --payload or pipe one to stdin")
		return 1
	}

	rt, err := buildRuntime(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}
	defer rt.db.Close()

	logger := log.WithComponent("main")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		rt.lp.Schedule(func() {
			rt.pool.Shutdown()
			rt.lp.Stop()
		})
	}()

	exitCode := 0
	rt.pool.RunLoop(func() any {
		w, err := rt.pool.Dispatch(context.Background(), body, *queueName)
		if err != nil {
			logger.Error("dispatch failed", "error", err)
			exitCode = 1
			rt.pool.Shutdown()
			rt.lp.Stop()
			return nil
		}
		w.OnSuccess(func() {
			rt.pool.Shutdown()
			rt.lp.Stop()
		})
		w.OnError(func(code int, diagnostic io.Reader) {
			_, _ = io.Copy(os.Stderr, diagnostic)
			exitCode = code
			rt.pool.Shutdown()
			rt.lp.Stop()
		})
		return nil
	})

	return exitCode
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: warmpool version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("warmpool %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}

	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`warmpool - Warm worker-process pool orchestrator

Usage:
  warmpool <command> [flags]

Commands:
  start     Run the pool service in foreground
  run       Dispatch one payload and exit with the worker's exit code
  version   Show version information
  help      Show this help message

Start Flags:
  --config <path>   Configuration file (default: config.yaml)
  --monitor         Show the live monitoring TUI

Run Flags:
  --config <path>   Configuration file (default: config.yaml)
  --payload <body>  Payload body; stdin is read when omitted
  --queue <name>    Queue name for this dispatch
`)
}
