package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	prom "github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"github.com/ferdiu/latex-server/internal/api"
	"github.com/ferdiu/latex-server/internal/compiler"
	"github.com/ferdiu/latex-server/internal/config"
	"github.com/ferdiu/latex-server/internal/doctor"
	"github.com/ferdiu/latex-server/internal/events"
	"github.com/ferdiu/latex-server/internal/lock"
	"github.com/ferdiu/latex-server/internal/log"
	"github.com/ferdiu/latex-server/internal/metrics"
	"github.com/ferdiu/latex-server/internal/queue"
	"github.com/ferdiu/latex-server/internal/storage"
	"github.com/ferdiu/latex-server/internal/tui"
	"github.com/ferdiu/latex-server/internal/worker"
	"github.com/ferdiu/latex-server/internal/workspace"
)

const version = "0.2.0"

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "serve":
		os.Exit(runServe(args))
	case "compile":
		os.Exit(runCompile(args))
	case "config":
		os.Exit(runConfigNoun(args))
	case "watch":
		os.Exit(runWatch(args))
	case "version":
		fmt.Printf("latex-server version %s\n", version)
		os.Exit(0)
	case "help", "--help", "-h":
		printUsage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`latex-server - Multi-pass LaTeX compilation service

Usage:
  latex-server <command> [flags]

Commands:
  serve                Start the HTTP compilation service in foreground
  compile <main.tex>   Compile a document locally and write the PDF
  config check         Validate configuration and probe the environment
  config show          Print the effective configuration
  watch                Live terminal monitor for a running server
  version              Show version information
  help                 Show this help message

Use 'latex-server <command> -h' for command-specific flags.
`)
}

func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		path = config.Discover()
	}
	if path == "" {
		return config.Defaults(), "(defaults)", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, usedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("latex-server starting", "version", version, "config", usedPath)

	pidLockPath := filepath.Join(filepath.Dir(cfg.State.Path), "latex-server.pid")
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	wsManager, err := workspace.NewManager(cfg.Compiler.WorkspaceDir)
	if err != nil {
		logger.Error("failed to initialize workspace manager", "base_dir", cfg.Compiler.WorkspaceDir, "error", err)
		return 1
	}

	q := queue.New(db)
	comp := compiler.New(cfg.Compiler, wsManager)
	hub := events.NewHub(256)

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		registry := prom.NewRegistry()
		recorder = metrics.NewPrometheusRecorder(registry)
		metricsHandler = metrics.HTTPHandler(registry)
		logger.Info("metrics enabled", "path", "/metrics")
	}

	pool := worker.NewPool(q, comp, hub, recorder, cfg.Workers.Count, cfg.Workers.PollInterval)

	apiServer := api.New(api.Config{
		Listen:            cfg.Server.Listen,
		APIKey:            cfg.Server.Auth.APIKey,
		Version:           version,
		MaxConcurrentSync: cfg.Server.MaxConcurrentSync,
	}, q, comp, hub, recorder, metricsHandler, log.WithComponent("api"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)
	poolDone := make(chan struct{})

	go func() {
		pool.Run(ctx)
		close(poolDone)
	}()

	go func() {
		if err := apiServer.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("api: %w", err)
		}
	}()

	logger.Info("latex-server running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		exitCode = 1
	}

	<-poolDone
	logger.Info("latex-server stopped")
	return exitCode
}

// runCompile compiles a document locally, without a server. Additional file
// arguments are staged under their path relative to the main file's directory.
func runCompile(args []string) int {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	outPath := fs.String("out", "main.pdf", "Where to write the produced PDF")
	showLog := fs.Bool("log", false, "Print the full compilation log")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: latex-server compile [flags] <main.tex> [extra files...]")
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	log.Setup(cfg.Service.LogLevel)

	mainPath := fs.Arg(0)
	mainContent, err := os.ReadFile(mainPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", mainPath, err)
		return 1
	}

	baseDir := filepath.Dir(mainPath)
	files := make(map[string]compiler.FileEntry)
	for _, extra := range fs.Args()[1:] {
		content, err := os.ReadFile(extra)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", extra, err)
			return 1
		}
		rel, err := filepath.Rel(baseDir, extra)
		if err != nil || workspace.ValidateRelPath(rel) != nil {
			rel = filepath.Base(extra)
		}
		files[rel] = compiler.FileEntry{Content: content}
	}

	wsManager, err := workspace.NewManager(cfg.Compiler.WorkspaceDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize workspace manager: %v\n", err)
		return 1
	}
	comp := compiler.New(cfg.Compiler, wsManager)

	out, err := comp.Compile(context.Background(), uuid.NewString(), compiler.Request{
		Main:  string(mainContent),
		Files: files,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Compilation error: %v\n", err)
		return 1
	}

	if *showLog {
		fmt.Println(out.Log)
	}

	if out.Artifact == nil {
		fmt.Fprintf(os.Stderr, "No PDF was produced after %d pass(es); rerun with -log for details\n", out.EnginePasses)
		return 1
	}

	if err := os.WriteFile(*outPath, out.Artifact, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *outPath, err)
		return 1
	}
	fmt.Printf("Wrote %s (%d bytes, %d pass(es))\n", *outPath, len(out.Artifact), out.EnginePasses)
	return 0
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: latex-server config <check|show> [flags]")
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, usedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}
	fmt.Printf("Config OK: %s\n", usedPath)

	checks := doctor.Run(cfg)
	for _, c := range checks {
		mark := "ok"
		if !c.OK {
			mark = "FAIL"
		}
		fmt.Printf("  [%s] %-18s %s\n", mark, c.Name, c.Detail)
	}
	if !doctor.Healthy(checks) {
		return 1
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	// Never print the real key.
	if cfg.Server.Auth.APIKey != "" {
		cfg.Server.Auth.APIKey = "********"
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render config: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	apiURL := fs.String("url", "http://127.0.0.1:9080", "Base URL of the running server")
	apiKey := fs.String("key", os.Getenv("LATEX_SERVER_API_KEY"), "API key for the server")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	p := tea.NewProgram(tui.NewMonitor(*apiURL, *apiKey), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Monitor error: %v\n", err)
		return 1
	}
	return 0
}
