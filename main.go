package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	// Subcommand routing.
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "init":
			cmdInit()
			return
		case "check":
			cmdCheck(os.Args[2:])
			return
		case "version", "--version":
			fmt.Printf("vitrine %s\n", version)
			return
		case "help", "--help":
			printUsage()
			return
		case "serve":
			os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
		}
	}

	configPath := flag.String("config", "", "config file path")
	flag.Parse()

	path := *configPath
	if path == "" {
		path = findConfigPath()
	}
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	defaultLogger = initLogger(cfg.Logging)
	defer defaultLogger.Close()
	initMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTelemetry, err := initTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logError("telemetry init failed", "error", err)
		os.Exit(1)
	}

	app, err := loadAppConfig(cfg.AppFile)
	if err != nil {
		logError("interface config load failed", "file", cfg.AppFile, "error", err)
		os.Exit(1)
	}
	logInfo("vitrine starting", "version", version, "title", app.Title,
		"functions", len(app.Functions), "auth", cfg.authEnabled())

	auth := newAuthGate(cfg.Auth, cfg.authFn)

	sessions, closeSessions, err := buildSessionStore(cfg, app)
	if err != nil {
		logError("session store init failed", "backend", cfg.Session.backendOrDefault(), "error", err)
		os.Exit(1)
	}

	pipe, err := newExecPipeline(cfg.Pipeline)
	if err != nil {
		logError("pipeline init failed", "error", err)
		os.Exit(1)
	}

	disp := newDispatcher(app, pipe, sessions, cfg.maxConcurrentOrDefault())

	engine, err := buildQueueEngine(cfg)
	if err != nil {
		logError("queue engine init failed", "backend", cfg.Queue.backendOrDefault(), "error", err)
		os.Exit(1)
	}
	worker := newQueueWorker(engine, disp)
	go worker.run(ctx)

	s := newServer(cfg, app, auth, sessions, engine, disp)
	srv := startHTTPServer(s)
	logInfo("vitrine ready", "url", fmt.Sprintf("http://%s/", cfg.listenAddrOrDefault()))

	// Block until SIGINT/SIGTERM, then drain.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logInfo("shutting down", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logWarn("http shutdown", "error", err)
	}
	cancel() // stops the queue worker
	if err := engine.Close(); err != nil {
		logWarn("queue engine close", "error", err)
	}
	if closeSessions != nil {
		if err := closeSessions(); err != nil {
			logWarn("session store close", "error", err)
		}
	}
	shutdownTelemetry()
	logInfo("bye")
}

// buildSessionStore selects the configured session backend. The close
// func is nil for the in-memory store.
func buildSessionStore(cfg *Config, app *AppConfig) (SessionStore, func() error, error) {
	seed := app.statefulDefaults
	switch cfg.Session.backendOrDefault() {
	case "memory":
		return newMemorySessionStore(seed), nil, nil
	case "redis":
		store, err := newRedisSessionStore(cfg.Session.RedisURL, cfg.Session.ttlOrDefault(), seed)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}
}

func buildQueueEngine(cfg *Config) (QueueEngine, error) {
	maxItems := cfg.Queue.maxItemsOrDefault()
	switch cfg.Queue.backendOrDefault() {
	case "memory":
		return newMemoryQueue(maxItems), nil
	case "sqlite":
		db := cfg.Queue.DB
		if db == "" {
			db = "queue.db"
		}
		return newSQLiteQueue(db, maxItems)
	case "redis":
		return newRedisQueue(cfg.Queue.RedisURL, maxItems)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Queue.Backend)
	}
}

// --- Subcommands ---

const sampleConfigJSON = `{
  "listenAddr": ":7860",
  "appFile": "app.json",
  "showError": true,
  "pipeline": {
    "command": "python3",
    "args": ["pipeline.py"],
    "timeout": "120s"
  },
  "logging": {
    "level": "info",
    "format": "text"
  }
}
`

const sampleAppJSON = `{
  "title": "Echo",
  "components": [
    {"id": 1, "type": "textbox", "label": "Input"},
    {"id": 2, "type": "textbox", "label": "Output"}
  ],
  "functions": [
    {"name": "echo", "inputs": [1], "outputs": [2]}
  ]
}
`

// cmdInit writes starter config.json and app.json files. Existing files
// are never overwritten.
func cmdInit() {
	wrote := false
	for _, f := range []struct {
		name, body string
	}{
		{"config.json", sampleConfigJSON},
		{"app.json", sampleAppJSON},
	} {
		if _, err := os.Stat(f.name); err == nil {
			fmt.Printf("  %s already exists, skipping\n", f.name)
			continue
		}
		if err := os.WriteFile(f.name, []byte(f.body), 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: write %s: %v\n", f.name, err)
			os.Exit(1)
		}
		fmt.Printf("  wrote %s\n", f.name)
		wrote = true
	}
	if wrote {
		fmt.Println("Edit config.json to point at your pipeline, then run: vitrine serve")
	}
}

// cmdCheck validates the config and interface document without starting
// the server.
func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	path := *configPath
	if path == "" {
		path = findConfigPath()
	}
	cfg, err := loadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	app, err := loadAppConfig(cfg.AppFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("OK: %s (%d components, %d functions)\n", path, len(app.Components), len(app.Functions))
}

func printUsage() {
	fmt.Println(`vitrine - serve a processing pipeline behind a web interface

Usage:
  vitrine [serve] [-config path]   start the server (default)
  vitrine init                     write starter config.json and app.json
  vitrine check [-config path]     validate config and interface document
  vitrine version                  print version`)
}
