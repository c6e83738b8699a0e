package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Isaries/RCSL-SQL-Client/internal/auditlog"
	"github.com/Isaries/RCSL-SQL-Client/internal/config"
	"github.com/Isaries/RCSL-SQL-Client/internal/lockfile"
	"github.com/Isaries/RCSL-SQL-Client/internal/server"
	"github.com/Isaries/RCSL-SQL-Client/internal/sqlexec"
	"github.com/Isaries/RCSL-SQL-Client/internal/store"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runCmd(os.Args[2:])
	case "version":
		fmt.Printf("rcsl-sql-client %s (%s)\n", Version, Commit)
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `rcsl-sql-client

Usage:
  rcsl-sql-client run [flags]
  rcsl-sql-client version

Commands:
  run         Run the local companion service.
  version     Print build information.

`)
}

func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	settingsPath := fs.String("settings", "", "Service settings file (YAML; default: rcsl.yaml beside the program)")
	port := fs.Int("port", 0, "Listen port (overrides settings)")
	dataDir := fs.String("data-dir", "", "Directory for the local store file (overrides settings)")
	envPath := fs.String("env-file", "", "Credential env file path (default: .env beside the program)")
	logFormat := fs.String("log-format", "", "Log format: json|text (overrides settings)")
	logLevel := fs.String("log-level", "", "Log level: debug|info|warn|error (overrides settings)")

	_ = fs.Parse(args)

	baseDir := programDir()

	sp := strings.TrimSpace(*settingsPath)
	if sp == "" {
		sp = filepath.Join(baseDir, "rcsl.yaml")
	}
	settings, err := config.LoadSettings(sp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load settings: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		settings.ListenPort = *port
	}
	if strings.TrimSpace(*dataDir) != "" {
		settings.DataDir = strings.TrimSpace(*dataDir)
	}
	if strings.TrimSpace(*logFormat) != "" {
		settings.LogFormat = strings.TrimSpace(*logFormat)
	}
	if strings.TrimSpace(*logLevel) != "" {
		settings.LogLevel = strings.TrimSpace(*logLevel)
	}
	if err := settings.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid settings: %v\n", err)
		os.Exit(1)
	}

	dir := settings.DataDir
	if dir == "" || dir == "." {
		dir = baseDir
	}

	logger := buildLogger(settings.LogFormat, settings.LogLevel)

	// One service instance per data dir: the store and env file assume a
	// single local writer.
	lock, err := lockfile.Acquire(filepath.Join(dir, "rcsl-sql-client.lock"))
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			fmt.Fprintln(os.Stderr, "another rcsl-sql-client instance is already running")
		} else {
			fmt.Fprintf(os.Stderr, "failed to acquire lock: %v\n", err)
		}
		os.Exit(1)
	}
	defer func() { _ = lock.Release() }()

	st, err := store.Open(filepath.Join(dir, "local_data.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	ep := strings.TrimSpace(*envPath)
	if ep == "" {
		ep = config.DefaultEnvPath()
	}
	cfg, err := config.NewProvider(ep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init config provider: %v\n", err)
		os.Exit(1)
	}

	executor, err := sqlexec.New(cfg, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init executor: %v\n", err)
		os.Exit(1)
	}

	audit, err := auditlog.New(auditlog.Options{Logger: logger, Dir: filepath.Join(dir, "audit")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init audit log: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(server.Options{
		Logger:   logger,
		Port:     settings.ListenPort,
		Store:    st,
		Config:   cfg,
		Executor: executor,
		Audit:    audit,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init server: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown on SIGINT/SIGTERM.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = srv.Close() }()

	logger.Info("rcsl-sql-client running",
		"version", Version,
		"port", srv.Port(),
		"data_dir", dir,
		"env_file", cfg.Path(),
	)

	<-ctx.Done()
}

// programDir resolves the directory of the running binary; both persisted
// files default to living there so the tool stays portable.
func programDir() string {
	exe, err := os.Executable()
	if err != nil || strings.TrimSpace(exe) == "" {
		return "."
	}
	return filepath.Dir(exe)
}

func buildLogger(format string, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
