package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"calen/internal/config"
	appLog "calen/internal/log"
	"calen/internal/store"
	"calen/internal/store/sqlite"
)

const version = "0.3.0"

// globalFlags are accepted before the subcommand name.
type globalFlags struct {
	configPath string
	dbPath     string
	logLevel   string
}

type app struct {
	cfg        *config.Config
	configPath string
	stdout     io.Writer
	stderr     io.Writer
}

type commandFunc func(ctx context.Context, a *app, args []string) error

var commands = map[string]commandFunc{
	"shell":         runShell,
	"serve":         runServe,
	"init":          runInit,
	"add":           runAdd,
	"list":          runList,
	"day":           runDay,
	"remove":        runRemove,
	"export":        runExport,
	"import":        runImport,
	"sync":          runSync,
	"snapshot":      runSnapshot,
	"hash-password": runHashPassword,
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var gf globalFlags
	fs := flag.NewFlagSet("calen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&gf.configPath, "config", config.DefaultPath(), "Path to config file")
	fs.StringVar(&gf.dbPath, "db", "", "SQLite database path (overrides config)")
	fs.StringVar(&gf.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	fs.Usage = func() { usage(fs, stderr) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	name, rest := "shell", fs.Args()
	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "calen: unknown command %q\n\n", name)
		usage(fs, stderr)
		return 2
	}

	// hash-password must not create a config file as a side effect.
	a := &app{configPath: gf.configPath, stdout: stdout, stderr: stderr}
	if name != "hash-password" {
		cfg, err := config.Load(gf.configPath)
		if err != nil {
			fmt.Fprintf(stderr, "calen: load config %s: %v\n", gf.configPath, err)
			return 1
		}
		if gf.dbPath != "" {
			cfg.DBPath = gf.dbPath
		}
		if gf.logLevel != "" {
			cfg.LogLevel = gf.logLevel
		}
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
		a.cfg = cfg
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, a, rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		if errors.Is(err, context.Canceled) {
			appLog.Info("interrupted")
			return 130
		}
		fmt.Fprintf(stderr, "calen %s: %v\n", name, err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, "Usage: calen [global flags] <command> [flags]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  shell          interactive month/day shell (default)\n")
	fmt.Fprintf(w, "  serve          HTTP month/day pages and JSON API\n")
	fmt.Fprintf(w, "  init           create the config file and the Events table\n")
	fmt.Fprintf(w, "  add            add one event\n")
	fmt.Fprintf(w, "  list           list all events\n")
	fmt.Fprintf(w, "  day            list the events of one day\n")
	fmt.Fprintf(w, "  remove         remove events by exact name or by id\n")
	fmt.Fprintf(w, "  export         write all events as iCalendar\n")
	fmt.Fprintf(w, "  import         import an .ics file\n")
	fmt.Fprintf(w, "  sync           import configured feeds once\n")
	fmt.Fprintf(w, "  snapshot       render a month page to PNG\n")
	fmt.Fprintf(w, "  hash-password  print an Argon2id hash for basic_auth\n\n")
	fmt.Fprintf(w, "Global flags:\n")
	fs.PrintDefaults()
	fmt.Fprintf(w, "\ncalen %s\n", version)
}

// openStore opens the configured database wrapped with metrics.
// Callers must Close it.
func (a *app) openStore(ctx context.Context) (store.FeedStore, error) {
	st, err := sqlite.Open(ctx, a.cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", a.cfg.DBPath, err)
	}
	appLog.Debug("store opened", "path", st.Path())
	return store.WithMetrics(st), nil
}
