package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"calen/internal/auth"
	"calen/internal/calendar"
	"calen/internal/capture"
	"calen/internal/feedsync"
	"calen/internal/ics"
	appLog "calen/internal/log"
	"calen/internal/model"
	"calen/internal/shell"
	"calen/internal/store"
	"calen/internal/web"
)

func (a *app) flagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: calen %s %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func runShell(ctx context.Context, a *app, args []string) error {
	if err := a.flagSet("shell", "").Parse(args); err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	console, err := shell.OpenConsole(os.Stdin, a.stdout)
	if err != nil {
		return err
	}
	defer console.Close()

	sh := shell.New(st, console.In, console.Out, shell.Options{
		Location:  a.cfg.Location(),
		WeekStart: calendar.WeekStartFromString(a.cfg.WeekStart),
	})
	return sh.Run(ctx)
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("serve", "[-listen addr] [-no-sync]")
	listen := fs.String("listen", "", "HTTP listen address (overrides config)")
	noSync := fs.Bool("no-sync", false, "Do not run scheduled feed imports")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *listen != "" {
		a.cfg.Listen = *listen
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	syncer, err := a.newSyncer(st)
	if err != nil {
		return err
	}

	appLog.Info("effective config",
		"listen", a.cfg.Listen,
		"db", a.cfg.DBPath,
		"timezone", a.cfg.Timezone,
		"week_start", a.cfg.WeekStart,
		"feeds", len(a.cfg.Feeds),
		"sync", a.cfg.SyncCron,
		"auth", a.cfg.AuthEnabled(),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg      sync.WaitGroup
		syncErr error
	)
	if syncer != nil && !*noSync {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := syncer.Run(ctx, a.cfg.SyncCron); err != nil {
				appLog.Error("feed scheduler stopped", err)
				syncErr = err
				cancel()
			}
		}()
	}

	err = web.NewServer(a.cfg, st, syncer).ListenAndServe(ctx)
	cancel()
	wg.Wait()
	if syncErr != nil {
		return fmt.Errorf("feed scheduler: %w", syncErr)
	}
	return err
}

func runInit(ctx context.Context, a *app, args []string) error {
	if err := a.flagSet("init", "").Parse(args); err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(a.stdout, "config:   %s\ndatabase: %s\n", a.configPath, a.cfg.DBPath)
	return nil
}

func runAdd(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("add", "-name NAME -date 'dd-MM-yyyy HH:mm' [-rigidity Rigid|Dynamic] [-location TEXT]")
	name := fs.String("name", "", "Event name")
	date := fs.String("date", "", "dd-MM-yyyy HH:mm or dd-MM-yyyy")
	rigidity := fs.String("rigidity", string(model.RigidityRigid), "Rigid or Dynamic")
	location := fs.String("location", "", "Optional location")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resolved, err := model.ResolveDate(*date, "", a.cfg.Location())
	if err != nil {
		return err
	}
	r, err := model.ParseRigidity(*rigidity)
	if err != nil {
		return err
	}
	ev := model.Event{Name: strings.TrimSpace(*name), Date: resolved, Rigidity: r, Location: strings.TrimSpace(*location)}
	if err := ev.Validate(); err != nil {
		return err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.Insert(ctx, ev)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "added #%d %s on %s\n", id, ev.Name, ev.Date)
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	if err := a.flagSet("list", "").Parse(args); err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ListAll(ctx)
	if err != nil {
		return err
	}
	printEvents(a.stdout, events)
	return nil
}

func runDay(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("day", "dd-MM-yyyy")
	if err := fs.Parse(args); err != nil {
		return err
	}
	day := model.FormatDay(time.Now().In(a.cfg.Location()))
	if fs.NArg() > 0 {
		t, err := calendar.ParseDay(fs.Arg(0))
		if err != nil {
			return err
		}
		day = model.FormatDay(t)
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ListByDay(ctx, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s\n", day)
	printEvents(a.stdout, events)
	return nil
}

func runRemove(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("remove", "-name NAME | -id ID")
	name := fs.String("name", "", "Remove every event with this exact name")
	id := fs.Int64("id", 0, "Remove the event with this id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*name == "") == (*id == 0) {
		fs.Usage()
		return errors.New("exactly one of -name or -id is required")
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if *id != 0 {
		if err := st.DeleteByID(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "removed #%d\n", *id)
		return nil
	}
	n, err := st.DeleteByName(ctx, *name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "removed %d event(s) named %q\n", n, *name)
	return nil
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("export", "[-o file.ics]")
	out := fs.String("o", "-", "Output file, - for stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.ListAll(ctx)
	if err != nil {
		return err
	}

	opts := ics.ExportOptions{Location: a.cfg.Location(), Name: "Calen"}
	var n int
	if *out == "-" {
		n, err = ics.Export(a.stdout, events, opts)
	} else {
		n, err = exportFile(*out, events, opts)
	}
	if err != nil {
		return err
	}
	appLog.Info("export written", "events", n, "skipped", len(events)-n, "output", *out)
	return nil
}

func exportFile(path string, events []model.Event, opts ics.ExportOptions) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := ics.Export(f, events, opts)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", path, cerr)
	}
	return n, err
}

func runImport(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("import", "[-rigidity Rigid|Dynamic] [-from dd-MM-yyyy] [-to dd-MM-yyyy] file.ics|URL")
	rigidity := fs.String("rigidity", string(model.RigidityRigid), "Rigidity of events that carry none")
	from := fs.String("from", "", "First day to import (default: every single event, recurrences from backfill)")
	to := fs.String("to", "", "Last day to import (default: every single event, recurrences up to the horizon)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("one .ics file or URL is required")
	}
	r, err := model.ParseRigidity(*rigidity)
	if err != nil {
		return err
	}
	// Without bounds a one-shot import keeps every single event; only
	// recurrences need a window.
	opts := feedsync.Options{KeepSingles: *from == "" && *to == ""}
	if *from != "" {
		if opts.From, err = parseDayIn(*from, a.cfg.Location()); err != nil {
			return err
		}
	}
	if *to != "" {
		if opts.To, err = parseDayIn(*to, a.cfg.Location()); err != nil {
			return err
		}
		opts.To = opts.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	src := fs.Arg(0)
	feed := feedsync.Feed{
		Source:   ics.Source{ID: "import:" + filepath.Base(src), URL: src},
		Rigidity: r,
	}
	return a.syncAndReport(ctx, a.syncerFor(st, []feedsync.Feed{feed}, opts))
}

func parseDayIn(s string, loc *time.Location) (time.Time, error) {
	t, err := calendar.ParseDay(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc), nil
}

func runSync(ctx context.Context, a *app, args []string) error {
	if err := a.flagSet("sync", "").Parse(args); err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	syncer, err := a.newSyncer(st)
	if err != nil {
		return err
	}
	if syncer == nil {
		fmt.Fprintln(a.stdout, "no feeds configured")
		return nil
	}
	return a.syncAndReport(ctx, syncer)
}

func (a *app) syncAndReport(ctx context.Context, syncer *feedsync.Syncer) error {
	report, err := syncer.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "imported %d, already present %d\n", report.Imported, report.Skipped)
	for _, e := range report.Errors {
		fmt.Fprintf(a.stdout, "  failed: %v\n", e)
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("%d feed(s) failed", len(report.Errors))
	}
	return nil
}

// newSyncer returns nil when no feeds are configured.
func (a *app) newSyncer(st store.FeedStore) (*feedsync.Syncer, error) {
	if len(a.cfg.Feeds) == 0 {
		return nil, nil
	}
	feeds, err := feedsync.FeedsFromConfig(a.cfg.Feeds)
	if err != nil {
		return nil, err
	}
	return a.syncerFor(st, feeds, feedsync.Options{}), nil
}

// syncerFor fills the window and zone of opts from config.
func (a *app) syncerFor(st store.FeedStore, feeds []feedsync.Feed, opts feedsync.Options) *feedsync.Syncer {
	opts.Location = a.cfg.Location()
	opts.HorizonDays = a.cfg.HorizonDays
	opts.BackfillDays = a.cfg.BackfillDays
	return feedsync.New(st, ics.NewFetcher(a.cfg.CacheDir), feeds, opts)
}

func runSnapshot(ctx context.Context, a *app, args []string) error {
	fs := a.flagSet("snapshot", "[-month MM-yyyy] [-o file.png]")
	month := fs.String("month", "", "Month to render (default: current)")
	out := fs.String("o", a.cfg.Snapshot.Output, "Output PNG path")
	width := fs.Int("width", a.cfg.Snapshot.Width, "Viewport width")
	height := fs.Int("height", a.cfg.Snapshot.Height, "Viewport height")
	if err := fs.Parse(args); err != nil {
		return err
	}

	path := "/"
	if *month != "" {
		if _, _, err := calendar.ParseMonth(*month); err != nil {
			return err
		}
		path = "/?month=" + *month
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	// The loopback server is private to this process; no auth.
	cfg := *a.cfg
	cfg.BasicAuth.Username, cfg.BasicAuth.PasswordHash = "", ""
	srv := web.NewServer(&cfg, st, nil)

	return capture.CaptureHandler(ctx, srv.Handler(), path, capture.Options{
		OutputPath: *out,
		Width:      *width,
		Height:     *height,
	})
}

func runHashPassword(_ context.Context, a *app, args []string) error {
	fs := a.flagSet("hash-password", "[-user NAME]")
	user := fs.String("user", "", "Username to print in the config snippet")
	if err := fs.Parse(args); err != nil {
		return err
	}

	password, err := readPassword(a.stderr)
	if err != nil {
		return err
	}
	if password == "" {
		return errors.New("password cannot be empty")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}

	if *user == "" {
		fmt.Fprintln(a.stdout, hash)
		return nil
	}
	fmt.Fprintf(a.stdout, "basic_auth:\n  username: %s\n  password_hash: '%s'\n", *user, hash)
	return nil
}

// readPassword prompts twice on a terminal and reads one line otherwise.
func readPassword(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(prompt, "Enter password:   ")
	first, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	fmt.Fprint(prompt, "Confirm password: ")
	second, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func printEvents(w io.Writer, events []model.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no events")
		return
	}
	for _, ev := range events {
		line := fmt.Sprintf("#%-4d %-16s %s [%s]", ev.ID, ev.Date, ev.Name, ev.Rigidity)
		if ev.Location != "" {
			line += " @ " + ev.Location
		}
		fmt.Fprintln(w, line)
	}
}
