// Package shell is the interactive terminal front end: a month view, a
// selected day with its events, and prompts to add or remove events.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"calen/internal/calendar"
	appLog "calen/internal/log"
	"calen/internal/model"
	"calen/internal/store"
)

const prompt = "calen> "

// Options configures a Shell.
type Options struct {
	Location  *time.Location
	WeekStart time.Weekday
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Shell runs the command loop against a store.
type Shell struct {
	store store.Store
	in    LineReader
	out   io.Writer
	loc   *time.Location

	grid calendar.Grid
	day  string // selected dd-MM-yyyy key
}

// New creates a shell positioned on today's month and day.
func New(s store.Store, in LineReader, out io.Writer, opts Options) *Shell {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	today := opts.Now().In(opts.Location)
	return &Shell{
		store: s,
		in:    in,
		out:   out,
		loc:   opts.Location,
		grid:  calendar.Month(today.Year(), today.Month(), opts.WeekStart),
		day:   model.FormatDay(today),
	}
}

type command struct {
	usage string
	help  string
	run   func(sh *Shell, ctx context.Context, arg string) error
}

var commands map[string]command

var commandOrder = []string{"month", "next", "prev", "day", "list", "add", "remove", "remove-id", "help", "quit"}

func init() {
	commands = map[string]command{
		"month":     {"month [MM-yyyy]", "show a month (current view if omitted)", (*Shell).cmdMonth},
		"next":      {"next", "show the next month", (*Shell).cmdNext},
		"prev":      {"prev", "show the previous month", (*Shell).cmdPrev},
		"day":       {"day [dd-MM-yyyy]", "select a day and list its events", (*Shell).cmdDay},
		"list":      {"list", "list every event", (*Shell).cmdList},
		"add":       {"add", "add an event on the selected day", (*Shell).cmdAdd},
		"remove":    {"remove <name>", "remove every event with this exact name", (*Shell).cmdRemove},
		"remove-id": {"remove-id <id>", "remove one event by id", (*Shell).cmdRemoveID},
		"help":      {"help", "show this help", (*Shell).cmdHelp},
		"quit":      {"quit", "leave the shell", nil},
	}
}

// Run reads commands until quit, EOF or ctx is done.
func (sh *Shell) Run(ctx context.Context) error {
	sh.printf("Calen. Type 'help' for commands.\n\n")
	if err := sh.cmdMonth(ctx, ""); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		sh.in.SetPrompt(prompt)
		line, err := sh.in.ReadLine()
		if errors.Is(err, io.EOF) {
			sh.printf("\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("read command: %w", err)
		}

		name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		if name == "" {
			continue
		}
		name = strings.ToLower(name)
		if name == "quit" || name == "exit" {
			return nil
		}

		cmd, ok := commands[name]
		if !ok {
			sh.printf("unknown command %q; type 'help'\n", name)
			continue
		}
		if err := cmd.run(sh, ctx, strings.TrimSpace(arg)); err != nil {
			if errors.Is(err, io.EOF) {
				sh.printf("\n")
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			appLog.Error("shell command failed", err, "command", name)
			sh.printf("error: %v\n", err)
		}
	}
}

func (sh *Shell) printf(format string, args ...any) {
	fmt.Fprintf(sh.out, format, args...)
}

func (sh *Shell) cmdHelp(_ context.Context, _ string) error {
	for _, name := range commandOrder {
		c := commands[name]
		sh.printf("  %-18s %s\n", c.usage, c.help)
	}
	return nil
}

func (sh *Shell) cmdMonth(ctx context.Context, arg string) error {
	if arg != "" {
		year, month, err := calendar.ParseMonth(arg)
		if err != nil {
			sh.printf("%v\n", err)
			return nil
		}
		sh.grid = calendar.Month(year, month, sh.grid.Weekdays()[0])
	}
	return sh.renderMonth(ctx)
}

func (sh *Shell) cmdNext(ctx context.Context, _ string) error {
	sh.grid = sh.grid.Next()
	return sh.renderMonth(ctx)
}

func (sh *Shell) cmdPrev(ctx context.Context, _ string) error {
	sh.grid = sh.grid.Prev()
	return sh.renderMonth(ctx)
}

func (sh *Shell) renderMonth(ctx context.Context) error {
	events, err := sh.store.ListAll(ctx)
	if err != nil {
		return err
	}
	counts := sh.grid.Count(events)

	sh.printf("%s\n", centered(sh.grid.Title(), 7*5))
	for _, wd := range sh.grid.Weekdays() {
		sh.printf("  %s ", wd.String()[:2])
	}
	sh.printf("\n")
	for _, week := range sh.grid.Weeks {
		for _, d := range week {
			if !d.InMonth {
				sh.printf("     ")
				continue
			}
			mark := " "
			switch {
			case d.Key == sh.day:
				mark = "<"
			case counts[d.Key] > 0:
				mark = "*"
			}
			sh.printf(" %3d%s", d.Date.Day(), mark)
		}
		sh.printf("\n")
	}
	sh.printf("selected %s (* has events)\n", sh.day)
	return nil
}

func (sh *Shell) cmdDay(ctx context.Context, arg string) error {
	if arg != "" {
		t, err := calendar.ParseDay(arg)
		if err != nil {
			sh.printf("%v\n", err)
			return nil
		}
		sh.day = model.FormatDay(t)
		if t.Year() != sh.grid.Year || t.Month() != sh.grid.Month {
			sh.grid = calendar.Month(t.Year(), t.Month(), sh.grid.Weekdays()[0])
		}
	}
	events, err := sh.store.ListByDay(ctx, sh.day)
	if err != nil {
		return err
	}
	sh.printf("%s: %s\n", sh.day, plural(len(events), "event"))
	sh.printEvents(events)
	return nil
}

func (sh *Shell) cmdList(ctx context.Context, _ string) error {
	events, err := sh.store.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		sh.printf("no events\n")
		return nil
	}
	sh.printEvents(events)
	return nil
}

func (sh *Shell) printEvents(events []model.Event) {
	for _, ev := range events {
		line := fmt.Sprintf("  #%-4d %-16s %s [%s]", ev.ID, ev.Date, ev.Name, ev.Rigidity)
		if ev.Location != "" {
			line += " @ " + ev.Location
		}
		sh.printf("%s\n", line)
	}
}

// cmdAdd prompts for each field. Invalid answers are reported and the event
// is discarded; nothing reaches the store unless every field validates.
func (sh *Shell) cmdAdd(ctx context.Context, _ string) error {
	name, err := sh.ask("Name: ")
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		sh.printf("name is required; event not added\n")
		return nil
	}

	dateAnswer, err := sh.ask(fmt.Sprintf("Date [dd-MM-yyyy HH:mm or HH:mm] (%s %s): ", sh.day, model.DefaultTime))
	if err != nil {
		return err
	}
	date, err := model.ResolveDate(dateAnswer, sh.day, sh.loc)
	if err != nil {
		sh.printf("date must be dd-MM-yyyy HH:mm, dd-MM-yyyy or HH:mm; event not added\n")
		return nil
	}

	rigAnswer, err := sh.ask("Rigidity [Rigid/Dynamic] (Rigid): ")
	if err != nil {
		return err
	}
	rigidity, err := model.ParseRigidity(rigAnswer)
	if err != nil {
		sh.printf("rigidity must be Rigid or Dynamic; event not added\n")
		return nil
	}

	location, err := sh.ask("Location (optional): ")
	if err != nil {
		return err
	}

	ev := model.Event{
		Name:     strings.TrimSpace(name),
		Date:     date,
		Rigidity: rigidity,
		Location: strings.TrimSpace(location),
	}
	if err := ev.Validate(); err != nil {
		sh.printf("%v; event not added\n", err)
		return nil
	}
	id, err := sh.store.Insert(ctx, ev)
	if err != nil {
		return err
	}
	sh.printf("added #%d %s on %s\n", id, ev.Name, ev.Date)
	return nil
}

func (sh *Shell) ask(question string) (string, error) {
	sh.in.SetPrompt(question)
	return sh.in.ReadLine()
}

func (sh *Shell) cmdRemove(ctx context.Context, name string) error {
	if name == "" {
		sh.printf("usage: remove <name>\n")
		return nil
	}
	n, err := sh.store.DeleteByName(ctx, name)
	if err != nil {
		return err
	}
	sh.printf("removed %s named %q\n", plural(int(n), "event"), name)
	return nil
}

func (sh *Shell) cmdRemoveID(ctx context.Context, arg string) error {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		sh.printf("usage: remove-id <id>\n")
		return nil
	}
	err = sh.store.DeleteByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		sh.printf("no event #%d\n", id)
		return nil
	}
	if err != nil {
		return err
	}
	sh.printf("removed #%d\n", id)
	return nil
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

func centered(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", (width-len(s))/2) + s
}
