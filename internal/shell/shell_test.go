package shell

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"calen/internal/model"
	"calen/internal/store/sqlite"
)

func openTempStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "calen.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// runScript feeds lines to a shell positioned on 05-03-2025 and returns
// everything it printed.
func runScript(t *testing.T, st *sqlite.Store, lines ...string) string {
	t.Helper()
	var out bytes.Buffer
	in := NewScanner(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	sh := New(st, in, &out, Options{
		Location:  time.UTC,
		WeekStart: time.Monday,
		Now:       func() time.Time { return time.Date(2025, time.March, 5, 8, 0, 0, 0, time.UTC) },
	})
	if err := sh.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String()
}

func TestAddUsesSelectedDayPreset(t *testing.T) {
	st := openTempStore(t)
	out := runScript(t, st,
		"add", "Dentist", "", "rigid", "Main St Clinic",
		"add", "Gym", "18:30", "Dynamic", "",
		"day",
		"quit",
	)

	events, err := st.ListByDay(context.Background(), "05-03-2025")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2\n%s", len(events), out)
	}
	want := model.Event{ID: events[0].ID, Name: "Dentist", Date: "05-03-2025 09:00", Rigidity: model.RigidityRigid, Location: "Main St Clinic"}
	if events[0] != want {
		t.Fatalf("first = %+v, want %+v", events[0], want)
	}
	if events[1].Date != "05-03-2025 18:30" || events[1].Rigidity != model.RigidityDynamic {
		t.Fatalf("second = %+v", events[1])
	}
	if !strings.Contains(out, "05-03-2025: 2 events") {
		t.Fatalf("day output missing:\n%s", out)
	}
}

func TestInvalidInputNeverReachesStore(t *testing.T) {
	st := openTempStore(t)
	out := runScript(t, st,
		"add", "   ",
		"add", "Party", "someday",
		"add", "Party", "", "flexible",
		"day 31-02-2025",
		"month 2025-03",
		"remove-id abc",
		"remove",
		"bogus",
	)

	events, err := st.ListAll(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %+v, want none", events)
	}
	for _, msg := range []string{
		"name is required",
		"date must be",
		"rigidity must be Rigid or Dynamic",
		"day must be dd-MM-yyyy",
		"month must be MM-yyyy",
		"usage: remove-id <id>",
		"usage: remove <name>",
		`unknown command "bogus"`,
	} {
		if !strings.Contains(out, msg) {
			t.Fatalf("output missing %q:\n%s", msg, out)
		}
	}
}

func TestRemoveByNameAndID(t *testing.T) {
	st := openTempStore(t)
	ctx := context.Background()
	for _, ev := range []model.Event{
		{Name: "Yoga", Date: "05-03-2025 18:00", Rigidity: model.RigidityDynamic},
		{Name: "Yoga", Date: "06-03-2025 18:00", Rigidity: model.RigidityDynamic},
		{Name: "Team sync", Date: "05-03-2025 10:00", Rigidity: model.RigidityRigid},
	} {
		if _, err := st.Insert(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	out := runScript(t, st, "remove Yoga", "remove-id 3", "remove-id 3")
	if !strings.Contains(out, `removed 2 events named "Yoga"`) {
		t.Fatalf("remove output:\n%s", out)
	}
	if !strings.Contains(out, "removed #3") || !strings.Contains(out, "no event #3") {
		t.Fatalf("remove-id output:\n%s", out)
	}

	events, err := st.ListAll(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events left = %+v", events)
	}
}

func TestMonthNavigationMarksEvents(t *testing.T) {
	st := openTempStore(t)
	if _, err := st.Insert(context.Background(), model.Event{Name: "Trip", Date: "10-04-2025", Rigidity: model.RigidityRigid}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	out := runScript(t, st, "next", "prev", "month 12-2024")
	for _, title := range []string{"March 2025", "April 2025", "December 2024"} {
		if !strings.Contains(out, title) {
			t.Fatalf("output missing %q:\n%s", title, out)
		}
	}
	if !strings.Contains(out, " 10*") {
		t.Fatalf("April 10 should be marked:\n%s", out)
	}
	if !strings.Contains(out, "  5<") {
		t.Fatalf("selected day should be marked:\n%s", out)
	}
}

func TestHelpListsCommands(t *testing.T) {
	out := runScript(t, openTempStore(t), "help")
	for _, name := range commandOrder {
		if !strings.Contains(out, name) {
			t.Fatalf("help missing %q", name)
		}
	}
}
