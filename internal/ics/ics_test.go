package ics

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"calen/internal/model"
)

const weeklyFeed = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART:20250106T090000Z\r\n" +
	"DTEND:20250106T091500Z\r\n" +
	"RRULE:FREQ=WEEKLY;COUNT=4\r\n" +
	"EXDATE:20250113T090000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"LOCATION:Room 4\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"RECURRENCE-ID:20250120T090000Z\r\n" +
	"DTSTART:20250120T110000Z\r\n" +
	"DTEND:20250120T111500Z\r\n" +
	"SUMMARY:Standup (moved)\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday@example.com\r\n" +
	"DTSTAMP:20250101T000000Z\r\n" +
	"DTSTART;VALUE=DATE:20250101\r\n" +
	"SUMMARY:New Year\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseAndExpand(t *testing.T) {
	src := Source{ID: "work", URL: "work.ics"}
	events, err := ParseICS(src, []byte(weeklyFeed))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("parsed %d events, want 3", len(events))
	}

	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	var got []string
	for _, occ := range res.Occurrences {
		ev := occ.Event(model.RigidityRigid)
		got = append(got, ev.Name+"|"+ev.Date)
		if occ.SourceID != "work" {
			t.Fatalf("source = %q, want work", occ.SourceID)
		}
	}
	want := []string{
		"Standup|06-01-2025 09:00",
		// 13-01 excluded by EXDATE, 20-01 replaced by the override.
		"Standup (moved)|20-01-2025 11:00",
		"Standup|27-01-2025 09:00",
		"New Year|01-01-2025",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("occurrences = %v, want %v", got, want)
	}
}

func TestExpandKeysOverridesByRecurrenceID(t *testing.T) {
	src := Source{ID: "work"}
	events, err := ParseICS(src, []byte(weeklyFeed))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2025, time.January, 19, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, time.January, 21, 0, 0, 0, 0, time.UTC),
	}
	first, err := ExpandOccurrences(events, cfg)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}

	// Move the override again, as a later SEQUENCE of the same instance.
	moved := strings.Replace(weeklyFeed,
		"DTSTART:20250120T110000Z\r\nDTEND:20250120T111500Z\r\n",
		"SEQUENCE:2\r\nDTSTART:20250120T150000Z\r\nDTEND:20250120T151500Z\r\n", 1)
	events, err = ParseICS(src, []byte(moved))
	if err != nil {
		t.Fatalf("parse moved: %v", err)
	}
	second, err := ExpandOccurrences(events, cfg)
	if err != nil {
		t.Fatalf("expand moved: %v", err)
	}

	if len(first.Occurrences) != 1 || len(second.Occurrences) != 1 {
		t.Fatalf("occurrences = %d / %d, want 1 / 1", len(first.Occurrences), len(second.Occurrences))
	}
	a, b := first.Occurrences[0], second.Occurrences[0]
	if b.Start.Hour() != 15 {
		t.Fatalf("moved start = %v", b.Start)
	}
	want := "standup@example.com@2025-01-20T09:00:00Z"
	if a.InstanceKey != want || b.InstanceKey != want {
		t.Fatalf("keys = %q / %q, want %q", a.InstanceKey, b.InstanceKey, want)
	}
}

func TestExpandPrefersHighestSequence(t *testing.T) {
	start := time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC)
	events := []ParsedEvent{
		{UID: "dentist", Seq: 1, Summary: "Dentist (old)", Start: start, End: start.Add(time.Hour)},
		{UID: "dentist", Seq: 3, Summary: "Dentist", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)},
		{UID: "dentist", Seq: 2, Summary: "Dentist (stale)", Start: start, End: start.Add(time.Hour)},
	}
	res, err := ExpandOccurrences(events, ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      start.AddDate(0, 0, -1),
		RangeEnd:        start.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Occurrences) != 1 || res.Occurrences[0].Summary != "Dentist" {
		t.Fatalf("occurrences = %+v", res.Occurrences)
	}
}

func TestExpandKeepSingles(t *testing.T) {
	old := time.Date(2019, time.May, 1, 9, 0, 0, 0, time.UTC)
	events := []ParsedEvent{{UID: "old", Summary: "Old", Start: old, End: old.Add(time.Hour)}}
	cfg := ExpandConfig{
		DisplayLocation: time.UTC,
		RangeStart:      time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		RangeEnd:        time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC),
	}
	res, err := ExpandOccurrences(events, cfg)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Occurrences) != 0 {
		t.Fatalf("windowed occurrences = %d, want 0", len(res.Occurrences))
	}

	cfg.KeepSingles = true
	res, err = ExpandOccurrences(events, cfg)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Occurrences) != 1 {
		t.Fatalf("occurrences = %d, want 1", len(res.Occurrences))
	}
}

func TestExpandRejectsInvertedRange(t *testing.T) {
	now := time.Now()
	if _, err := ExpandOccurrences(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)}); err == nil {
		t.Fatal("expected error")
	}
}

func TestExpandCapsOpenEndedRules(t *testing.T) {
	start := time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC)
	ev := ParsedEvent{UID: "daily", Summary: "Pills", Start: start, End: start.Add(time.Minute), RawRRule: "FREQ=DAILY"}
	res, err := ExpandOccurrences([]ParsedEvent{ev}, ExpandConfig{
		DisplayLocation:        time.UTC,
		RangeStart:             start,
		RangeEnd:               start.AddDate(1, 0, 0),
		MaxOccurrencesPerEvent: 10,
	})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(res.Occurrences) != 10 {
		t.Fatalf("occurrences = %d, want 10", len(res.Occurrences))
	}
	if len(res.TruncatedEvents) != 1 || res.TruncatedEvents[0] != "daily" {
		t.Fatalf("truncated = %v", res.TruncatedEvents)
	}
}

func TestExportParsesBack(t *testing.T) {
	events := []model.Event{
		{ID: 1, Name: "Dentist", Date: "05-03-2025 09:00", Rigidity: model.RigidityRigid, Location: "Main St Clinic"},
		{ID: 2, Name: "Birthday", Date: "06-03-2025", Rigidity: model.RigidityDynamic},
		{ID: 3, Name: "Legacy", Date: "sometime soon", Rigidity: model.RigidityRigid},
	}

	var buf bytes.Buffer
	n, err := Export(&buf, events, ExportOptions{Location: time.UTC, Name: "Calen"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 2 {
		t.Fatalf("written = %d, want 2", n)
	}

	parsed, err := ParseICS(Source{ID: "self"}, buf.Bytes())
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(parsed) != 2 {
		t.Fatalf("parsed %d events, want 2", len(parsed))
	}

	dentist := parsed[0]
	if dentist.UID != EventUID(1) {
		t.Fatalf("uid = %q, want %q", dentist.UID, EventUID(1))
	}
	if dentist.Summary != "Dentist" || dentist.Location != "Main St Clinic" || dentist.Rigidity != "Rigid" {
		t.Fatalf("dentist = %+v", dentist)
	}
	wantStart := time.Date(2025, time.March, 5, 9, 0, 0, 0, time.UTC)
	if !dentist.Start.Equal(wantStart) || dentist.End.Sub(dentist.Start) != time.Hour {
		t.Fatalf("dentist start/end = %v/%v", dentist.Start, dentist.End)
	}
	if !parsed[1].AllDay {
		t.Fatal("day-only event should export as all-day")
	}
}

func TestEventUIDIsStable(t *testing.T) {
	if EventUID(42) != EventUID(42) {
		t.Fatal("uid not stable")
	}
	if EventUID(42) == EventUID(43) {
		t.Fatal("uids collide")
	}
}

func TestFetchLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed.ics")
	if err := os.WriteFile(path, []byte(weeklyFeed), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	f := NewFetcher(t.TempDir())
	for _, u := range []string{path, "file://" + path} {
		res, err := f.FetchOne(context.Background(), Source{ID: "local", URL: u})
		if err != nil {
			t.Fatalf("fetch %q: %v", u, err)
		}
		if !bytes.Equal(res.Body, []byte(weeklyFeed)) {
			t.Fatalf("body mismatch for %q", u)
		}
	}
}

func TestFetchRevalidatesWithETag(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(weeklyFeed))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	src := Source{ID: "remote", URL: srv.URL + "/cal.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if first.FromCache {
		t.Fatal("first fetch should not come from cache")
	}

	second, err := f.FetchOne(context.Background(), src)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if !second.FromCache || !bytes.Equal(second.Body, first.Body) {
		t.Fatalf("second fetch fromCache=%v, want cached body", second.FromCache)
	}
	if hits.Load() != 2 {
		t.Fatalf("hits = %d, want 2", hits.Load())
	}
}

func TestFetchFailsWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir())
	for _, src := range []Source{
		{ID: "broken", URL: srv.URL},
		{ID: "missing", URL: filepath.Join(t.TempDir(), "nope.ics")},
	} {
		if _, err := f.FetchOne(context.Background(), src); err == nil {
			t.Fatalf("fetch %s: expected error", src.ID)
		}
	}
}

func TestRedactURL(t *testing.T) {
	if got := redactURL("https://example.com/private/cal.ics?token=abc"); got != "https://example.com/...(redacted)" {
		t.Fatalf("redactURL = %q", got)
	}
}
