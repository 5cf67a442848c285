package model

import (
	"errors"
	"testing"
	"time"
)

func TestParseRigidity(t *testing.T) {
	tests := []struct {
		in      string
		want    Rigidity
		wantErr bool
	}{
		{in: "Rigid", want: RigidityRigid},
		{in: "dynamic", want: RigidityDynamic},
		{in: " DYNAMIC ", want: RigidityDynamic},
		{in: "", want: RigidityRigid},
		{in: "flexible", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseRigidity(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("ParseRigidity(%q) err = %v, want ErrInvalidEvent", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRigidity(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseRigidity(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEventValidate(t *testing.T) {
	valid := Event{Name: "Dentist", Date: "05-03-2025 09:00", Rigidity: RigidityRigid}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid event: %v", err)
	}

	tests := map[string]Event{
		"empty name":   {Name: "  ", Date: "05-03-2025", Rigidity: RigidityRigid},
		"empty date":   {Name: "Dentist", Rigidity: RigidityRigid},
		"bad rigidity": {Name: "Dentist", Date: "05-03-2025", Rigidity: "Sometimes"},
	}
	for name, ev := range tests {
		if err := ev.Validate(); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("%s: err = %v, want ErrInvalidEvent", name, err)
		}
	}
}

func TestParseDate(t *testing.T) {
	loc := time.UTC

	got, dayOnly, err := ParseDate("05-03-2025 09:30", loc)
	if err != nil {
		t.Fatalf("parse datetime: %v", err)
	}
	want := time.Date(2025, time.March, 5, 9, 30, 0, 0, loc)
	if !got.Equal(want) || dayOnly {
		t.Fatalf("ParseDate = %v (dayOnly=%v), want %v", got, dayOnly, want)
	}

	got, dayOnly, err = ParseDate("05-03-2025", loc)
	if err != nil {
		t.Fatalf("parse day: %v", err)
	}
	if !dayOnly || got.Day() != 5 || got.Month() != time.March {
		t.Fatalf("ParseDate day = %v (dayOnly=%v)", got, dayOnly)
	}

	if _, _, err := ParseDate("Wed Mar 5 2025", loc); err == nil {
		t.Fatal("expected error for unknown layout")
	}
}

func TestOccurrenceEvent(t *testing.T) {
	start := time.Date(2025, time.January, 1, 14, 0, 0, 0, time.UTC)
	occ := Occurrence{Summary: "Standup", Location: "Room 4", Start: start}
	ev := occ.Event(RigidityDynamic)
	if ev.Date != "01-01-2025 14:00" {
		t.Fatalf("date = %q, want 01-01-2025 14:00", ev.Date)
	}
	if ev.Rigidity != RigidityDynamic || ev.Location != "Room 4" || ev.Name != "Standup" {
		t.Fatalf("event = %+v", ev)
	}

	occ.AllDay = true
	if got := occ.Event(RigidityRigid).Date; got != "01-01-2025" {
		t.Fatalf("all-day date = %q, want 01-01-2025", got)
	}

	occ.Rigidity = RigidityDynamic
	if got := occ.Event(RigidityRigid).Rigidity; got != RigidityDynamic {
		t.Fatalf("rigidity = %q, want the occurrence's own %q", got, RigidityDynamic)
	}
}

func TestResolveDate(t *testing.T) {
	tests := []struct {
		input, day string
		want       string
		wantErr    bool
	}{
		{input: "", day: "05-03-2025", want: "05-03-2025 09:00"},
		{input: "18:30", day: "05-03-2025", want: "05-03-2025 18:30"},
		{input: " 06-03-2025 07:15 ", day: "05-03-2025", want: "06-03-2025 07:15"},
		{input: "06-03-2025", day: "", want: "06-03-2025"},
		{input: "", day: "", wantErr: true},
		{input: "18:30", day: "", wantErr: true},
		{input: "someday", day: "05-03-2025", wantErr: true},
		{input: "2025-03-06", day: "05-03-2025", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ResolveDate(tt.input, tt.day, time.UTC)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ResolveDate(%q, %q) err = %v, wantErr %v", tt.input, tt.day, err, tt.wantErr)
		}
		if err != nil {
			if !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("ResolveDate(%q) err = %v, want ErrInvalidEvent", tt.input, err)
			}
			continue
		}
		if got != tt.want {
			t.Fatalf("ResolveDate(%q, %q) = %q, want %q", tt.input, tt.day, got, tt.want)
		}
	}
}
