package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Layouts of the date strings that cross the store boundary.
const (
	DayLayout      = "02-01-2006"       // dd-MM-yyyy
	DateTimeLayout = "02-01-2006 15:04" // dd-MM-yyyy HH:mm
	ClockLayout    = "15:04"

	// DefaultTime presets new events on a selected day.
	DefaultTime = "09:00"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

// Rigidity classifies how movable an event is. It is descriptive only.
type Rigidity string

const (
	RigidityRigid   Rigidity = "Rigid"
	RigidityDynamic Rigidity = "Dynamic"
)

// Rigidities lists the valid values in form order.
var Rigidities = []Rigidity{RigidityRigid, RigidityDynamic}

// ParseRigidity accepts either value case-insensitively. An empty string
// yields Rigid, the first option of the add form.
func ParseRigidity(s string) (Rigidity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rigid":
		return RigidityRigid, nil
	case "dynamic":
		return RigidityDynamic, nil
	default:
		return "", fmt.Errorf("%w: rigidity must be Rigid or Dynamic, got %q", ErrInvalidEvent, s)
	}
}

// Event is a user-created calendar entry.
//
// Date is free text. New events use DateTimeLayout, but rows written by
// older versions may hold a plain day or anything else.
type Event struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Date     string   `json:"date"`
	Rigidity Rigidity `json:"rigidity"`
	Location string   `json:"location"`
}

// Validate reports the first missing or malformed field.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Date) == "" {
		return fmt.Errorf("%w: date is required", ErrInvalidEvent)
	}
	switch e.Rigidity {
	case RigidityRigid, RigidityDynamic:
	default:
		return fmt.Errorf("%w: rigidity must be Rigid or Dynamic, got %q", ErrInvalidEvent, e.Rigidity)
	}
	return nil
}

// FormatDay renders t as the day key used by day queries.
func FormatDay(t time.Time) string {
	return t.Format(DayLayout)
}

// FormatDateTime renders t in the canonical stored form.
func FormatDateTime(t time.Time) string {
	return t.Format(DateTimeLayout)
}

// ParseDate parses a stored date string in either known layout.
// The bool result is true when the string only carried a day.
func ParseDate(s string, loc *time.Location) (time.Time, bool, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(DateTimeLayout, s, loc); err == nil {
		return t, false, nil
	}
	if t, err := time.ParseInLocation(DayLayout, s, loc); err == nil {
		return t, true, nil
	}
	return time.Time{}, false, fmt.Errorf("unrecognized date %q", s)
}

// ResolveDate normalizes date input from the shells. An empty input
// becomes day at DefaultTime and a bare HH:mm is placed on day. Full
// dd-MM-yyyy HH:mm and dd-MM-yyyy inputs are re-rendered canonically.
// day may be empty when no day is selected.
func ResolveDate(input, day string, loc *time.Location) (string, error) {
	input = strings.TrimSpace(input)
	day = strings.TrimSpace(day)
	switch {
	case input == "" && day == "":
		return "", fmt.Errorf("%w: date is required", ErrInvalidEvent)
	case input == "":
		input = day + " " + DefaultTime
	}
	if _, err := time.Parse(ClockLayout, input); err == nil {
		if day == "" {
			return "", fmt.Errorf("%w: time %q needs a day", ErrInvalidEvent, input)
		}
		input = day + " " + input
	}

	t, dayOnly, err := ParseDate(input, loc)
	if err != nil {
		return "", fmt.Errorf("%w: date must be dd-MM-yyyy HH:mm, dd-MM-yyyy or HH:mm, got %q", ErrInvalidEvent, input)
	}
	if dayOnly {
		return FormatDay(t), nil
	}
	return FormatDateTime(t), nil
}

// Occurrence is a single concrete instance of a feed event
// after recurrence expansion and timezone normalization.
type Occurrence struct {
	SourceID string // feed ID from config
	UID      string // iCalendar UID

	// InstanceKey identifies one occurrence of a recurring event.
	InstanceKey string

	Summary     string
	Description string
	Location    string

	AllDay bool

	// Rigidity carried by the feed itself (X-CALEN-RIGIDITY); empty when
	// the feed does not say.
	Rigidity Rigidity

	// Start / End are in the display timezone.
	Start time.Time
	End   time.Time
}

// Event converts the occurrence into a storable event. The occurrence's
// own rigidity wins over def.
func (o Occurrence) Event(def Rigidity) Event {
	r := def
	if o.Rigidity != "" {
		r = o.Rigidity
	}
	date := FormatDateTime(o.Start)
	if o.AllDay {
		date = FormatDay(o.Start)
	}
	name := strings.TrimSpace(o.Summary)
	if name == "" {
		name = "(untitled)"
	}
	return Event{
		Name:     name,
		Date:     date,
		Rigidity: r,
		Location: o.Location,
	}
}
