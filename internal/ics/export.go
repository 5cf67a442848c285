package ics

import (
	"io"
	"strconv"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "calen/internal/log"
	"calen/internal/model"
)

const (
	productID        = "-//Calen//Calen Calendar//EN"
	rigidityProperty = "X-CALEN-RIGIDITY"
)

// uidNamespace seeds the name-based UUIDs of exported events so that the
// same event id always exports under the same UID.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://calen.local/events"))

// ExportOptions controls Export.
type ExportOptions struct {
	// Location interprets the stored date strings; nil means time.Local.
	Location *time.Location
	// Duration of timed events. Events carry no end time, so every timed
	// event gets this length. Zero means one hour.
	Duration time.Duration
	// Name is written as X-WR-CALNAME when set.
	Name string
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// EventUID returns the stable UID used for event id.
func EventUID(id int64) string {
	return uuid.NewSHA1(uidNamespace, []byte(strconv.FormatInt(id, 10))).String() + "@calen"
}

// Export writes events as an iCalendar document. Events whose date text
// is not in a known layout are skipped and logged; the count of written
// events is returned.
func Export(w io.Writer, events []model.Event, opts ExportOptions) (int, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Duration <= 0 {
		opts.Duration = time.Hour
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	written := 0
	for _, ev := range events {
		start, dayOnly, err := model.ParseDate(ev.Date, opts.Location)
		if err != nil {
			appLog.Warn("export: skipping event with unrecognized date", "id", ev.ID, "date", ev.Date)
			continue
		}

		vev := cal.AddEvent(EventUID(ev.ID))
		vev.SetDtStampTime(opts.Now)
		vev.SetSummary(ev.Name)
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
		if ev.Rigidity != "" {
			vev.SetProperty(ical.ComponentProperty(rigidityProperty), string(ev.Rigidity))
		}
		if dayOnly {
			vev.SetAllDayStartAt(start)
			vev.SetAllDayEndAt(start.AddDate(0, 0, 1))
		} else {
			vev.SetStartAt(start)
			vev.SetEndAt(start.Add(opts.Duration))
		}
		written++
	}

	if err := cal.SerializeTo(w); err != nil {
		return written, err
	}
	return written, nil
}
