// Package calendar lays out month grids for the shells.
package calendar

import (
	"fmt"
	"strings"
	"time"

	"calen/internal/model"
)

// MonthLayout is the MM-yyyy form used by `month` commands and ?month=.
const MonthLayout = "01-2006"

// Day is one cell of a month grid.
type Day struct {
	Date    time.Time
	InMonth bool
	// Key is the dd-MM-yyyy string used for day queries.
	Key string
}

// Grid is six weeks of seven days covering one month.
type Grid struct {
	Year  int
	Month time.Month
	Weeks [6][7]Day
}

// WeekStartFromString maps the config value to a weekday; anything but
// "sunday" starts weeks on Monday.
func WeekStartFromString(s string) time.Weekday {
	if strings.EqualFold(strings.TrimSpace(s), "sunday") {
		return time.Sunday
	}
	return time.Monday
}

// Month builds the grid for year/month. Leading and trailing cells come
// from the neighbouring months.
func Month(year int, month time.Month, weekStart time.Weekday) Grid {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(first.Weekday()) - int(weekStart) + 7) % 7
	cur := first.AddDate(0, 0, -offset)

	g := Grid{Year: year, Month: month}
	for w := range g.Weeks {
		for d := range g.Weeks[w] {
			g.Weeks[w][d] = Day{
				Date:    cur,
				InMonth: cur.Month() == month,
				Key:     model.FormatDay(cur),
			}
			cur = cur.AddDate(0, 0, 1)
		}
	}
	return g
}

// Title renders "March 2025".
func (g Grid) Title() string {
	return fmt.Sprintf("%s %d", g.Month, g.Year)
}

// Key renders the grid's month as MM-yyyy.
func (g Grid) Key() string {
	return time.Date(g.Year, g.Month, 1, 0, 0, 0, 0, time.UTC).Format(MonthLayout)
}

// Next returns the following month's grid with the same week start.
func (g Grid) Next() Grid {
	t := time.Date(g.Year, g.Month+1, 1, 0, 0, 0, 0, time.UTC)
	return Month(t.Year(), t.Month(), g.Weeks[0][0].Date.Weekday())
}

// Prev returns the preceding month's grid with the same week start.
func (g Grid) Prev() Grid {
	t := time.Date(g.Year, g.Month-1, 1, 0, 0, 0, 0, time.UTC)
	return Month(t.Year(), t.Month(), g.Weeks[0][0].Date.Weekday())
}

// Weekdays returns the column headers in grid order.
func (g Grid) Weekdays() []time.Weekday {
	out := make([]time.Weekday, 7)
	for i, d := range g.Weeks[0] {
		out[i] = d.Date.Weekday()
	}
	return out
}

// Count returns the number of events per day key. A day counts an event
// when its key occurs anywhere in the event's date text, the same rule the
// store applies to day queries.
func (g Grid) Count(events []model.Event) map[string]int {
	counts := make(map[string]int)
	for _, week := range g.Weeks {
		for _, day := range week {
			for _, ev := range events {
				if strings.Contains(ev.Date, day.Key) {
					counts[day.Key]++
				}
			}
		}
	}
	return counts
}

// ParseMonth parses MM-yyyy.
func ParseMonth(s string) (int, time.Month, error) {
	t, err := time.Parse(MonthLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("month must be MM-yyyy, got %q", s)
	}
	return t.Year(), t.Month(), nil
}

// ParseDay validates a dd-MM-yyyy day key.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(model.DayLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("day must be dd-MM-yyyy, got %q", s)
	}
	return t, nil
}
