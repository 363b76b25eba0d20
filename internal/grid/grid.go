// Package grid lays out a month as a fixed 42-cell (6 x 7) calendar grid.
package grid

import (
	"time"

	"famcal/internal/model"
)

const (
	// CellCount is the size of every grid: six week rows of seven days.
	CellCount = 42
	// DaysPerWeek is the row width.
	DaysPerWeek = 7
)

// Cell is one date of the grid.
type Cell struct {
	// Date is midnight UTC of the cell's calendar date.
	Date       time.Time
	OtherMonth bool
	IsToday    bool
	Events     []model.Event
}

// Key returns the cell date as YYYY-MM-DD, the same format as Event.Date.
func (c Cell) Key() string {
	return model.FormatDate(c.Date)
}

// Day is the day of month shown in the cell.
func (c Cell) Day() int {
	return c.Date.Day()
}

// Options parameterize Build.
type Options struct {
	// Today flags the cell with this calendar date. Only its year, month and
	// day (in its own location) are used. The zero value flags nothing.
	Today time.Time
	// WeekStart is the weekday of the first column. Defaults to Sunday;
	// values outside Sunday..Saturday also mean Sunday.
	WeekStart time.Weekday
}

// Build returns the 42 cells for month of year. Cells before the first of
// the month and after its last day belong to the neighbouring months.
// Events are attached by exact date match, keeping their source order;
// events with a malformed date appear in no cell.
func Build(year int, month time.Month, events []model.Event, opts Options) []Cell {
	weekStart := opts.WeekStart
	if weekStart < time.Sunday || weekStart > time.Saturday {
		weekStart = time.Sunday
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(first.Weekday()) - int(weekStart) + DaysPerWeek) % DaysPerWeek
	start := first.AddDate(0, 0, -offset)

	byDate := make(map[string][]model.Event)
	for _, ev := range events {
		if _, err := model.ParseDate(ev.Date); err != nil {
			continue
		}
		byDate[ev.Date] = append(byDate[ev.Date], ev)
	}

	today := ""
	if !opts.Today.IsZero() {
		today = model.FormatDate(opts.Today)
	}

	// The reference year/month after normalization (e.g. month 13).
	refYear, refMonth := first.Year(), first.Month()

	cells := make([]Cell, CellCount)
	for i := range cells {
		d := start.AddDate(0, 0, i)
		key := model.FormatDate(d)
		inMonth := d.Year() == refYear && d.Month() == refMonth
		cells[i] = Cell{
			Date:       d,
			OtherMonth: !inMonth,
			IsToday:    inMonth && key == today,
			Events:     byDate[key],
		}
		if cells[i].Events == nil {
			cells[i].Events = []model.Event{}
		}
	}
	return cells
}

// BuildMonth is Build for the month containing ref.
func BuildMonth(ref time.Time, events []model.Event, opts Options) []Cell {
	return Build(ref.Year(), ref.Month(), events, opts)
}

// Weeks splits cells into rows of seven.
func Weeks(cells []Cell) [][]Cell {
	rows := make([][]Cell, 0, (len(cells)+DaysPerWeek-1)/DaysPerWeek)
	for i := 0; i < len(cells); i += DaysPerWeek {
		end := i + DaysPerWeek
		if end > len(cells) {
			end = len(cells)
		}
		rows = append(rows, cells[i:end])
	}
	return rows
}

// ParseWeekStart maps "monday" to time.Monday and everything else to
// time.Sunday.
func ParseWeekStart(s string) time.Weekday {
	if s == "monday" {
		return time.Monday
	}
	return time.Sunday
}
