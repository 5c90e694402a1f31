package scheduling

import (
	"sort"
	"time"
)

// OccupancyCounts maps an appointment start (Unix seconds) to the number of
// non-cancelled appointments starting exactly then.
type OccupancyCounts map[int64]int

func classify(current, max int) (string, int) {
	available := max - current
	if available < 0 {
		available = 0
	}
	switch {
	case current >= max:
		return SlotFull, available
	case current > 0:
		return SlotLimited, available
	default:
		return SlotAvailable, available
	}
}

// rowsForDay keeps the active rows scheduled on day.
func rowsForDay(rows []ScheduleSlot, day string) []ScheduleSlot {
	var out []ScheduleSlot
	for _, r := range rows {
		if r.IsActive() && r.DayOfWeek == day {
			out = append(out, r)
		}
	}
	return out
}

// enumerateSlots walks every row from start to end in steps of the row's
// interval. Intervals touching the break are left out, as are start times
// where a requested duration would run past the row end or into the break.
// Rows contribute independently; the merged list is stably sorted by time.
func enumerateSlots(rows []ScheduleSlot, date time.Time, duration int, counts OccupancyCounts) []SlotDescriptor {
	out := []SlotDescriptor{}
	for i := range rows {
		row := &rows[i]
		step := Clock(row.SlotDuration)
		if step <= 0 {
			continue
		}
		length := row.SlotDuration
		if duration > 0 {
			length = duration
		}

		for t := row.StartTime; t+step <= row.EndTime; t += step {
			if row.overlapsBreak(t, t+step) {
				continue
			}
			if duration > 0 {
				end := t + Clock(duration)
				if end > row.EndTime || row.overlapsBreak(t, end) {
					continue
				}
			}

			at := t.On(date)
			current := counts[at.Unix()]
			status, available := classify(current, row.MaxAppointments)
			out = append(out, SlotDescriptor{
				Time:            t.String(),
				DateTime:        at,
				Available:       available,
				Total:           row.MaxAppointments,
				Current:         current,
				Status:          status,
				ScheduleName:    row.Name,
				DurationMinutes: length,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateTime.Before(out[j].DateTime) })
	return out
}

// summarizeMonth builds one DaySummary per calendar day of month.
func summarizeMonth(rows []ScheduleSlot, year int, month time.Month, loc *time.Location, counts OccupancyCounts) []DaySummary {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	var out []DaySummary
	for day := first; day.Month() == month; day = day.AddDate(0, 0, 1) {
		name := DayName(day)
		dayRows := rowsForDay(rows, name)
		summary := DaySummary{
			Date:        day.Format("2006-01-02"),
			DayOfWeek:   name,
			HasSchedule: len(dayRows) > 0,
		}
		for _, s := range enumerateSlots(dayRows, day, 0, counts) {
			summary.TotalSlots += s.Total
			summary.AvailableSlotsCount += s.Available
		}
		out = append(out, summary)
	}
	return out
}

// matchRow finds the row whose [start, end) window contains t, that can
// hold duration minutes from t, and whose break does not contain t.
func matchRow(rows []ScheduleSlot, t Clock, duration int) (*ScheduleSlot, error) {
	if len(rows) == 0 {
		return nil, ErrNotAvailableOnDay
	}
	for i := range rows {
		r := &rows[i]
		if t < r.StartTime || t >= r.EndTime {
			continue
		}
		if duration > 0 && t+Clock(duration) > r.EndTime {
			continue
		}
		if r.inBreak(t) {
			continue
		}
		return r, nil
	}
	return nil, ErrOutsideSchedule
}

// dayBounds returns [midnight, next midnight) of t's calendar day.
func dayBounds(t time.Time) (time.Time, time.Time) {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
