package reconcile

import (
	"slices"
	"time"

	appLog "tempofill/internal/log"
	"tempofill/internal/model"
)

// Day is the reconciled schedule of one UTC calendar day.
type Day struct {
	// Date is midnight UTC of the day.
	Date time.Time
	// WindowStart / WindowEnd bound the work window for Date.
	WindowStart time.Time
	WindowEnd   time.Time
	// Placed holds the mutually non-overlapping fragments in placement order.
	Placed []model.Activity
}

// Schedule splits activities into days and resolves each day in priority
// order. Days are returned in ascending date order; days with no placed
// fragments are omitted.
//
// Incomplete activities and absence fragments never reach a day. Types
// missing from PriorityOrder are dropped silently.
func Schedule(activities []model.Activity, s Settings) []Day {
	sorted := make([]model.Activity, 0, len(activities))
	for _, a := range activities {
		if !a.Complete() {
			appLog.Debug("reconcile: dropping incomplete activity", "activity", a.String())
			continue
		}
		sorted = append(sorted, a)
	}
	slices.SortStableFunc(sorted, func(a, b model.Activity) int {
		return a.Start.Compare(b.Start)
	})

	byDay := make(map[time.Time][]model.Activity)
	for _, a := range sorted {
		for _, frag := range Split(a, s) {
			if s.isAbsence(frag) {
				continue
			}
			d := dayOf(frag.Start)
			byDay[d] = append(byDay[d], frag)
		}
	}

	dates := make([]time.Time, 0, len(byDay))
	for d := range byDay {
		dates = append(dates, d)
	}
	slices.SortFunc(dates, time.Time.Compare)

	days := make([]Day, 0, len(dates))
	for _, date := range dates {
		day := scheduleDay(date, byDay[date], s)
		if len(day.Placed) == 0 {
			continue
		}
		days = append(days, day)
	}
	return days
}

func scheduleDay(date time.Time, acts []model.Activity, s Settings) Day {
	windowStart, windowEnd := s.WorkWindow(date)
	day := Day{
		Date:        date,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	}

	for _, typ := range s.PriorityOrder {
		for _, a := range acts {
			if a.Type != typ {
				continue
			}
			start, end := Clip(a, windowStart, windowEnd)
			day.Placed = Place(day.Placed, start, end, a)
		}
	}

	if appLog.Enabled(appLog.LevelDebug) {
		for _, a := range acts {
			if !slices.Contains(s.PriorityOrder, a.Type) {
				appLog.Debug("reconcile: type not in priority order, skipped",
					"day", date.Format(time.DateOnly), "type", a.Type, "key", a.Key)
			}
		}
	}

	return day
}
