package service

import (
	"time"

	"epcal/internal/model"
)

// windowBounds returns the half-open cache window [start, end): the first
// day of the month before now's month up to the first day of the month
// after next, in UTC. ok is false when a bound leaves the supported years.
func windowBounds(now time.Time) (start, end model.Date, ok bool) {
	now = now.UTC()
	y, m := now.Year(), int(now.Month())

	start = monthStart(y, m-1)
	end = monthStart(y, m+2)
	if !start.Valid() || !end.Valid() {
		return model.Date{}, model.Date{}, false
	}
	return start, end, true
}

func monthStart(year, month int) model.Date {
	for month < 1 {
		month += 12
		year--
	}
	for month > 12 {
		month -= 12
		year++
	}
	return model.Date{year, month, 1}
}

// filterWindow keeps the episodes airing inside the cache window around now.
// The result is never nil so it serialises as an empty list.
func filterWindow(episodes []model.Episode, now time.Time) []model.Episode {
	out := make([]model.Episode, 0)
	start, end, ok := windowBounds(now)
	if !ok {
		return out
	}
	for _, ep := range episodes {
		if !ep.AirDate.Valid() {
			continue
		}
		if ep.AirDate.Compare(start) >= 0 && ep.AirDate.Compare(end) < 0 {
			out = append(out, ep)
		}
	}
	return out
}
