package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"epcal/internal/model"
)

const (
	CalendarName = "Bangumi Episode Air Calendar"
	ProductID    = "-//trim21//bangumi-icalendar//CN"

	// RenderHorizon is how far past the render instant an episode may air
	// and still appear in the document.
	RenderHorizon = 30 * 24 * time.Hour

	refreshHint = "PT8H"
)

var uidNamespace = uuid.MustParse("ef2256c4-162e-446b-9ccf-81050809d0c9")

// UID returns the stable event identifier for one episode of a subject.
func UID(subjectID, episodeID int) string {
	name := fmt.Sprintf("subject-%d-episode-%d", subjectID, episodeID)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}

// Render produces the feed for subjects in the given order, episodes in
// their stored order. The output depends only on subjects and now.
func Render(subjects []model.Subject, now time.Time) string {
	now = now.UTC()
	cutoff := now.Unix() + int64(RenderHorizon/time.Second)

	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)
	cal.SetName(CalendarName)
	cal.SetXWRCalName(CalendarName)
	cal.SetXPublishedTTL(refreshHint)
	cal.SetRefreshInterval(refreshHint)

	for _, s := range subjects {
		for _, ep := range s.FutureEpisodes {
			if !ep.AirDate.Valid() {
				continue
			}
			start := ep.AirDate.Time()
			if start.Unix() > cutoff {
				continue
			}
			end := start.AddDate(0, 0, 1)
			if end.Year() > model.MaxYear {
				end = start
			}

			ev := cal.AddEvent(UID(s.ID, ep.ID))
			ev.SetDtStampTime(now)
			ev.SetAllDayStartAt(start)
			ev.SetAllDayEndAt(end)
			ev.SetSummary(s.Name + " " + FormatSort(ep.Sort))
			if desc := description(ep); desc != "" {
				ev.SetDescription(desc)
			}
		}
	}

	return cal.Serialize()
}

// FormatSort prints an episode number without a trailing ".0".
func FormatSort(sort float64) string {
	return strconv.FormatFloat(sort, 'f', -1, 64)
}

func description(ep model.Episode) string {
	lines := []string{fmt.Sprintf("https://bgm.tv/ep/%d", ep.ID)}
	if ep.Name != "" {
		lines = append(lines, ep.Name)
	}
	if ep.Duration != "" {
		lines = append(lines, "时长："+ep.Duration)
	}
	return strings.Join(lines, "\n")
}
