package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	MinYear = 1
	MaxYear = 9999
)

// Date is a calendar date as (year, month, day). It serialises as a
// three-element JSON array, which is the cached subject schema.
type Date [3]int

// ParseDate parses "YYYY-MM-DD". The string must split into exactly three
// numeric parts that form a real calendar date.
func ParseDate(s string) (Date, bool) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return Date{}, false
	}
	var d Date
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return Date{}, false
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, false
		}
		d[i] = v
	}
	if !d.Valid() {
		return Date{}, false
	}
	return d, true
}

// DateOf returns the UTC calendar date of t.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return Date{t.Year(), int(t.Month()), t.Day()}
}

func (d Date) Year() int  { return d[0] }
func (d Date) Month() int { return d[1] }
func (d Date) Day() int   { return d[2] }

// Valid reports whether d names an existing day between year 1 and 9999.
func (d Date) Valid() bool {
	if d[0] < MinYear || d[0] > MaxYear || d[1] < 1 || d[1] > 12 || d[2] < 1 || d[2] > 31 {
		return false
	}
	t := time.Date(d[0], time.Month(d[1]), d[2], 0, 0, 0, 0, time.UTC)
	return t.Day() == d[2] && int(t.Month()) == d[1]
}

// Compare orders dates chronologically, returning -1, 0 or +1.
func (d Date) Compare(o Date) int {
	return slices.Compare(d[:], o[:])
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d[0], time.Month(d[1]), d[2], 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d[0], d[1], d[2])
}

// Episode is a single dated airing of a subject.
type Episode struct {
	ID       int     `json:"id"`
	Sort     float64 `json:"sort"`
	Name     string  `json:"name"`
	AirDate  Date    `json:"air_date"`
	Duration string  `json:"duration"`
}

// Subject is the cached, trimmed view of a catalog subject: only the
// episodes inside the current window are kept.
type Subject struct {
	ID             int       `json:"id"`
	Name           string    `json:"name"`
	FutureEpisodes []Episode `json:"future_episodes"`
}

// Occurrence is a single all-day event read back from a rendered feed.
type Occurrence struct {
	UID         string `json:"uid"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`

	AllDay bool `json:"all_day"`

	// Start / End are midnight UTC; End is exclusive.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
