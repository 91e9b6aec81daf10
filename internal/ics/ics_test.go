package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epcal/internal/model"
)

var renderNow = time.Date(2024, 4, 10, 15, 4, 5, 0, time.UTC)

func sampleSubjects() []model.Subject {
	return []model.Subject{
		{
			ID:   1,
			Name: "主题",
			FutureEpisodes: []model.Episode{
				{ID: 11, Sort: 1, Name: "第1话", AirDate: model.Date{2024, 4, 11}, Duration: "24m"},
				{ID: 12, Sort: 1.5, AirDate: model.Date{2024, 4, 18}},
			},
		},
		{
			ID:   42,
			Name: "Other",
			FutureEpisodes: []model.Episode{
				{ID: 7, Sort: 3, Name: "Tom & Jerry", AirDate: model.Date{2024, 3, 31}, Duration: "00:24:00"},
			},
		},
	}
}

func TestUIDIsStable(t *testing.T) {
	assert.Equal(t, "08eadaa3-d053-5d95-a94d-65916360f883", UID(1, 11))
	assert.Equal(t, "6bce5abc-7cd4-5b4e-90f5-1eaaa0e5f314", UID(42, 7))
	assert.Equal(t, UID(5, 6), UID(5, 6))
	assert.NotEqual(t, UID(5, 6), UID(6, 5))
}

func TestFormatSort(t *testing.T) {
	assert.Equal(t, "1", FormatSort(1))
	assert.Equal(t, "1.5", FormatSort(1.5))
	assert.Equal(t, "0", FormatSort(0))
	assert.Equal(t, "12", FormatSort(12.0))
}

func TestRenderIsIdempotent(t *testing.T) {
	a := Render(sampleSubjects(), renderNow)
	b := Render(sampleSubjects(), renderNow)
	assert.Equal(t, a, b)

	c := Render(sampleSubjects(), renderNow.Add(time.Second))
	assert.NotEqual(t, a, c)
}

func TestRenderDocumentShape(t *testing.T) {
	doc := Render(sampleSubjects(), renderNow)

	assert.True(t, strings.HasPrefix(doc, "BEGIN:VCALENDAR"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(doc), "END:VCALENDAR"))
	for _, line := range []string{
		"VERSION:2.0",
		"PRODID:" + ProductID,
		"NAME:" + CalendarName,
		"X-WR-CALNAME:" + CalendarName,
		"X-PUBLISHED-TTL:PT8H",
		"REFRESH-INTERVAL;VALUE=DURATION:PT8H",
		"UID:08eadaa3-d053-5d95-a94d-65916360f883",
		"DTSTAMP:20240410T150405Z",
		"DTSTART;VALUE=DATE:20240411",
		"DTEND;VALUE=DATE:20240412",
		"SUMMARY:Other 3",
		"SUMMARY:主题 1.5",
	} {
		assert.Contains(t, doc, line)
	}
	assert.Equal(t, 3, strings.Count(doc, "BEGIN:VEVENT"))
	assert.Equal(t, 3, strings.Count(doc, "END:VEVENT"))

	// subject order, then episode order
	first := strings.Index(doc, "UID:"+UID(1, 11))
	second := strings.Index(doc, "UID:"+UID(1, 12))
	third := strings.Index(doc, "UID:"+UID(42, 7))
	assert.True(t, first < second && second < third)
}

func TestRenderHorizon(t *testing.T) {
	limit := model.DateOf(renderNow.Add(RenderHorizon))
	subjects := []model.Subject{{
		ID:   3,
		Name: "S",
		FutureEpisodes: []model.Episode{
			{ID: 1, Sort: 1, AirDate: limit},
			{ID: 2, Sort: 2, AirDate: model.DateOf(limit.Time().AddDate(0, 0, 1))},
			{ID: 3, Sort: 3, AirDate: model.Date{2024, 2, 30}},
			{ID: 4, Sort: 4, AirDate: model.Date{2000, 1, 1}},
		},
	}}

	occ, err := Parse([]byte(Render(subjects, renderNow)))
	require.NoError(t, err)
	uids := make([]string, 0, len(occ))
	for _, o := range occ {
		uids = append(uids, o.UID)
	}
	assert.ElementsMatch(t, []string{UID(3, 1), UID(3, 4)}, uids)
}

func TestRenderEmpty(t *testing.T) {
	doc := Render(nil, renderNow)
	assert.NotContains(t, doc, "BEGIN:VEVENT")
	assert.Contains(t, doc, "X-WR-CALNAME:"+CalendarName)

	occ, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, occ)
}

func TestParseRoundTrip(t *testing.T) {
	occ, err := Parse([]byte(Render(sampleSubjects(), renderNow)))
	require.NoError(t, err)
	require.Len(t, occ, 3)

	assert.Equal(t, model.Occurrence{
		UID:         UID(42, 7),
		Summary:     "Other 3",
		Description: "https://bgm.tv/ep/7\nTom & Jerry\n时长：00:24:00",
		AllDay:      true,
		Start:       time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}, occ[0])

	assert.Equal(t, UID(1, 11), occ[1].UID)
	assert.Equal(t, "主题 1", occ[1].Summary)
	assert.Equal(t, "https://bgm.tv/ep/11\n第1话\n时长：24m", occ[1].Description)

	assert.Equal(t, UID(1, 12), occ[2].UID)
	assert.Equal(t, "https://bgm.tv/ep/12", occ[2].Description)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse(nil)
	require.Error(t, err)
}

func TestParseICSTime(t *testing.T) {
	got, err := parseICSTime("20240102")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = parseICSTime("20240102T030405Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), got)

	_, err = parseICSTime(" ")
	require.Error(t, err)
}
