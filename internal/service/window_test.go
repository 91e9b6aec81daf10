package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epcal/internal/bangumi"
	"epcal/internal/model"
)

func ep(id int, d model.Date) model.Episode {
	return model.Episode{ID: id, Sort: float64(id), AirDate: d}
}

func ids(eps []model.Episode) []int {
	out := make([]int, 0, len(eps))
	for _, e := range eps {
		out = append(out, e.ID)
	}
	return out
}

func TestFilterWindowEdges(t *testing.T) {
	now := time.Date(2024, 4, 15, 23, 0, 0, 0, time.UTC)
	got := filterWindow([]model.Episode{
		ep(1, model.Date{2024, 2, 29}),
		ep(2, model.Date{2024, 3, 1}),
		ep(3, model.Date{2024, 4, 15}),
		ep(4, model.Date{2024, 5, 31}),
		ep(5, model.Date{2024, 6, 1}),
		ep(6, model.Date{2023, 4, 15}),
		ep(7, model.Date{2024, 2, 30}),
	}, now)
	assert.Equal(t, []int{2, 3, 4}, ids(got))
}

func TestFilterWindowAcrossYears(t *testing.T) {
	got := filterWindow([]model.Episode{
		ep(1, model.Date{2023, 11, 30}),
		ep(2, model.Date{2023, 12, 1}),
		ep(3, model.Date{2024, 2, 29}),
		ep(4, model.Date{2024, 3, 1}),
	}, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []int{2, 3}, ids(got))

	got = filterWindow([]model.Episode{
		ep(1, model.Date{2024, 10, 31}),
		ep(2, model.Date{2024, 11, 1}),
		ep(3, model.Date{2025, 1, 31}),
		ep(4, model.Date{2025, 2, 1}),
	}, time.Date(2024, 12, 31, 12, 0, 0, 0, time.UTC))
	assert.Equal(t, []int{2, 3}, ids(got))
}

func TestFilterWindowEveryDay(t *testing.T) {
	day := time.Date(2023, 1, 1, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 800; i++ {
		now := day.AddDate(0, 0, i)
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start := first.AddDate(0, -1, 0)
		end := first.AddDate(0, 2, 0)

		got := filterWindow([]model.Episode{
			ep(1, model.DateOf(start.AddDate(0, 0, -1))),
			ep(2, model.DateOf(start)),
			ep(3, model.DateOf(end.AddDate(0, 0, -1))),
			ep(4, model.DateOf(end)),
		}, now)
		require.Equal(t, []int{2, 3}, ids(got), now.Format(time.DateOnly))
	}
}

func TestFilterWindowAtCalendarExtremes(t *testing.T) {
	eps := []model.Episode{ep(1, model.Date{1, 1, 5}), ep(2, model.Date{9999, 11, 5})}

	got := filterWindow(eps, time.Date(1, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = filterWindow(eps, time.Date(9999, 11, 10, 0, 0, 0, 0, time.UTC))
	require.NotNil(t, got)
	assert.Empty(t, got)

	got = filterWindow(eps, time.Date(9999, 10, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []int{2}, ids(got))
}

func TestFilterWindowUsesUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	// 2024-05-01 03:00 in Tokyo is still April in UTC.
	now := time.Date(2024, 5, 1, 3, 0, 0, 0, tokyo)
	got := filterWindow([]model.Episode{
		ep(1, model.Date{2024, 3, 1}),
		ep(2, model.Date{2024, 6, 1}),
	}, now)
	assert.Equal(t, []int{1}, ids(got))
}

func TestParseEpisode(t *testing.T) {
	got, ok := parseEpisode(bangumi.Episode{
		ID: 5, Airdate: "2024-04-01", Name: "orig", NameCN: "Tom &amp; Jerry &lt;3&gt; &quot;x&quot; &#39;y&#39;",
		Duration: "24m", Sort: 2.5,
	})
	require.True(t, ok)
	assert.Equal(t, model.Episode{
		ID: 5, Sort: 2.5, Name: `Tom & Jerry <3> "x" 'y'`, AirDate: model.Date{2024, 4, 1}, Duration: "24m",
	}, got)

	got, ok = parseEpisode(bangumi.Episode{ID: 6, Airdate: "2024-04-02", Name: "A &amp;amp; B", NameCN: "  "})
	require.True(t, ok)
	assert.Equal(t, "A &amp; B", got.Name)

	for _, bad := range []string{"", "2024-04", "2024/04/01", "TBD", "2024-02-30"} {
		_, ok := parseEpisode(bangumi.Episode{ID: 7, Airdate: bad, Name: "x"})
		assert.False(t, ok, bad)
	}
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "中文", displayName("中文", "orig"))
	assert.Equal(t, "orig", displayName("", "orig"))
	assert.Equal(t, "orig", displayName(" \t", "orig"))
	assert.Equal(t, "", displayName("", ""))
}
