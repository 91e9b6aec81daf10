package service

import (
	"context"
	"fmt"
	"strings"

	"epcal/internal/bangumi"
	"epcal/internal/model"
)

var entityDecoder = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

// fetchEpisodes pages through every episode of a subject and returns the
// ones with a usable air date, plus the total the API reported.
func (s *Service) fetchEpisodes(ctx context.Context, subjectID int) ([]model.Episode, int, error) {
	var (
		out   []model.Episode
		total int
	)
	for offset := 0; ; {
		page, err := s.catalog.GetEpisodes(ctx, subjectID, offset, EpisodePageSize)
		if err != nil {
			return nil, 0, fmt.Errorf("list episodes of subject %d at offset %d: %w", subjectID, offset, err)
		}
		total = page.Total
		for _, raw := range page.Data {
			if ep, ok := parseEpisode(raw); ok {
				out = append(out, ep)
			}
		}

		offset += EpisodePageSize
		if offset >= page.Total {
			break
		}
	}
	return out, total, nil
}

func parseEpisode(raw bangumi.Episode) (model.Episode, bool) {
	date, ok := model.ParseDate(raw.Airdate)
	if !ok {
		return model.Episode{}, false
	}
	return model.Episode{
		ID:       raw.ID,
		Sort:     raw.Sort,
		Name:     entityDecoder.Replace(displayName(raw.NameCN, raw.Name)),
		AirDate:  date,
		Duration: raw.Duration,
	}, true
}

// displayName prefers the localized name unless it is blank.
func displayName(localized, name string) string {
	if strings.TrimSpace(localized) != "" {
		return localized
	}
	return name
}
