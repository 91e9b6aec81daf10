package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"epcal/internal/bangumi"
)

var (
	collectionTypes = []int{bangumi.CollectionWish, bangumi.CollectionDoing}
	subjectTypes    = map[int]bool{bangumi.SubjectTypeAnime: true, bangumi.SubjectTypeEpisode: true}
)

// collectSubjectIDs returns the distinct anime and episode-level subjects a
// user wishes to watch or is watching, in ascending order.
func (s *Service) collectSubjectIDs(ctx context.Context, username string) ([]int, error) {
	seen := make(map[int]struct{})
	for _, ct := range collectionTypes {
		for offset := 0; ; {
			page, err := s.catalog.GetCollections(ctx, username, ct, offset, CollectionPageSize)
			if errors.Is(err, bangumi.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
			}
			if err != nil {
				return nil, fmt.Errorf("list collections of %s (type %d, offset %d): %w", username, ct, offset, err)
			}
			for _, c := range page.Data {
				if subjectTypes[c.SubjectType] {
					seen[c.SubjectID] = struct{}{}
				}
			}

			offset += CollectionPageSize
			if offset >= page.Total {
				break
			}
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}
