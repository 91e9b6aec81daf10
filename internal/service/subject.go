package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"epcal/internal/bangumi"
	appLog "epcal/internal/log"
	"epcal/internal/model"
)

func subjectKey(id int) string {
	return SubjectKeyPrefix + strconv.Itoa(id)
}

// resolveSubject returns the trimmed subject, or nil when the subject does
// not exist upstream. Both outcomes are cached; see TTLs for lifetimes.
func (s *Service) resolveSubject(ctx context.Context, id int) (*model.Subject, error) {
	key := subjectKey(id)

	raw, ok, err := s.cache.GetString(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read subject %d from cache: %w", id, err)
	}
	if ok {
		var cached *model.Subject
		err := json.Unmarshal([]byte(raw), &cached)
		if err == nil {
			s.metrics.CacheLookup(tierSubject, "hit")
			return cached, nil
		}
		appLog.Warn("ignoring corrupt subject cache entry", "subject_id", id, "error", err.Error())
		s.metrics.CacheLookup(tierSubject, "corrupt")
	} else {
		s.metrics.CacheLookup(tierSubject, "miss")
	}

	subject, err := s.catalog.GetSubject(ctx, id)
	if errors.Is(err, bangumi.ErrNotFound) {
		s.store(ctx, key, (*model.Subject)(nil), s.ttl.Missing)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subject %d: %w", id, err)
	}

	out := &model.Subject{
		ID:             subject.ID,
		Name:           displayName(subject.NameCN, subject.Name),
		FutureEpisodes: []model.Episode{},
	}
	if subject.TotalEpisodes == 0 {
		s.store(ctx, key, out, s.ttl.Open)
		return out, nil
	}

	episodes, total, err := s.fetchEpisodes(ctx, id)
	if err != nil {
		return nil, err
	}
	out.FutureEpisodes = filterWindow(episodes, s.now())

	ttl := s.ttl.Open
	if settled(episodes, total, out.FutureEpisodes) {
		ttl = s.ttl.Settled
	}
	s.store(ctx, key, out, ttl)
	return out, nil
}

// settled reports whether a subject's schedule is fully known and already
// behind the window, so it can be cached for longer.
func settled(episodes []model.Episode, total int, future []model.Episode) bool {
	return len(episodes) > 0 && total <= EpisodePageSize && len(future) == 0
}

// store writes a cache entry. Failures are logged and otherwise ignored.
func (s *Service) store(ctx context.Context, key string, v any, ttl time.Duration) {
	payload, err := json.Marshal(v)
	if err != nil {
		appLog.Error("encode cache entry failed", err, "key", key)
		return
	}
	if err := s.cache.SetString(ctx, key, string(payload), ttl); err != nil {
		appLog.Warn("cache write failed", "key", key, "error", err.Error())
	}
}
