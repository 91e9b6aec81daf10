// Package service builds a user's episode calendar from their Bangumi
// collections, reading through the cache at both the calendar and the
// subject level.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sourcegraph/conc/pool"

	"epcal/internal/bangumi"
	"epcal/internal/cache"
	"epcal/internal/ics"
	appLog "epcal/internal/log"
	"epcal/internal/metrics"
	"epcal/internal/model"
)

// Cache key prefixes. Bump the version whenever the cached value changes
// shape so old entries are never decoded as new ones.
const (
	CalendarKeyPrefix = "episode-calendar-v5.0-"
	SubjectKeyPrefix  = "subject-v3-"
)

const (
	CollectionPageSize = 50
	EpisodePageSize    = 200

	DefaultMaxConcurrency = 20
)

const (
	tierCalendar = "calendar"
	tierSubject  = "subject"
)

// ErrUserNotFound means the username does not exist on Bangumi.
var ErrUserNotFound = errors.New("user not found")

// Catalog is the subset of the Bangumi API the service reads.
type Catalog interface {
	GetCollections(ctx context.Context, username string, collectionType, offset, limit int) (*bangumi.Paged[bangumi.Collection], error)
	GetSubject(ctx context.Context, id int) (*bangumi.Subject, error)
	GetEpisodes(ctx context.Context, subjectID, offset, limit int) (*bangumi.Paged[bangumi.Episode], error)
}

// TTLs are the cache lifetimes. Settled subjects have every episode known
// and outside the window; Open covers everything else that exists.
type TTLs struct {
	Calendar time.Duration
	Settled  time.Duration
	Open     time.Duration
	Missing  time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Calendar: 23 * time.Hour,
		Settled:  7 * 24 * time.Hour,
		Open:     3 * 24 * time.Hour,
		Missing:  24 * time.Hour,
	}
}

type Options struct {
	// MaxConcurrency bounds in-flight subject lookups per request.
	MaxConcurrency int
	// TTL fields left at zero take the default.
	TTL     TTLs
	Metrics *metrics.Metrics
	// Now is the clock used for windows and timestamps; defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	catalog        Catalog
	cache          cache.Cache
	maxConcurrency int
	ttl            TTLs
	metrics        *metrics.Metrics
	now            func() time.Time
}

func New(catalog Catalog, c cache.Cache, opts Options) *Service {
	s := &Service{
		catalog:        catalog,
		cache:          c,
		maxConcurrency: opts.MaxConcurrency,
		ttl:            DefaultTTLs(),
		metrics:        opts.Metrics,
		now:            opts.Now,
	}
	if s.maxConcurrency <= 0 {
		s.maxConcurrency = DefaultMaxConcurrency
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.TTL.Calendar > 0 {
		s.ttl.Calendar = opts.TTL.Calendar
	}
	if opts.TTL.Settled > 0 {
		s.ttl.Settled = opts.TTL.Settled
	}
	if opts.TTL.Open > 0 {
		s.ttl.Open = opts.TTL.Open
	}
	if opts.TTL.Missing > 0 {
		s.ttl.Missing = opts.TTL.Missing
	}
	return s
}

// BuildICS returns the calendar document for username, from cache when
// present. Errors wrap ErrUserNotFound when the user does not exist.
func (s *Service) BuildICS(ctx context.Context, username string) (string, error) {
	started := time.Now()
	doc, outcome, err := s.buildICS(ctx, username)
	s.metrics.BuildFinished(outcome, time.Since(started))
	return doc, err
}

func (s *Service) buildICS(ctx context.Context, username string) (string, string, error) {
	key := CalendarKeyPrefix + username

	cached, ok, err := s.cache.GetString(ctx, key)
	if err != nil {
		return "", "error", fmt.Errorf("read calendar of %s from cache: %w", username, err)
	}
	if ok {
		s.metrics.CacheLookup(tierCalendar, "hit")
		return cached, "hit", nil
	}
	s.metrics.CacheLookup(tierCalendar, "miss")

	ids, err := s.collectSubjectIDs(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", "not_found", err
		}
		return "", "error", err
	}

	subjects, err := s.resolveSubjects(ctx, ids)
	if err != nil {
		return "", "error", fmt.Errorf("build calendar of %s: %w", username, err)
	}

	doc := ics.Render(subjects, s.now())
	if err := s.cache.SetString(ctx, key, doc, s.ttl.Calendar); err != nil {
		appLog.Warn("cache write failed", "key", key, "error", err.Error())
	}
	appLog.Debug("calendar built", "username", username, "subjects", len(ids), "rendered_subjects", len(subjects))
	return doc, "built", nil
}

// resolveSubjects looks up every id through a bounded pool. The first
// failure cancels the rest and no partial result is returned. Subjects
// that are missing or have nothing in the window are dropped and the rest
// are ordered by id.
func (s *Service) resolveSubjects(ctx context.Context, ids []int) ([]model.Subject, error) {
	p := pool.NewWithResults[*model.Subject]().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(s.maxConcurrency)

	for _, id := range ids {
		p.Go(func(ctx context.Context) (*model.Subject, error) {
			return s.resolveSubject(ctx, id)
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	out := make([]model.Subject, 0, len(results))
	for _, subject := range results {
		if subject == nil || len(subject.FutureEpisodes) == 0 {
			continue
		}
		out = append(out, *subject)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
