package service

import (
	"context"
	"sync"
	"time"

	"epcal/internal/bangumi"
	"epcal/internal/cache"
)

// fakeCatalog serves collections, subjects and episodes from memory and
// counts every call.
type fakeCatalog struct {
	mu sync.Mutex

	collections map[string]map[int][]bangumi.Collection
	subjects    map[int]bangumi.Subject
	episodes    map[int][]bangumi.Episode
	// episodeTotal overrides the reported total for a subject.
	episodeTotal map[int]int
	subjectErr   map[int]error
	collErr      error
	delay        time.Duration

	collectionCalls int
	subjectCalls    map[int]int
	episodeCalls    map[int]int
	inFlight        int
	maxInFlight     int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		collections:  map[string]map[int][]bangumi.Collection{},
		subjects:     map[int]bangumi.Subject{},
		episodes:     map[int][]bangumi.Episode{},
		episodeTotal: map[int]int{},
		subjectErr:   map[int]error{},
		subjectCalls: map[int]int{},
		episodeCalls: map[int]int{},
	}
}

func (f *fakeCatalog) addCollection(user string, collectionType int, entries ...bangumi.Collection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collections[user] == nil {
		f.collections[user] = map[int][]bangumi.Collection{}
	}
	f.collections[user][collectionType] = append(f.collections[user][collectionType], entries...)
}

func (f *fakeCatalog) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.collectionCalls
	for _, c := range f.subjectCalls {
		n += c
	}
	for _, c := range f.episodeCalls {
		n += c
	}
	return n
}

func (f *fakeCatalog) subjectCallCount(id int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subjectCalls[id]
}

func (f *fakeCatalog) GetCollections(ctx context.Context, username string, collectionType, offset, limit int) (*bangumi.Paged[bangumi.Collection], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collectionCalls++
	if f.collErr != nil {
		return nil, f.collErr
	}
	byType, ok := f.collections[username]
	if !ok {
		return nil, bangumi.ErrNotFound
	}
	all := byType[collectionType]
	return &bangumi.Paged[bangumi.Collection]{
		Data:   window(all, offset, limit),
		Total:  len(all),
		Limit:  limit,
		Offset: offset,
	}, nil
}

func (f *fakeCatalog) GetSubject(ctx context.Context, id int) (*bangumi.Subject, error) {
	f.mu.Lock()
	f.subjectCalls[id]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.subjectErr[id]; err != nil {
		return nil, err
	}
	s, ok := f.subjects[id]
	if !ok {
		return nil, bangumi.ErrNotFound
	}
	return &s, nil
}

func (f *fakeCatalog) GetEpisodes(ctx context.Context, subjectID, offset, limit int) (*bangumi.Paged[bangumi.Episode], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodeCalls[subjectID]++
	all := f.episodes[subjectID]
	total := len(all)
	if t, ok := f.episodeTotal[subjectID]; ok {
		total = t
	}
	return &bangumi.Paged[bangumi.Episode]{
		Data:   window(all, offset, limit),
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

func window[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := min(offset+limit, len(all))
	return all[offset:end]
}

// recordingCache is a memory cache that remembers the TTL of every write
// and can be told to fail.
type recordingCache struct {
	*cache.Memory

	mu     sync.Mutex
	ttls   map[string]time.Duration
	writes int
	getErr error
	setErr error
}

func newRecordingCache() *recordingCache {
	return &recordingCache{Memory: cache.NewMemory(time.Minute), ttls: map[string]time.Duration{}}
}

func (c *recordingCache) GetString(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	err := c.getErr
	c.mu.Unlock()
	if err != nil {
		return "", false, err
	}
	return c.Memory.GetString(ctx, key)
}

func (c *recordingCache) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	c.writes++
	c.ttls[key] = ttl
	err := c.setErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.Memory.SetString(ctx, key, value, ttl)
}

func (c *recordingCache) ttl(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.ttls[key]
	return d, ok
}

func (c *recordingCache) raw(key string) (string, bool) {
	v, ok, _ := c.Memory.GetString(context.Background(), key)
	return v, ok
}
