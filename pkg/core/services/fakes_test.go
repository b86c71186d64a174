package services

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
)

// fakeRepo is an in-memory ports.LinkRepository.
type fakeRepo struct {
	mu     sync.Mutex
	links  map[string]*domain.Link
	clicks []domain.ClickEvent
	nextID int64

	gets int
	// conflictsOnCreate makes the next N creates fail with ErrConflict.
	conflictsOnCreate int
	// takenAll makes Exists report every code as taken.
	takenAll    bool
	recordErr   error
	pingErr     error
	recordCtxOK func(ctx context.Context) bool
	// afterGet runs once a read has copied its row, outside the lock.
	afterGet func()
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{links: map[string]*domain.Link{}}
}

func (r *fakeRepo) Create(_ context.Context, link *domain.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflictsOnCreate > 0 {
		r.conflictsOnCreate--
		return domain.ErrConflict
	}
	if _, ok := r.links[link.ShortCode]; ok {
		return domain.ErrConflict
	}
	r.nextID++
	link.ID = r.nextID
	cp := *link
	r.links[link.ShortCode] = &cp
	return nil
}

func (r *fakeRepo) GetByShortCode(ctx context.Context, code string) (*domain.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.gets++
	l, ok := r.links[code]
	var cp domain.Link
	if ok {
		cp = *l
	}
	r.mu.Unlock()

	if r.afterGet != nil {
		r.afterGet()
	}
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &cp, nil
}

func (r *fakeRepo) Exists(_ context.Context, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.takenAll {
		return true, nil
	}
	_, ok := r.links[code]
	return ok, nil
}

func (r *fakeRepo) Update(_ context.Context, link *domain.Link) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.links[link.ShortCode]
	if !ok {
		return domain.ErrNotFound
	}
	cp := *link
	cp.ClickCount = old.ClickCount
	r.links[link.ShortCode] = &cp
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, code string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[code]; !ok {
		return domain.ErrNotFound
	}
	delete(r.links, code)
	kept := r.clicks[:0]
	for _, c := range r.clicks {
		if c.ShortCode != code {
			kept = append(kept, c)
		}
	}
	r.clicks = kept
	return nil
}

func (r *fakeRepo) sorted() []domain.Link {
	out := make([]domain.Link, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *fakeRepo) List(_ context.Context, limit, offset int) ([]domain.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.sorted()
	if offset >= len(all) {
		return []domain.Link{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r *fakeRepo) Count(context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.links)), nil
}

func (r *fakeRepo) ClearAll(context.Context) (domain.ClearResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := domain.ClearResult{Links: int64(len(r.links)), Clicks: int64(len(r.clicks))}
	r.links = map[string]*domain.Link{}
	r.clicks = nil
	return res, nil
}

func (r *fakeRepo) Dump(ctx context.Context) ([]domain.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sorted(), nil
}

func (r *fakeRepo) RecordClick(ctx context.Context, click *domain.ClickEvent) error {
	if r.recordCtxOK != nil && !r.recordCtxOK(ctx) {
		return errors.New("context rejected")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	l, ok := r.links[click.ShortCode]
	if !ok {
		return domain.ErrNotFound
	}
	l.ClickCount++
	l.UpdatedAt = click.ClickedAt
	click.ID = int64(len(r.clicks) + 1)
	r.clicks = append(r.clicks, *click)
	return nil
}

func (r *fakeRepo) RecentClicks(_ context.Context, code string, limit int) ([]domain.ClickEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.ClickEvent{}
	for i := len(r.clicks) - 1; i >= 0 && len(out) < limit; i-- {
		if r.clicks[i].ShortCode == code {
			out = append(out, r.clicks[i])
		}
	}
	return out, nil
}

func (r *fakeRepo) ClickBreakdown(_ context.Context, code string, _ int) (domain.Breakdown, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[string]int64{}
	for _, c := range r.clicks {
		if c.ShortCode == code {
			counts[c.Browser]++
		}
	}
	var b domain.Breakdown
	for v, n := range counts {
		b.Browsers = append(b.Browsers, domain.Bucket{Value: v, Count: n})
	}
	return b, nil
}

func (r *fakeRepo) Ping(context.Context) error { return r.pingErr }
func (r *fakeRepo) Backend() string            { return "fake" }

func (r *fakeRepo) clickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clicks)
}

// fakeCache is an in-memory ports.LinkCache.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]domain.Link
	getErr  error
	deleted []string
	cleared int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]domain.Link{}}
}

func (c *fakeCache) Get(_ context.Context, code string) (*domain.Link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	l, ok := c.entries[code]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (c *fakeCache) Set(_ context.Context, link *domain.Link) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[link.ShortCode] = *link
	return nil
}

func (c *fakeCache) Delete(_ context.Context, codes ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, code := range codes {
		delete(c.entries, code)
		c.deleted = append(c.deleted, code)
	}
	return nil
}

func (c *fakeCache) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]domain.Link{}
	c.cleared++
	return nil
}
