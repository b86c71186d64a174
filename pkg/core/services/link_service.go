package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
	"github.com/wadjakorntonsri/shortlink/pkg/validation"
)

const (
	DefaultPageLimit   = 20
	MaxPageLimit       = 100
	RecentClicksLimit  = 100
	BreakdownTopValues = 10

	// resolveTimeout bounds a shared Resolve flight, which outlives the
	// request that started it.
	resolveTimeout = 5 * time.Second
)

type LinkService struct {
	repo   ports.LinkRepository
	cache  ports.LinkCache
	cached bool
	gen    *Generator
	hasher *PasswordHasher
	group  singleflight.Group
	// epoch advances on every invalidation so an in-flight Resolve can
	// tell that the row it read may already be stale.
	epoch atomic.Uint64
	now   func() time.Time
}

type Option func(*LinkService)

// WithCache puts a read-through cache in front of Resolve.
func WithCache(c ports.LinkCache) Option {
	return func(s *LinkService) {
		if c != nil {
			s.cache = c
			s.cached = true
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *LinkService) { s.now = now }
}

func NewLinkService(repo ports.LinkRepository, gen *Generator, hasher *PasswordHasher, opts ...Option) *LinkService {
	s := &LinkService{
		repo:   repo,
		cache:  noopCache{},
		gen:    gen,
		hasher: hasher,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LinkService) Shorten(ctx context.Context, in domain.CreateLinkInput) (*domain.Link, error) {
	in.URL = NormalizeURL(in.URL)
	in.Code = strings.TrimSpace(in.Code)
	if err := validation.Struct(&in); err != nil {
		return nil, err
	}
	if IsReserved(in.Code) {
		return nil, domain.NewValidationError("code", "code is reserved")
	}

	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return nil, domain.NewValidationError("expires_at", "expires_at must be in the future")
	}

	link := &domain.Link{
		OriginalURL: in.URL,
		Title:       strings.TrimSpace(in.Title),
		Description: in.Description,
		Owner:       in.Owner,
		ExpiresAt:   utcPtr(in.ExpiresAt),
		IsActive:    in.IsActive == nil || *in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Password != "" {
		hash, err := s.hasher.Hash(in.Password)
		if err != nil {
			return nil, err
		}
		link.PasswordHash = hash
	}

	if in.Code != "" {
		link.ShortCode = in.Code
		if err := s.repo.Create(ctx, link); err != nil {
			return nil, err
		}
		metrics.LinksCreated.WithLabelValues("custom").Inc()
		return link, nil
	}

	// A generated code can still lose the race to a concurrent insert.
	for attempt := 0; attempt < s.gen.Attempts(); attempt++ {
		code, err := s.gen.Generate(ctx)
		if err != nil {
			return nil, err
		}
		link.ShortCode = code
		err = s.repo.Create(ctx, link)
		if err == nil {
			metrics.LinksCreated.WithLabelValues("generated").Inc()
			return link, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		metrics.CodeCollisions.Inc()
		logging.Ctx(ctx).Debug().Str("code", code).Msg("generated code taken on insert, retrying")
	}
	return nil, domain.ErrCodeSpaceExhausted
}

func (s *LinkService) GetLink(ctx context.Context, code string) (*domain.Link, error) {
	return s.repo.GetByShortCode(ctx, code)
}

// Resolve is GetLink for the redirect path: served from the cache when
// possible, with concurrent misses for one code collapsed into one read.
// Cache failures fall through to the datastore.
func (s *LinkService) Resolve(ctx context.Context, code string) (*domain.Link, error) {
	if s.cached {
		if link, err := s.cache.Get(ctx, code); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("code", code).Msg("cache read failed")
		} else if link != nil {
			metrics.CacheHits.Inc()
			return link, nil
		}
		metrics.CacheMisses.Inc()
	}

	v, err, _ := s.group.Do(code, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()

		start := s.epoch.Load()
		link, err := s.repo.GetByShortCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if s.epoch.Load() != start {
			return link, nil
		}
		if err := s.cache.Set(ctx, link); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("code", code).Msg("cache write failed")
		}
		// An invalidation that raced the write above must still win.
		if s.epoch.Load() != start {
			_ = s.cache.Delete(ctx, code)
		}
		return link, nil
	})
	if err != nil {
		return nil, err
	}
	// Callers may mutate the result; shared flights hand out copies.
	link := *v.(*domain.Link)
	return &link, nil
}

func (s *LinkService) UpdateLink(ctx context.Context, code string, in domain.UpdateLinkInput) (*domain.Link, error) {
	if in.URL != nil {
		u := NormalizeURL(*in.URL)
		if u == "" {
			return nil, domain.NewValidationError("url", "url is required")
		}
		in.URL = &u
	}
	if err := validation.Struct(&in); err != nil {
		return nil, err
	}

	link, err := s.repo.GetByShortCode(ctx, code)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		link.OriginalURL = *in.URL
	}
	if in.Title != nil {
		link.Title = strings.TrimSpace(*in.Title)
	}
	if in.Description != nil {
		link.Description = *in.Description
	}
	if in.Password != nil {
		if *in.Password == "" {
			link.PasswordHash = ""
		} else {
			hash, err := s.hasher.Hash(*in.Password)
			if err != nil {
				return nil, err
			}
			link.PasswordHash = hash
		}
	}
	switch {
	case in.ClearExpiry:
		link.ExpiresAt = nil
	case in.ExpiresAt != nil:
		link.ExpiresAt = utcPtr(in.ExpiresAt)
	}
	if in.IsActive != nil {
		link.IsActive = *in.IsActive
	}
	link.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, link); err != nil {
		return nil, err
	}
	s.invalidate(ctx, code)
	return link, nil
}

func (s *LinkService) DeleteLink(ctx context.Context, code string) error {
	if err := s.repo.Delete(ctx, code); err != nil {
		return err
	}
	s.invalidate(ctx, code)
	return nil
}

// ListLinks floors page at 1 and clamps limit to [1, MaxPageLimit].
func (s *LinkService) ListLinks(ctx context.Context, page, limit int) (*domain.Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	offset := (page - 1) * limit

	links, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.Page{
		Links: links,
		Page:  page,
		Limit: limit,
		Total: count,
		Pages: domain.PageCount(count, limit),
	}, nil
}

func (s *LinkService) ClearAll(ctx context.Context) (domain.ClearResult, error) {
	res, err := s.repo.ClearAll(ctx)
	if err != nil {
		return domain.ClearResult{}, err
	}
	if err := s.cache.Clear(ctx); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("cache clear failed")
	}
	logging.Ctx(ctx).Info().Int64("links", res.Links).Int64("clicks", res.Clicks).Msg("cleared all links")
	return res, nil
}

func (s *LinkService) GetLinkStats(ctx context.Context, code string) (*domain.LinkStats, error) {
	link, err := s.repo.GetByShortCode(ctx, code)
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.RecentClicks(ctx, code, RecentClicksLimit)
	if err != nil {
		return nil, err
	}
	breakdown, err := s.repo.ClickBreakdown(ctx, code, BreakdownTopValues)
	if err != nil {
		return nil, err
	}
	return &domain.LinkStats{Link: link, RecentClicks: recent, Breakdown: breakdown}, nil
}

func (s *LinkService) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *LinkService) Backend() string {
	return s.repo.Backend()
}

func (s *LinkService) invalidate(ctx context.Context, code string) {
	s.epoch.Add(1)
	s.group.Forget(code)
	if err := s.cache.Delete(ctx, code); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("code", code).Msg("cache invalidation failed")
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*domain.Link, error) { return nil, nil }
func (noopCache) Set(context.Context, *domain.Link) error           { return nil }
func (noopCache) Delete(context.Context, ...string) error           { return nil }
func (noopCache) Clear(context.Context) error                       { return nil }

var _ ports.LinkService = (*LinkService)(nil)
