package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo *fakeRepo, opts ...Option) *LinkService {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewLinkService(repo, NewGenerator(repo, GeneratorConfig{}), NewPasswordHasher(bcrypt.MinCost), opts...)
}

func TestShorten(t *testing.T) {
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(time.Hour)

	tests := []struct {
		name      string
		in        domain.CreateLinkInput
		wantErr   bool
		wantField string
	}{
		{name: "generated code", in: domain.CreateLinkInput{URL: "https://example.com"}},
		{name: "custom code", in: domain.CreateLinkInput{URL: "https://example.com", Code: "abc"}},
		{name: "custom code too short", in: domain.CreateLinkInput{URL: "https://example.com", Code: "ab"}, wantErr: true, wantField: "code"},
		{name: "custom code bad charset", in: domain.CreateLinkInput{URL: "https://example.com", Code: "a b c"}, wantErr: true, wantField: "code"},
		{name: "reserved custom code", in: domain.CreateLinkInput{URL: "https://example.com", Code: "health"}, wantErr: true, wantField: "code"},
		{name: "missing url", in: domain.CreateLinkInput{}, wantErr: true, wantField: "url"},
		{name: "invalid url", in: domain.CreateLinkInput{URL: "ftp://example.com"}, wantErr: true, wantField: "url"},
		{name: "expired on arrival", in: domain.CreateLinkInput{URL: "https://example.com", ExpiresAt: &past}, wantErr: true, wantField: "expires_at"},
		{name: "future expiry", in: domain.CreateLinkInput{URL: "https://example.com", ExpiresAt: &future}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(newFakeRepo())
			link, err := svc.Shorten(context.Background(), tt.in)
			if tt.wantErr {
				var ve *domain.ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("Shorten() error = %v, want ValidationError", err)
				}
				if ve.Field != tt.wantField {
					t.Errorf("Field = %q, want %q", ve.Field, tt.wantField)
				}
				return
			}
			if err != nil {
				t.Fatalf("Shorten() unexpected error: %v", err)
			}
			if tt.in.Code != "" && link.ShortCode != tt.in.Code {
				t.Errorf("ShortCode = %q, want %q", link.ShortCode, tt.in.Code)
			}
			if tt.in.Code == "" && len(link.ShortCode) != DefaultCodeLength {
				t.Errorf("generated code %q has wrong length", link.ShortCode)
			}
			if !link.IsActive || link.ClickCount != 0 || !link.CreatedAt.Equal(fixedNow) {
				t.Errorf("unexpected defaults: %+v", link)
			}
		})
	}
}

func TestShortenRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	inactive := false

	created, err := svc.Shorten(ctx, domain.CreateLinkInput{
		URL:         "https://example.com/docs",
		Code:        "docs",
		Title:       "Docs",
		Description: "team docs",
		Owner:       "ops",
		IsActive:    &inactive,
	})
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}

	got, err := svc.GetLink(ctx, "docs")
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if got.OriginalURL != created.OriginalURL || got.Title != "Docs" || got.Description != "team docs" ||
		got.Owner != "ops" || got.IsActive {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestShortenNormalizesURL(t *testing.T) {
	svc := newTestService(newFakeRepo())
	link, err := svc.Shorten(context.Background(), domain.CreateLinkInput{URL: "https://example.com/路径"})
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if link.OriginalURL != "https://example.com/%E8%B7%AF%E5%BE%84" {
		t.Errorf("OriginalURL = %q", link.OriginalURL)
	}
}

func TestShortenHashesPassword(t *testing.T) {
	svc := newTestService(newFakeRepo())
	link, err := svc.Shorten(context.Background(), domain.CreateLinkInput{URL: "https://example.com", Password: "hunter2"})
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if link.PasswordHash == "" || strings.Contains(link.PasswordHash, "hunter2") {
		t.Errorf("PasswordHash = %q, want a hash", link.PasswordHash)
	}
	if !svc.hasher.Matches(link.PasswordHash, "hunter2") {
		t.Error("stored hash does not verify")
	}
}

func TestShortenCustomCodeConflict(t *testing.T) {
	svc := newTestService(newFakeRepo())
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "same"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 || conflicts != 1 {
		t.Errorf("got %d successes and %d conflicts, want 1 and 1", ok, conflicts)
	}
}

func TestShortenRetriesInsertConflict(t *testing.T) {
	repo := newFakeRepo()
	repo.conflictsOnCreate = 2
	svc := newTestService(repo)

	link, err := svc.Shorten(context.Background(), domain.CreateLinkInput{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if link.ShortCode == "" {
		t.Error("no code assigned")
	}
}

func TestShortenExhausted(t *testing.T) {
	repo := newFakeRepo()
	repo.conflictsOnCreate = 1000
	svc := newTestService(repo)

	_, err := svc.Shorten(context.Background(), domain.CreateLinkInput{URL: "https://example.com"})
	if !errors.Is(err, domain.ErrCodeSpaceExhausted) {
		t.Errorf("Shorten = %v, want ErrCodeSpaceExhausted", err)
	}
}

func TestListLinksPagination(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		_ = repo.Create(ctx, &domain.Link{
			ShortCode: fmt.Sprintf("c%02d", i),
			CreatedAt: fixedNow.Add(time.Duration(i) * time.Minute),
		})
	}

	tests := []struct {
		name          string
		page, limit   int
		wantPage      int
		wantLimit     int
		wantPages     int64
		wantLen       int
		wantFirstCode string
	}{
		{"first page", 1, 10, 1, 10, 3, 10, "c24"},
		{"last page", 3, 10, 3, 10, 3, 5, "c04"},
		{"page zero floored", 0, 10, 1, 10, 3, 10, "c24"},
		{"limit clamped", 1, 200, 1, 100, 1, 25, "c24"},
		{"limit floored", 1, 0, 1, 1, 25, 1, "c24"},
		{"past the end", 9, 10, 9, 10, 3, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := svc.ListLinks(ctx, tt.page, tt.limit)
			if err != nil {
				t.Fatalf("ListLinks: %v", err)
			}
			if p.Page != tt.wantPage || p.Limit != tt.wantLimit || p.Pages != tt.wantPages || p.Total != 25 {
				t.Errorf("meta = page %d limit %d pages %d total %d", p.Page, p.Limit, p.Pages, p.Total)
			}
			if len(p.Links) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(p.Links), tt.wantLen)
			}
			if tt.wantLen > 0 && p.Links[0].ShortCode != tt.wantFirstCode {
				t.Errorf("first = %q, want %q", p.Links[0].ShortCode, tt.wantFirstCode)
			}
		})
	}
}

func TestUpdateLink(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	svc := newTestService(repo, WithCache(cache))
	ctx := context.Background()

	if _, err := svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "upd", Password: "pw"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Resolve(ctx, "upd"); err != nil {
		t.Fatal(err)
	}

	newURL := "https://example.org/路径"
	title := "  New title "
	empty := ""
	off := false
	got, err := svc.UpdateLink(ctx, "upd", domain.UpdateLinkInput{
		URL:      &newURL,
		Title:    &title,
		Password: &empty,
		IsActive: &off,
	})
	if err != nil {
		t.Fatalf("UpdateLink: %v", err)
	}
	if got.OriginalURL != "https://example.org/%E8%B7%AF%E5%BE%84" || got.Title != "New title" ||
		got.HasPassword() || got.IsActive {
		t.Errorf("update not applied: %+v", got)
	}
	if len(cache.deleted) != 1 || cache.deleted[0] != "upd" {
		t.Errorf("cache invalidations = %v", cache.deleted)
	}

	bad := "not-a-url"
	if _, err := svc.UpdateLink(ctx, "upd", domain.UpdateLinkInput{URL: &bad}); !domain.IsValidation(err) {
		t.Errorf("bad url update = %v, want ValidationError", err)
	}
	if _, err := svc.UpdateLink(ctx, "missing", domain.UpdateLinkInput{Title: &title}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("missing update = %v, want ErrNotFound", err)
	}
}

func TestDeleteLink(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	svc := newTestService(repo, WithCache(cache))
	ctx := context.Background()

	_, _ = svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "bye"})
	_ = repo.RecordClick(ctx, &domain.ClickEvent{ShortCode: "bye", ClickedAt: fixedNow})

	if err := svc.DeleteLink(ctx, "bye"); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	if _, err := svc.GetLink(ctx, "bye"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetLink after delete = %v", err)
	}
	if _, err := svc.GetLinkStats(ctx, "bye"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetLinkStats after delete = %v", err)
	}
	if repo.clickCount() != 0 {
		t.Errorf("clicks left after delete: %d", repo.clickCount())
	}
	if err := svc.DeleteLink(ctx, "bye"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestResolveUsesCache(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	svc := newTestService(repo, WithCache(cache))
	ctx := context.Background()
	_, _ = svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "hot"})

	for i := 0; i < 5; i++ {
		if _, err := svc.Resolve(ctx, "hot"); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if repo.gets != 1 {
		t.Errorf("datastore reads = %d, want 1", repo.gets)
	}

	if _, err := svc.Resolve(ctx, "cold"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Resolve(unknown) = %v, want ErrNotFound", err)
	}
}

func TestResolveOutlivesCanceledCaller(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	_, _ = svc.Shorten(context.Background(), domain.CreateLinkInput{URL: "https://example.com", Code: "hangup"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	link, err := svc.Resolve(ctx, "hangup")
	if err != nil || link.ShortCode != "hangup" {
		t.Errorf("Resolve = %+v, %v", link, err)
	}
}

func TestResolveDoesNotCacheRacedRead(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	svc := newTestService(repo, WithCache(cache))
	ctx := context.Background()
	_, _ = svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "race"})

	// Disable the link after Resolve has read it but before it caches it.
	fired := false
	repo.afterGet = func() {
		if fired {
			return
		}
		fired = true
		off := false
		if _, err := svc.UpdateLink(ctx, "race", domain.UpdateLinkInput{IsActive: &off}); err != nil {
			t.Errorf("UpdateLink: %v", err)
		}
	}
	if _, err := svc.Resolve(ctx, "race"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if l, _ := cache.Get(ctx, "race"); l != nil {
		t.Errorf("stale link cached: %+v", l)
	}

	repo.afterGet = nil
	link, err := svc.Resolve(ctx, "race")
	if err != nil || link.IsActive {
		t.Errorf("Resolve after update = %+v, %v; want inactive", link, err)
	}
}

func TestResolveFallsThroughOnCacheError(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	svc := newTestService(repo, WithCache(cache))
	ctx := context.Background()
	_, _ = svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "warm"})

	link, err := svc.Resolve(ctx, "warm")
	if err != nil || link.ShortCode != "warm" {
		t.Errorf("Resolve = %+v, %v", link, err)
	}
}

func TestClearAll(t *testing.T) {
	repo := newFakeRepo()
	cache := newFakeCache()
	svc := newTestService(repo, WithCache(cache))
	ctx := context.Background()
	_, _ = svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "one"})
	_, _ = svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "two"})
	_ = repo.RecordClick(ctx, &domain.ClickEvent{ShortCode: "one", ClickedAt: fixedNow})

	res, err := svc.ClearAll(ctx)
	if err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if res.Links != 2 || res.Clicks != 1 {
		t.Errorf("ClearAll = %+v", res)
	}
	if cache.cleared != 1 {
		t.Errorf("cache cleared %d times", cache.cleared)
	}
}

func TestGetLinkStats(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	_, _ = svc.Shorten(ctx, domain.CreateLinkInput{URL: "https://example.com", Code: "st"})
	for i := 0; i < 150; i++ {
		_ = repo.RecordClick(ctx, &domain.ClickEvent{ShortCode: "st", Browser: "Chrome", ClickedAt: fixedNow})
	}

	stats, err := svc.GetLinkStats(ctx, "st")
	if err != nil {
		t.Fatalf("GetLinkStats: %v", err)
	}
	if stats.Link.ClickCount != 150 {
		t.Errorf("ClickCount = %d", stats.Link.ClickCount)
	}
	if len(stats.RecentClicks) != RecentClicksLimit {
		t.Errorf("recent clicks = %d, want %d", len(stats.RecentClicks), RecentClicksLimit)
	}
	if len(stats.Breakdown.Browsers) != 1 || stats.Breakdown.Browsers[0].Count != 150 {
		t.Errorf("browsers = %+v", stats.Breakdown.Browsers)
	}
}

func TestHealth(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)
	if err := svc.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
	repo.pingErr = errors.New("down")
	if err := svc.Health(context.Background()); err == nil {
		t.Error("Health should report datastore failure")
	}
}
