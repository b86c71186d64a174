package ports

import (
	"context"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
)

// LinkRepository defines storage operations for links and their clicks.
// Lookups of unknown codes return domain.ErrNotFound; inserting a taken
// code returns domain.ErrConflict.
type LinkRepository interface {
	Create(ctx context.Context, link *domain.Link) error
	GetByShortCode(ctx context.Context, code string) (*domain.Link, error)
	Exists(ctx context.Context, code string) (bool, error)
	Update(ctx context.Context, link *domain.Link) error
	Delete(ctx context.Context, code string) error // cascades to clicks
	List(ctx context.Context, limit, offset int) ([]domain.Link, error)
	Count(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) (domain.ClearResult, error)
	Dump(ctx context.Context) ([]domain.Link, error) // For export

	// Clicks
	RecordClick(ctx context.Context, click *domain.ClickEvent) error
	RecentClicks(ctx context.Context, code string, limit int) ([]domain.ClickEvent, error)
	ClickBreakdown(ctx context.Context, code string, top int) (domain.Breakdown, error)

	Ping(ctx context.Context) error
	Backend() string
}

// LinkCache is a read-through cache for resolved links. Get returns
// (nil, nil) on a miss.
type LinkCache interface {
	Get(ctx context.Context, code string) (*domain.Link, error)
	Set(ctx context.Context, link *domain.Link) error
	Delete(ctx context.Context, codes ...string) error
	Clear(ctx context.Context) error
}

// LinkService defines the business logic operations
type LinkService interface {
	Shorten(ctx context.Context, in domain.CreateLinkInput) (*domain.Link, error)
	GetLink(ctx context.Context, code string) (*domain.Link, error)
	Resolve(ctx context.Context, code string) (*domain.Link, error)
	UpdateLink(ctx context.Context, code string, in domain.UpdateLinkInput) (*domain.Link, error)
	DeleteLink(ctx context.Context, code string) error
	ListLinks(ctx context.Context, page, limit int) (*domain.Page, error)
	ClearAll(ctx context.Context) (domain.ClearResult, error)
	GetLinkStats(ctx context.Context, code string) (*domain.LinkStats, error)
	Health(ctx context.Context) error
	Backend() string
}

// ClickRecorder persists click events. Record never fails the caller.
type ClickRecorder interface {
	Record(ctx context.Context, in domain.ClickInput)
}

// AccessGate decides whether a redirect may proceed.
type AccessGate interface {
	Evaluate(ctx context.Context, code string, pass domain.PassCheck) (domain.Decision, error)
	Verify(ctx context.Context, code, password string) (domain.Decision, error)
}
