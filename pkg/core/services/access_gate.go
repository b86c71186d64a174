package services

import (
	"context"
	"errors"
	"time"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
)

type linkResolver interface {
	Resolve(ctx context.Context, code string) (*domain.Link, error)
}

// AccessGate evaluates a link before a redirect. The checks run in a fixed
// order: not found, expired, disabled, locked, open.
type AccessGate struct {
	links  linkResolver
	hasher *PasswordHasher
	now    func() time.Time
}

func NewAccessGate(links linkResolver, hasher *PasswordHasher) *AccessGate {
	return &AccessGate{
		links:  links,
		hasher: hasher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate decides the gate state. pass is consulted only for a link that
// would otherwise be locked, so the pass is checked against the link as it
// stands now.
func (g *AccessGate) Evaluate(ctx context.Context, code string, pass domain.PassCheck) (domain.Decision, error) {
	link, err := g.links.Resolve(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Decision{State: domain.GateNotFound}, nil
	}
	if err != nil {
		return domain.Decision{}, err
	}
	return domain.Decision{State: g.state(link, pass), Link: link}, nil
}

// Verify checks a password for a locked link. Links that are not locked
// get their ordinary decision back; a wrong password keeps the link locked
// and sets Err to domain.ErrInvalidPassword.
func (g *AccessGate) Verify(ctx context.Context, code, password string) (domain.Decision, error) {
	d, err := g.Evaluate(ctx, code, nil)
	if err != nil || d.State != domain.GateLocked {
		return d, err
	}

	ok := g.hasher.Matches(d.Link.PasswordHash, password)
	metrics.RecordPasswordCheck(ok)
	if !ok {
		d.Err = domain.ErrInvalidPassword
		return d, nil
	}
	d.State = domain.GateOpen
	return d, nil
}

func (g *AccessGate) state(link *domain.Link, pass domain.PassCheck) domain.GateState {
	switch {
	case link.IsExpired(g.now()):
		return domain.GateExpired
	case !link.IsActive:
		return domain.GateDisabled
	case link.HasPassword() && (pass == nil || !pass(link)):
		return domain.GateLocked
	default:
		return domain.GateOpen
	}
}

var _ ports.AccessGate = (*AccessGate)(nil)
