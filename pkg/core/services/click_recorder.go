package services

import (
	"context"
	"time"

	"github.com/wadjakorntonsri/shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/shortlink/pkg/logging"
	"github.com/wadjakorntonsri/shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/shortlink/pkg/ports"
)

const DefaultClickTimeout = 2 * time.Second

// ClickRecorder writes click events. A failed write is logged and counted
// but never returned; the redirect goes out regardless.
type ClickRecorder struct {
	repo    ports.LinkRepository
	timeout time.Duration
	now     func() time.Time
}

func NewClickRecorder(repo ports.LinkRepository, timeout time.Duration) *ClickRecorder {
	if timeout <= 0 {
		timeout = DefaultClickTimeout
	}
	return &ClickRecorder{
		repo:    repo,
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *ClickRecorder) Record(ctx context.Context, in domain.ClickInput) {
	// The client may hang up right after the redirect; keep writing.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	info := domain.ClassifyUserAgent(in.UserAgent)
	ev := &domain.ClickEvent{
		ShortCode:  in.ShortCode,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Referer:    in.Referer,
		DeviceType: info.DeviceType,
		Browser:    info.Browser,
		OS:         info.OS,
		ClickedAt:  r.now(),
	}

	if err := r.repo.RecordClick(ctx, ev); err != nil {
		metrics.ClickRecordFailures.Inc()
		logging.Ctx(ctx).Error().Err(err).Str("code", in.ShortCode).Msg("failed to record click")
		return
	}
	metrics.ClicksRecorded.Inc()
}

var _ ports.ClickRecorder = (*ClickRecorder)(nil)
