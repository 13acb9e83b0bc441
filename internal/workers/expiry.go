// Package workers holds the background runners of the attestation core.
package workers

import (
	"context"
	"log/slog"
	"time"

	"attestor/internal/attestation/service"
)

// ExpirySweeper periodically expires attestations past their validity window
// so the stored status converges even when nobody verifies them.
type ExpirySweeper struct {
	lifecycle *service.Manager
	interval  time.Duration
	logger    *slog.Logger
}

func NewExpirySweeper(lifecycle *service.Manager, interval time.Duration, logger *slog.Logger) *ExpirySweeper {
	return &ExpirySweeper{lifecycle: lifecycle, interval: interval, logger: logger}
}

// Run blocks until the context is cancelled, sweeping on each tick. An
// initial sweep runs immediately so restarts catch up without waiting a full
// interval.
func (s *ExpirySweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	expired, err := s.lifecycle.ExpireExpiredAttestations(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
		return
	}
	if expired > 0 {
		s.logger.InfoContext(ctx, "expiry sweep completed", "expired", expired)
	}
}
