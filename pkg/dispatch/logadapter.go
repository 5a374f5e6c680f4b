package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pumba68/qatering-journeys/pkg/models"
)

// LogSender is a development sender that logs instead of delivering.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "log_sender")}
}

func (s *LogSender) Send(ctx context.Context, userID string, channel Channel, templateID string, overrides map[string]any) (Outcome, error) {
	s.logger.InfoContext(ctx, "Would send message",
		"user_id", userID, "channel", string(channel), "template_id", templateID, "overrides", overrides)

	return Outcome{Status: StatusSent}, nil
}

// LogIssuer is a development issuer that logs grants and deduplicates on
// the idempotency key, the same contract a real issuer honors.
type LogIssuer struct {
	logger *slog.Logger

	mu      sync.Mutex
	granted map[IdempotencyKey]struct{}
}

func NewLogIssuer(logger *slog.Logger) *LogIssuer {
	return &LogIssuer{
		logger:  logger.With("module", "log_issuer"),
		granted: make(map[IdempotencyKey]struct{}),
	}
}

func (i *LogIssuer) Grant(ctx context.Context, userID string, key IdempotencyKey, config models.IncentiveConfig) (Outcome, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if _, ok := i.granted[key]; ok {
		return Outcome{Status: StatusSkipped, Reason: "already granted"}, nil
	}

	i.granted[key] = struct{}{}

	i.logger.InfoContext(ctx, "Would grant incentive",
		"user_id", userID, "kind", string(config.Kind), "amount", config.Amount, "coupon_id", config.CouponID)

	return Outcome{Status: StatusGranted}, nil
}
