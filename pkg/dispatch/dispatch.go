// Package dispatch is the adapter layer between the step executor and the
// external send channels and incentive issuer.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/pumba68/qatering-journeys/pkg/models"
)

// Channel identifies a send channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "inapp"
	ChannelPush  Channel = "push"
)

// ChannelForNode maps a message node type to its channel.
func ChannelForNode(nodeType models.NodeType) (Channel, bool) {
	switch nodeType {
	case models.NodeTypeEmail:
		return ChannelEmail, true
	case models.NodeTypeInApp:
		return ChannelInApp, true
	case models.NodeTypePush:
		return ChannelPush, true
	default:
		return "", false
	}
}

// OutcomeStatus is the result class of a dispatch call.
type OutcomeStatus string

const (
	StatusSent    OutcomeStatus = "sent"
	StatusGranted OutcomeStatus = "granted"
	StatusSkipped OutcomeStatus = "skipped"
	StatusFailed  OutcomeStatus = "failed"
)

// Outcome is the observed result of a send or grant. Skips come from the
// collaborator (no consent, grant cap reached) and are not failures.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
}

// Failed reports whether the outcome counts against the node's failure
// policy. Skips follow the success edge.
func (o Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// IdempotencyKey makes incentive grants safe under duplicate execution;
// the issuer deduplicates on it.
type IdempotencyKey struct {
	ParticipantID string
	NodeID        string
}

// Sender delivers one message through one channel. Consent and
// subscription checks live behind this interface; a skipped outcome from
// it is trusted.
type Sender interface {
	Send(ctx context.Context, userID string, channel Channel, templateID string, overrides map[string]any) (Outcome, error)
}

// IncentiveIssuer grants wallet credits and coupons.
type IncentiveIssuer interface {
	Grant(ctx context.Context, userID string, key IdempotencyKey, config models.IncentiveConfig) (Outcome, error)
}

// Dispatcher bounds collaborator calls with a timeout and folds transport
// errors into failed outcomes. The engine never retries; retry semantics
// belong to the collaborator.
type Dispatcher struct {
	sender  Sender
	issuer  IncentiveIssuer
	timeout time.Duration
	logger  *slog.Logger
}

const DefaultTimeout = 10 * time.Second

func NewDispatcher(sender Sender, issuer IncentiveIssuer, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Dispatcher{
		sender:  sender,
		issuer:  issuer,
		timeout: timeout,
		logger:  logger.With("module", "dispatch"),
	}
}

func (d *Dispatcher) Send(ctx context.Context, userID string, channel Channel, config *models.MessageConfig) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	outcome, err := d.sender.Send(callCtx, userID, channel, config.TemplateID, config.Overrides)
	if err != nil {
		return d.failed(ctx, err, "send", userID, string(channel))
	}

	return outcome
}

func (d *Dispatcher) Grant(ctx context.Context, userID string, key IdempotencyKey, config models.IncentiveConfig) Outcome {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	outcome, err := d.issuer.Grant(callCtx, userID, key, config)
	if err != nil {
		return d.failed(ctx, err, "grant", userID, string(config.Kind))
	}

	return outcome
}

func (d *Dispatcher) failed(ctx context.Context, err error, op, userID, target string) Outcome {
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}

	d.logger.ErrorContext(ctx, "Dispatch call failed",
		"op", op, "user_id", userID, "target", target, "reason", reason)

	return Outcome{Status: StatusFailed, Reason: reason}
}
