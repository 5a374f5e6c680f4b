package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pumba68/qatering-journeys/pkg/models"
)

type stubSender struct {
	outcome Outcome
	err     error
	delay   time.Duration
}

func (s *stubSender) Send(ctx context.Context, _ string, _ Channel, _ string, _ map[string]any) (Outcome, error) {
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}

	return s.outcome, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestDispatcher_Send_PassesThroughOutcome(t *testing.T) {
	sender := &stubSender{outcome: Outcome{Status: StatusSkipped, Reason: "no consent"}}
	dispatcher := NewDispatcher(sender, NewLogIssuer(testLogger()), time.Second, testLogger())

	outcome := dispatcher.Send(context.Background(), "u1", ChannelEmail, &models.MessageConfig{TemplateID: "welcome"})

	assert.Equal(t, StatusSkipped, outcome.Status)
	assert.Equal(t, "no consent", outcome.Reason)
	assert.False(t, outcome.Failed())
}

func TestDispatcher_Send_FoldsErrorIntoFailedOutcome(t *testing.T) {
	sender := &stubSender{err: errors.New("connection refused")}
	dispatcher := NewDispatcher(sender, NewLogIssuer(testLogger()), time.Second, testLogger())

	outcome := dispatcher.Send(context.Background(), "u1", ChannelPush, &models.MessageConfig{TemplateID: "welcome"})

	assert.True(t, outcome.Failed())
	assert.Contains(t, outcome.Reason, "connection refused")
}

func TestDispatcher_Send_TimeoutBecomesFailedOutcome(t *testing.T) {
	sender := &stubSender{delay: time.Second}
	dispatcher := NewDispatcher(sender, NewLogIssuer(testLogger()), 20*time.Millisecond, testLogger())

	outcome := dispatcher.Send(context.Background(), "u1", ChannelEmail, &models.MessageConfig{TemplateID: "welcome"})

	assert.True(t, outcome.Failed())
	assert.Equal(t, "timeout", outcome.Reason)
}

func TestChannelForNode(t *testing.T) {
	channel, ok := ChannelForNode(models.NodeTypeEmail)
	require.True(t, ok)
	assert.Equal(t, ChannelEmail, channel)

	channel, ok = ChannelForNode(models.NodeTypeInApp)
	require.True(t, ok)
	assert.Equal(t, ChannelInApp, channel)

	channel, ok = ChannelForNode(models.NodeTypePush)
	require.True(t, ok)
	assert.Equal(t, ChannelPush, channel)

	_, ok = ChannelForNode(models.NodeTypeDelay)
	assert.False(t, ok)
}

func TestLogIssuer_DeduplicatesOnIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	issuer := NewLogIssuer(testLogger())

	key := IdempotencyKey{ParticipantID: "prt-1", NodeID: "n5"}
	config := models.IncentiveConfig{Kind: models.IncentiveWalletCredit, Amount: 5}

	outcome, err := issuer.Grant(ctx, "u1", key, config)
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, outcome.Status)

	outcome, err = issuer.Grant(ctx, "u1", key, config)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, outcome.Status)

	// A different node grants again.
	outcome, err = issuer.Grant(ctx, "u1", IdempotencyKey{ParticipantID: "prt-1", NodeID: "n9"}, config)
	require.NoError(t, err)
	assert.Equal(t, StatusGranted, outcome.Status)
}
