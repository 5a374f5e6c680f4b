package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDueScanner struct {
	mu    sync.Mutex
	wakes []Wake
}

func (s *fakeDueScanner) DueParticipants(_ context.Context, _ time.Time, _ int) ([]Wake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wakes := s.wakes
	s.wakes = nil

	return wakes, nil
}

type executionRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *executionRecorder) execute(_ context.Context, participantID string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ids = append(r.ids, participantID)

	return nil
}

func (r *executionRecorder) executed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.ids...)
}

func TestSweeper_DrainsQueue(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	queue := NewMemoryWakeQueue()
	recorder := &executionRecorder{}
	sweeper := NewSweeper(queue, &fakeDueScanner{}, recorder.execute, time.Minute, logger)

	require.NoError(t, queue.Enqueue(ctx, "p1", time.Now().Add(-time.Second)))
	require.NoError(t, queue.Enqueue(ctx, "p2", time.Now().Add(time.Hour)))

	sweeper.Sweep(ctx)

	assert.Equal(t, []string{"p1"}, recorder.executed())
	assert.Equal(t, 1, queue.Len())
}

func TestSweeper_RecoversDueRowsFromStore(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// The queue lost its wake (process restart); the store scan still
	// finds the due participant.
	scanner := &fakeDueScanner{wakes: []Wake{{ParticipantID: "p1", At: time.Now().Add(-time.Minute)}}}
	recorder := &executionRecorder{}
	sweeper := NewSweeper(NewMemoryWakeQueue(), scanner, recorder.execute, time.Minute, logger)

	sweeper.Sweep(ctx)

	assert.Equal(t, []string{"p1"}, recorder.executed())
}

func TestSweeper_StartAndStop(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	recorder := &executionRecorder{}
	sweeper := NewSweeper(NewMemoryWakeQueue(), &fakeDueScanner{}, recorder.execute, 50*time.Millisecond, logger)

	require.NoError(t, sweeper.Start(ctx))
	require.NoError(t, sweeper.Start(ctx), "second start is a no-op")

	time.Sleep(120 * time.Millisecond)

	require.NoError(t, sweeper.Stop(ctx))
}
