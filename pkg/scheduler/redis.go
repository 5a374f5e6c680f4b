package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisWakeQueue is a wake queue shared by multiple engine processes,
// backed by a sorted set scored by wake time. The ZREM on pop is the
// claim: only the caller that removes the member delivers the wake.
type RedisWakeQueue struct {
	client *redis.Client
	key    string
}

const defaultWakeKey = "journeys:wakes"

func NewRedisWakeQueue(redisURL string) (*RedisWakeQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisWakeQueue{
		client: redis.NewClient(opts),
		key:    defaultWakeKey,
	}, nil
}

// NewRedisWakeQueueWithClient wires an existing client; tests use it with
// miniredis.
func NewRedisWakeQueueWithClient(client *redis.Client) *RedisWakeQueue {
	return &RedisWakeQueue{client: client, key: defaultWakeKey}
}

func (q *RedisWakeQueue) Enqueue(ctx context.Context, participantID string, at time.Time) error {
	err := q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: participantID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to enqueue wake: %w", err)
	}

	return nil
}

func (q *RedisWakeQueue) Due(ctx context.Context, now time.Time, limit int) ([]Wake, error) {
	opt := &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.UnixMilli()),
		Count: int64(limit),
	}

	members, err := q.client.ZRangeByScoreWithScores(ctx, q.key, opt).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due wakes: %w", err)
	}

	due := make([]Wake, 0, len(members))

	for _, member := range members {
		participantID, ok := member.Member.(string)
		if !ok {
			continue
		}

		removed, err := q.client.ZRem(ctx, q.key, participantID).Result()
		if err != nil {
			return due, fmt.Errorf("failed to claim wake: %w", err)
		}

		// Another process claimed this wake first.
		if removed == 0 {
			continue
		}

		due = append(due, Wake{
			ParticipantID: participantID,
			At:            time.UnixMilli(int64(member.Score)).UTC(),
		})
	}

	return due, nil
}

func (q *RedisWakeQueue) Close() error {
	return q.client.Close()
}
