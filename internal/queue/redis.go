package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"vn.io.arda/realtime/internal/domain"
)

const keyPrefix = "rt:jobs:"

// RedisQueue stores each (queue, priority) pair in a sorted set scored by the
// ready time in milliseconds. A job is claimed by whoever removes it first.
type RedisQueue struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisQueue wraps an existing client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client, now: time.Now}
}

func redisKey(queue string, p domain.Priority) string {
	return keyPrefix + queue + ":" + string(p)
}

func (q *RedisQueue) Enqueue(ctx context.Context, job *Job, opts Options) error {
	p, err := prepare(job, opts)
	if err != nil {
		return err
	}
	member, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	readyAt := q.now().Add(opts.Delay).UnixMilli()
	if err := q.client.ZAdd(ctx, redisKey(job.Queue, p), redis.Z{
		Score:  float64(readyAt),
		Member: member,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Queue, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, queues []string) (*Job, error) {
	max := strconv.FormatInt(q.now().UnixMilli(), 10)
	for _, p := range domain.Priorities {
		for _, name := range queues {
			key := redisKey(name, p)
			members, err := q.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
				Min:   "-inf",
				Max:   max,
				Count: 1,
			}).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return nil, fmt.Errorf("peek %s: %w", key, err)
			}
			if len(members) == 0 {
				continue
			}
			removed, err := q.client.ZRem(ctx, key, members[0]).Result()
			if err != nil {
				return nil, fmt.Errorf("claim %s: %w", key, err)
			}
			if removed == 0 {
				// another worker won the claim
				continue
			}
			var job Job
			if err := json.Unmarshal([]byte(members[0]), &job); err != nil {
				return nil, fmt.Errorf("decode job from %s: %w", key, err)
			}
			return &job, nil
		}
	}
	return nil, nil
}

func (q *RedisQueue) Len(ctx context.Context, queue string) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(domain.Priorities))
	for _, p := range domain.Priorities {
		cmds = append(cmds, pipe.ZCard(ctx, redisKey(queue, p)))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}
