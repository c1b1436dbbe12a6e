package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"vn.io.arda/realtime/internal/domain"
)

type memEntry struct {
	readyAt time.Time
	seq     uint64
	job     Job
}

// MemoryQueue is a single-process Queue with the same ordering rules as
// RedisQueue. Used in tests and with queue.backend=memory.
type MemoryQueue struct {
	mu   sync.Mutex
	sets map[string][]memEntry
	seq  uint64
	now  func() time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{sets: make(map[string][]memEntry), now: time.Now}
}

// SetClock overrides the time source.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

func (q *MemoryQueue) Enqueue(_ context.Context, job *Job, opts Options) error {
	p, err := prepare(job, opts)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	key := redisKey(job.Queue, p)
	set := append(q.sets[key], memEntry{readyAt: q.now().Add(opts.Delay), seq: q.seq, job: *job})
	sort.SliceStable(set, func(i, j int) bool {
		if set[i].readyAt.Equal(set[j].readyAt) {
			return set[i].seq < set[j].seq
		}
		return set[i].readyAt.Before(set[j].readyAt)
	})
	q.sets[key] = set
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context, queues []string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for _, p := range domain.Priorities {
		for _, name := range queues {
			key := redisKey(name, p)
			set := q.sets[key]
			if len(set) == 0 || set[0].readyAt.After(now) {
				continue
			}
			job := set[0].job
			q.sets[key] = set[1:]
			return &job, nil
		}
	}
	return nil, nil
}

func (q *MemoryQueue) Len(_ context.Context, queue string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var n int64
	for _, p := range domain.Priorities {
		n += int64(len(q.sets[redisKey(queue, p)]))
	}
	return n, nil
}
