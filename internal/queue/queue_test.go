package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/domain"
)

func TestMemoryQueue_PriorityOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	for _, p := range []domain.Priority{domain.PriorityLow, domain.PriorityNormal, domain.PriorityUrgent, domain.PriorityHigh} {
		require.NoError(t, q.Enqueue(ctx, &Job{ID: string(p), Queue: "email"}, Options{Priority: p}))
	}

	var got []string
	for {
		job, err := q.Dequeue(ctx, []string{"email"})
		require.NoError(t, err)
		if job == nil {
			break
		}
		got = append(got, job.ID)
	}
	assert.Equal(t, []string{"urgent", "high", "normal", "low"}, got)
}

func TestMemoryQueue_DelayedJobInvisibleUntilReady(t *testing.T) {
	q := NewMemoryQueue()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, &Job{Queue: "sms", RefID: uuid.New()}, Options{Delay: time.Minute}))

	job, err := q.Dequeue(ctx, []string{"sms"})
	require.NoError(t, err)
	assert.Nil(t, job)

	n, _ := q.Len(ctx, "sms")
	assert.EqualValues(t, 1, n)

	now = now.Add(time.Minute)
	job, err = q.Dequeue(ctx, []string{"sms"})
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "normal", job.Priority)
	assert.Equal(t, 1, job.MaxAttempts)
}

func TestMemoryQueue_FIFOWithinPriority(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, &Job{ID: id, Queue: "push"}, Options{Attempts: 3}))
	}
	first, _ := q.Dequeue(ctx, []string{"push"})
	second, _ := q.Dequeue(ctx, []string{"push"})
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, "b", second.ID)
	assert.Equal(t, 3, first.MaxAttempts)
}

func TestMemoryQueue_RejectsUnnamedQueue(t *testing.T) {
	q := NewMemoryQueue()
	err := q.Enqueue(context.Background(), &Job{}, Options{})
	assert.ErrorIs(t, err, ErrEmptyQueueName)
}

func TestMemoryQueue_ConcurrentClaimsAreExclusive(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, q.Enqueue(ctx, &Job{Queue: "in_app"}, Options{}))
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Dequeue(ctx, []string{"in_app"})
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, Backoff(1, time.Second, 2, 0))
	assert.Equal(t, 2*time.Second, Backoff(2, time.Second, 2, 0))
	assert.Equal(t, 4*time.Second, Backoff(3, time.Second, 2, 0))
	assert.Equal(t, 5*time.Second, Backoff(10, time.Second, 2, 5*time.Second))
	assert.Equal(t, time.Second, Backoff(0, time.Second, 2, 0))
}

func TestPoller_DrainsQueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, &Job{Queue: "email"}, Options{}))
	}

	var mu sync.Mutex
	handled := 0
	done := make(chan struct{})
	p := &Poller{
		Queue:    q,
		Queues:   []string{"email"},
		Workers:  2,
		Interval: 10 * time.Millisecond,
		Handle: func(_ context.Context, _ *Job) error {
			mu.Lock()
			defer mu.Unlock()
			handled++
			if handled == 5 {
				close(done)
			}
			return nil
		},
	}
	go func() { _ = p.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not drain the queue")
	}
	n, _ := q.Len(ctx, "email")
	assert.Zero(t, n)
}
