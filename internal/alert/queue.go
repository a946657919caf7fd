package alert

import (
	"math/rand"
	"sync"
	"time"
)

// Priority of an outbound message.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Outbound is one queued alert delivery.
type Outbound struct {
	ID          uint64
	Content     []byte
	Channel     string
	Priority    Priority
	CreatedAt   time.Time
	Attempts    int
	NextAttempt time.Time
}

// QueueConfig bounds retry behavior and queue lifetime.
type QueueConfig struct {
	MaxAttempts int
	MessageTTL  time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
	MaxQueued   int
}

func (c *QueueConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MessageTTL <= 0 {
		c.MessageTTL = 300 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 60 * time.Second
	}
	if c.MaxQueued <= 0 {
		c.MaxQueued = 256
	}
}

// Queue holds pending outbound messages with monotonic ids and retry
// scheduling. When full the oldest message is dropped.
type Queue struct {
	cfg QueueConfig

	mu     sync.Mutex
	items  []*Outbound
	nextID uint64
}

// NewQueue builds a queue.
func NewQueue(cfg QueueConfig) *Queue {
	cfg.applyDefaults()
	return &Queue{cfg: cfg}
}

// Enqueue adds a new outbound, assigning the next id. Returns the dropped
// oldest message when the queue was full, else nil.
func (q *Queue) Enqueue(content []byte, channel string, prio Priority, now time.Time) (*Outbound, *Outbound) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	msg := &Outbound{
		ID:          q.nextID,
		Content:     content,
		Channel:     channel,
		Priority:    prio,
		CreatedAt:   now,
		NextAttempt: now,
	}

	var dropped *Outbound
	if len(q.items) >= q.cfg.MaxQueued {
		dropped = q.items[0]
		q.items = q.items[1:]
	}
	q.items = append(q.items, msg)
	return msg, dropped
}

// Due pops the earliest message whose retry time has arrived, skipping and
// reporting expired ones.
func (q *Queue) Due(now time.Time) (msg *Outbound, expired []*Outbound) {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	for _, m := range q.items {
		if now.Sub(m.CreatedAt) > q.cfg.MessageTTL {
			expired = append(expired, m)
			continue
		}
		kept = append(kept, m)
	}
	q.items = kept

	best := -1
	for i, m := range q.items {
		if m.NextAttempt.After(now) {
			continue
		}
		if best == -1 || m.NextAttempt.Before(q.items[best].NextAttempt) {
			best = i
		}
	}
	if best == -1 {
		return nil, expired
	}
	msg = q.items[best]
	q.items = append(q.items[:best], q.items[best+1:]...)
	return msg, expired
}

// Requeue schedules a failed delivery for retry with full-jitter
// exponential backoff. Returns false when attempts are exhausted.
func (q *Queue) Requeue(m *Outbound, now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	m.Attempts++
	if m.Attempts >= q.cfg.MaxAttempts {
		return false
	}
	backoff := q.cfg.BackoffBase << uint(m.Attempts-1)
	if backoff > q.cfg.BackoffMax {
		backoff = q.cfg.BackoffMax
	}
	m.NextAttempt = now.Add(time.Duration(rand.Int63n(int64(backoff) + 1)))
	q.items = append(q.items, m)
	return true
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NextDue returns the earliest scheduled attempt time, or zero when empty.
func (q *Queue) NextDue() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	var t time.Time
	for _, m := range q.items {
		if t.IsZero() || m.NextAttempt.Before(t) {
			t = m.NextAttempt
		}
	}
	return t
}
