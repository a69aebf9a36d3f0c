package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types emitted after a committed transition.
const (
	EventContentAcknowledged = "content_acknowledged"
	EventQuizAttempted       = "quiz_attempted"
	EventExerciseGraded      = "exercise_graded"
	EventLessonCompleted     = "lesson_completed"
	EventCursorAdvanced      = "cursor_advanced"
)

// Event describes a committed progress change.
type Event struct {
	Type      string         `json:"type"`
	LearnerID string         `json:"learner_id"`
	LessonID  string         `json:"lesson_id"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Publisher delivers progress events. Publishing is best effort: progress is
// already committed when an event is published.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error {
	return nil
}

// MemoryPublisher keeps events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{events: []Event{}}
}

func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	if event.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event{}, p.events...)
}

// Types returns the event types in publish order.
func (p *MemoryPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// MultiPublisher fans an event out to several publishers and joins their errors.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Broadcaster delivers events to in-process subscribers of one learner.
// Slow subscribers lose events rather than block publishers.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
}

type subscription struct {
	ch chan Event
}

// NewBroadcaster creates a broadcaster whose subscriber channels hold buffer events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 16
	}
	return &Broadcaster{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
	}
}

// Subscribe registers for learnerID's events. The returned cancel func
// unregisters and closes the channel.
func (b *Broadcaster) Subscribe(learnerID string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.subs[learnerID] == nil {
		b.subs[learnerID] = make(map[*subscription]struct{})
	}
	b.subs[learnerID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[learnerID], sub)
			if len(b.subs[learnerID]) == 0 {
				delete(b.subs, learnerID)
			}
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Publish implements Publisher.
func (b *Broadcaster) Publish(_ context.Context, event Event) error {
	b.Deliver(event)
	return nil
}

// Deliver hands event to the learner's current subscribers.
func (b *Broadcaster) Deliver(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[event.LearnerID] {
		select {
		case sub.ch <- event:
		default:
			slog.Warn("dropping progress event for slow subscriber",
				"learner_id", event.LearnerID,
				"type", event.Type,
			)
		}
	}
}

// Subscribers returns the number of live subscriptions for learnerID.
func (b *Broadcaster) Subscribers(learnerID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[learnerID])
}

// RedisBus publishes events on a Redis pub/sub channel so every server
// instance can forward them to its own subscribers.
type RedisBus struct {
	rdb     *redis.Client
	channel string
}

// NewRedisBus creates a bus on channel. An empty channel defaults to "progress".
func NewRedisBus(rdb *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = "progress"
	}
	return &RedisBus{rdb: rdb, channel: channel}
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Forward subscribes to the channel and calls onEvent for every message until
// ctx is done. It returns once the subscription is confirmed.
func (b *RedisBus) Forward(ctx context.Context, onEvent func(Event)) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(m.Payload), &event); err != nil {
					slog.Warn("bad progress event payload", "error", err)
					continue
				}
				onEvent(event)
			}
		}
	}()
	return nil
}
