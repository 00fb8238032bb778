package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tendant/simple-idm-login/pkg/domain"
)

// EventType identifies a login lifecycle event.
type EventType string

const (
	EventLogin  EventType = "login"
	EventLogout EventType = "logout"
)

// Event is delivered to subscribers at login and logout transitions.
// For logouts through a session only Name and Email of Account are set.
type Event struct {
	Type     EventType
	Account  *domain.Account
	Redirect string
	ClientIP string
	Method   string // "session" or "token" for logouts
	At       time.Time
}

// Subscriber receives events. The context is the request context, which
// carries the response writer when the HTTP layer put one there.
type Subscriber func(ctx context.Context, event Event)

// EventBus fans events out to subscribers synchronously, once per
// transition. A panicking subscriber is logged and skipped.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[EventType][]Subscriber
	logger *slog.Logger
}

// NewEventBus creates an empty event bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBus{
		subs:   make(map[EventType][]Subscriber),
		logger: logger,
	}
}

// Subscribe registers fn for events of type t.
func (b *EventBus) Subscribe(t EventType, fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], fn)
}

// Publish delivers event to every subscriber of its type.
func (b *EventBus) Publish(ctx context.Context, event Event) {
	if b == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[event.Type]...)
	b.mu.RUnlock()

	for _, fn := range subs {
		b.deliver(ctx, fn, event)
	}
}

func (b *EventBus) deliver(ctx context.Context, fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event subscriber panicked", "event", event.Type, "panic", r)
		}
	}()
	fn(ctx, event)
}
