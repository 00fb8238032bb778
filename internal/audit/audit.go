// Package audit records login and logout events off the request path.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-idm-login/pkg/auth"
)

// Record is one audited login lifecycle event.
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	AccountID string    `json:"account_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Method    string    `json:"method,omitempty"`
	Redirect  string    `json:"redirect,omitempty"`
}

// Sink receives records from the dispatcher goroutine.
type Sink interface {
	Emit(ctx context.Context, record Record)
}

// SlogSink writes each record as a structured log line.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink logging through logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger.With("component", "audit")}
}

func (s *SlogSink) Emit(ctx context.Context, r Record) {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "auth event",
		slog.String("event_type", r.EventType),
		slog.String("account_id", r.AccountID),
		slog.String("email", r.Email),
		slog.String("ip", r.IP),
		slog.String("method", r.Method),
		slog.Time("at", r.Timestamp),
	)
}

// FromEvent converts a bus event into a record.
func FromEvent(e auth.Event) Record {
	r := Record{
		Timestamp: e.At,
		EventType: string(e.Type),
		IP:        e.ClientIP,
		Method:    e.Method,
		Redirect:  e.Redirect,
	}
	if e.Account != nil {
		r.Name = e.Account.Name
		r.Email = e.Account.Email
		if e.Account.ID != uuid.Nil {
			r.AccountID = e.Account.ID.String()
		}
	}
	return r
}

// Subscribe forwards login and logout events on bus to d.
func Subscribe(bus *auth.EventBus, d *Dispatcher) {
	forward := func(ctx context.Context, e auth.Event) {
		d.Emit(FromEvent(e))
	}
	bus.Subscribe(auth.EventLogin, forward)
	bus.Subscribe(auth.EventLogout, forward)
}
