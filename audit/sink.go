package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/folio-works/adminguard/internal/util"
)

// Sink durably stores a batch of events
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, events []Event) error

// Write calls f
func (f SinkFunc) Write(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

// LogSink writes events to a structured logger with the actor id hashed
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs every event at a level matching its severity
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Write logs each event
func (s *LogSink) Write(ctx context.Context, events []Event) error {
	for _, ev := range events {
		s.logger.LogAttrs(ctx, levelFor(ev.Severity), "security_audit", eventAttrs(ev)...)
	}
	return nil
}

func levelFor(sev Severity) slog.Level {
	switch sev {
	case SeverityCritical:
		return slog.LevelError
	case SeverityHigh:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func eventAttrs(ev Event) []slog.Attr {
	return []slog.Attr{
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("severity", ev.Severity.String()),
		slog.String("actor_id_hash", util.HashForLogging(ev.ActorID)),
		slog.String("resource", ev.Resource),
		slog.String("action", ev.Action),
		slog.String("ip_address", ev.IP),
		slog.Any("details", ev.Details),
		slog.Time("timestamp", ev.Timestamp),
	}
}

// MultiSink fans a batch out to several sinks. Every sink is attempted;
// the returned error joins all failures.
type MultiSink []Sink

// Write writes the batch to every sink
func (m MultiSink) Write(ctx context.Context, events []Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
