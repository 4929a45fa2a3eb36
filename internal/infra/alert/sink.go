package alert

import (
	"context"
	"errors"
	"log/slog"

	"crypto_arb/internal/domain"
)

// LogSink writes alerts to the structured log. It never fails.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink uses the default logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: slog.Default().With("module", "alert")}
}

func (s *LogSink) Send(_ context.Context, a domain.Alert) error {
	attrs := []any{
		slog.String("level", string(a.Level)),
		slog.String("subject", a.Subject),
		slog.String("body", a.Body),
	}
	if a.IsFatal() {
		s.logger.Error("🚨 ALERT", append(attrs, slog.Bool("fatal", true))...)
	} else {
		s.logger.Warn("🔔 ALERT", attrs...)
	}
	return nil
}

// Multi fans an alert out to every sink. One failing sink does not stop
// delivery to the rest.
type Multi []domain.AlertSink

func (m Multi) Send(ctx context.Context, a domain.Alert) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
