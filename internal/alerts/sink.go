// Package alerts delivers operator notifications.
package alerts

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/otpkeeper/internal/logging"
)

// Prefix marks every operator alert.
const Prefix = "🚨 Sync Alert"

// Sink accepts a free-text message and an optional route (for Telegram,
// a chat id overriding the default one).
type Sink interface {
	Send(ctx context.Context, message, route string) error
}

// LogSink writes alerts to the structured log.
type LogSink struct {
	logger logging.Logger
}

func NewLogSink(l logging.Logger) *LogSink {
	return &LogSink{logger: l.With("component", "alerts")}
}

func (s *LogSink) Send(ctx context.Context, message, route string) error {
	s.logger.Warn(ctx, Prefix, "message", message, "route", route)
	return nil
}

// MultiSink fans an alert out to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, message, route string) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Send(ctx, message, route); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
