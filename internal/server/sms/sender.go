// Package sms defines the outbound SMS collaborator. Delivery is
// fire-and-forget from the engine's perspective: failures are logged by the
// caller, never retried here.
package sms

import (
	"context"
	"log/slog"
)

// Sender delivers a text message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, message string) error
}

// LogSender is the development sender: it logs the message instead of
// delivering it. The code is logged at DEBUG only.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a log-only sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the outbound message.
func (s *LogSender) Send(ctx context.Context, phone, message string) error {
	s.logger.Info("SMS send (dev mode)", "phone", phone)
	s.logger.Debug("SMS body", "phone", phone, "message", message)
	return nil
}
