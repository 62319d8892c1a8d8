package services

import (
	"context"

	"github.com/dmitrijs2005/polls/internal/logging"
)

// EmailSender delivers a message and reports whether it was accepted.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) bool
}

// LogEmailSender writes messages to the log instead of delivering them. Bodies
// carry live link tokens, so they only appear at debug level.
type LogEmailSender struct {
	logger logging.Logger
}

func NewLogEmailSender(logger logging.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(ctx context.Context, to, subject, body string) bool {
	s.logger.Info(ctx, "email", "to", to, "subject", subject)
	s.logger.Debug(ctx, "email body", "to", to, "body", body)
	return true
}
