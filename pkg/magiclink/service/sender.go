package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/kaizencycle/mobius-browser-shell-sub002/pkg/magiclink"
)

// Sender delivers an issued link to its recipient out of band
type Sender interface {
	Send(ctx context.Context, email string, link *magiclink.Issued) error
}

// LogSender writes links to the log instead of delivering them. For local development only.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a LogSender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the link URL
func (s *LogSender) Send(_ context.Context, email string, link *magiclink.Issued) error {
	s.logger.Info("magic link issued",
		zap.String("email", email),
		zap.String("type", string(link.Type)),
		zap.Time("expires_at", link.ExpiresAt),
		zap.String("url", link.URL))
	return nil
}
