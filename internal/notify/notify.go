package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers a rendered daily summary to its recipients.
type Notifier interface {
	SendDailySummary(ctx context.Context, recipients []string, subject string, htmlBody string) error
}

// LogNotifier writes summaries to the log instead of delivering them.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendDailySummary(_ context.Context, recipients []string, subject string, htmlBody string) error {
	n.logger.Info("[notify] daily summary",
		zap.Strings("recipients", recipients),
		zap.String("subject", subject),
		zap.Int("body_bytes", len(htmlBody)),
	)
	return nil
}
