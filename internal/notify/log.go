package notify

import (
	"context"

	"go.uber.org/zap"

	"passwordless-auth/internal/model"
	"passwordless-auth/internal/util"
)

// LogNotifier writes messages to the log instead of delivering them.
// For development only: the body contains the raw code or link.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Deliver(ctx context.Context, address string, msg model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	util.Warn("No notification transport configured, logging message",
		zap.String("address", address),
		zap.String("kind", msg.Kind),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}
