package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers a password reset token to the owner of email.
type Notifier interface {
	Notify(ctx context.Context, email, token string, expiresAt time.Time) error
}

// LogNotifier writes reset deliveries to the application log. It stands in
// for an email gateway in local and console deployments.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(ctx context.Context, email, token string, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.log.Info("password reset token issued",
		zap.String("email", email),
		zap.String("reset_token", token),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, email, token string, expiresAt time.Time) error

func (f NotifierFunc) Notify(ctx context.Context, email, token string, expiresAt time.Time) error {
	return f(ctx, email, token, expiresAt)
}
