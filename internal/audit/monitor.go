package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultFailedLoginWindow    = 5 * time.Minute
	DefaultFailedLoginThreshold = 5
)

type Monitor struct {
	logger    *Logger
	log       *zap.Logger
	window    time.Duration
	threshold int
	now       func() time.Time
}

// NewMonitor creates a new security monitor
func NewMonitor(logger *Logger, log *zap.Logger) *Monitor {
	return &Monitor{
		logger:    logger,
		log:       log.Named("monitor"),
		window:    DefaultFailedLoginWindow,
		threshold: DefaultFailedLoginThreshold,
		now:       time.Now,
	}
}

// DetectFailedLogins counts LOGIN_FAILED events per attempted username inside
// the window and returns the usernames at or above the threshold. Attempts
// against unknown usernames are counted too.
func (m *Monitor) DetectFailedLogins(ctx context.Context) ([]string, error) {
	now := m.now().UTC()
	since := now.Add(-m.window)

	counts, err := m.logger.CountByUsername(ctx, ActionLoginFailed, since, now, m.threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to count failed logins: %w", err)
	}

	flagged := make([]string, 0, len(counts))
	for _, c := range counts {
		flagged = append(flagged, c.Username)

		m.log.Warn("failed login threshold reached",
			zap.String("username", c.Username),
			zap.Int("attempts", c.Count),
			zap.Duration("window", m.window),
		)

		err := m.logger.Log(&Event{
			Level:    LevelCritical,
			UserID:   c.UserID,
			Username: c.Username,
			Action:   ActionFailedLoginThreshold,
			Resource: ResourceAuth,
			Success:  false,
			ErrorMsg: fmt.Sprintf("%d failed attempts detected", c.Count),
		})
		if err != nil {
			m.log.Error("failed to record threshold event", zap.Error(err))
		}
	}

	return flagged, nil
}

// DetectSuspiciousActivity runs all security checks
func (m *Monitor) DetectSuspiciousActivity(ctx context.Context) error {
	if _, err := m.DetectFailedLogins(ctx); err != nil {
		m.log.Error("failed to detect failed logins", zap.Error(err))
		return err
	}
	return nil
}

// Run executes DetectSuspiciousActivity every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.DetectSuspiciousActivity(ctx)
		}
	}
}
