package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/amirk1998/account-manager/internal/audit"
	"github.com/amirk1998/account-manager/internal/database"
	"github.com/amirk1998/account-manager/internal/models"
	"github.com/amirk1998/account-manager/internal/ratelimit"
	"github.com/amirk1998/account-manager/internal/repository"
	"github.com/amirk1998/account-manager/internal/security"
)

type delivery struct {
	email     string
	token     string
	expiresAt time.Time
}

// recordingNotifier keeps every delivered reset token.
type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []delivery
	err        error
}

func (n *recordingNotifier) Notify(_ context.Context, email, token string, expiresAt time.Time) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.deliveries = append(n.deliveries, delivery{email: email, token: token, expiresAt: expiresAt})
	return nil
}

func (n *recordingNotifier) last(t *testing.T) delivery {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.deliveries, "no reset token delivered")
	return n.deliveries[len(n.deliveries)-1]
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.deliveries)
}

type testEnv struct {
	svc      *AccountService
	db       *sql.DB
	repo     *repository.UserRepository
	audit    *audit.Logger
	notifier *recordingNotifier
	hasher   *security.PasswordHasher

	mu  sync.Mutex
	now time.Time
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

type envOption func(*envConfig)

type envConfig struct {
	rps, burst int
}

func withRateLimit(rps, burst int) envOption {
	return func(c *envConfig) {
		c.rps = rps
		c.burst = burst
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{rps: 1000, burst: 1000}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir := t.TempDir()
	db, err := database.Connect(database.Config{
		Path:          filepath.Join(dir, "accounts.db"),
		EncryptionKey: strings.Repeat("s", 32),
		MaxOpenConns:  4,
		MaxIdleConns:  2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(db, nil))

	log := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))

	auditLogger, err := audit.NewLogger(db, filepath.Join(dir, "logs", "audit.log"), false, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditLogger.Close() })

	env := &testEnv{
		db:       db,
		repo:     repository.NewUserRepository(db),
		audit:    auditLogger,
		notifier: &recordingNotifier{},
		hasher:   security.NewPasswordHasher(security.WithArgon2Params(1, 8*1024, 1)),
		now:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	env.svc = NewAccountService(
		database.NewTransactionManager(db),
		env.repo,
		ratelimit.NewRateLimiter(cfg.rps, cfg.burst),
		auditLogger,
		env.notifier,
		log,
		WithHasher(env.hasher),
		WithClock(env.clock),
	)

	return env
}

func (e *testEnv) register(t *testing.T, username, email, password string) *models.UserProfile {
	t.Helper()
	profile, err := e.svc.Register(context.Background(), &models.CreateUserRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return profile
}

func (e *testEnv) login(t *testing.T, username, password string) *models.LoginResponse {
	t.Helper()
	resp, err := e.svc.Login(context.Background(), &models.LoginRequest{
		Username: username,
		Password: password,
	})
	require.NoError(t, err)
	return resp
}

func (e *testEnv) auditActions(t *testing.T, action string) []*audit.Event {
	t.Helper()
	events, err := e.audit.QueryLogs(context.Background(), audit.QueryFilters{Action: action, Limit: 1000})
	require.NoError(t, err)
	return events
}
