package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/amirk1998/account-manager/internal/audit"
	"github.com/amirk1998/account-manager/internal/models"
	apperrors "github.com/amirk1998/account-manager/pkg/errors"
)

func TestRegister(t *testing.T) {
	env := newTestEnv(t)

	profile := env.register(t, "alice", "a@x.com", "pw123")
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "a@x.com", profile.Email)
	_, err := uuid.Parse(profile.ID)
	assert.NoError(t, err)

	stored, err := env.repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.NotEqual(t, "pw123", stored.PasswordHash)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"))
	assert.Nil(t, stored.SessionToken)

	assert.Len(t, env.auditActions(t, audit.ActionRegisterSuccess), 1)
}

func TestRegister_SanitizesInput(t *testing.T) {
	env := newTestEnv(t)

	profile := env.register(t, "  alice\x00 ", " a@x.com ", "pw123")
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "a@x.com", profile.Email)
}

func TestRegister_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "a@x.com", "pw123")

	tests := []struct {
		name     string
		username string
		email    string
	}{
		{"same username", "alice", "b@x.com"},
		{"same email", "bob", "a@x.com"},
		{"both", "alice", "a@x.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Register(ctx, &models.CreateUserRequest{
				Username: tt.username,
				Email:    tt.email,
				Password: "pw456",
			})
			assert.ErrorIs(t, err, apperrors.ErrDuplicateAccount)
		})
	}

	// the original account is untouched
	resp := env.login(t, "alice", "pw123")
	assert.Equal(t, "a@x.com", resp.Email)
	assert.Len(t, env.auditActions(t, audit.ActionRegisterDuplicate), 3)
}

func TestRegister_InvalidInput(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     models.CreateUserRequest
		wantErr error
	}{
		{"short username", models.CreateUserRequest{Username: "al", Email: "a@x.com", Password: "pw123"}, apperrors.ErrInvalidUsername},
		{"bad username chars", models.CreateUserRequest{Username: "al ice", Email: "a@x.com", Password: "pw123"}, apperrors.ErrInvalidUsername},
		{"bad email", models.CreateUserRequest{Username: "alice", Email: "not-an-email", Password: "pw123"}, apperrors.ErrInvalidEmail},
		{"empty password", models.CreateUserRequest{Username: "alice", Email: "a@x.com", Password: ""}, apperrors.ErrWeakPassword},
		{"long password", models.CreateUserRequest{Username: "alice", Email: "a@x.com", Password: strings.Repeat("p", 129)}, apperrors.ErrWeakPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := env.svc.Register(ctx, &req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := env.repo.GetByUsername(ctx, "alice")
	assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestNilRequests(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.Register(ctx, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = env.svc.Login(ctx, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.ErrorIs(t, env.svc.ResetPassword(ctx, nil), apperrors.ErrInvalidInput)
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		duplicates int
		others     []error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.Register(ctx, &models.CreateUserRequest{
				Username: "alice",
				Email:    "alice" + string(rune('a'+i)) + "@x.com",
				Password: "pw123",
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperrors.ErrDuplicateAccount):
				duplicates++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Empty(t, others)
	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, duplicates)
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "a@x.com", "pw123")

	resp := env.login(t, "alice", "pw123")
	assert.Equal(t, "alice", resp.Username)
	assert.Equal(t, "a@x.com", resp.Email)
	assert.Len(t, resp.SessionToken, 64)

	stored, err := env.repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, stored.SessionToken)
	assert.Equal(t, resp.SessionToken, *stored.SessionToken)
	require.NotNil(t, stored.LastLogin)
	assert.True(t, env.clock().Equal(*stored.LastLogin))
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "a@x.com", "pw123")

	_, wrongPassword := env.svc.Login(ctx, &models.LoginRequest{Username: "alice", Password: "wrong"})
	_, unknownUser := env.svc.Login(ctx, &models.LoginRequest{Username: "nobody", Password: "pw123"})

	require.ErrorIs(t, wrongPassword, apperrors.ErrInvalidCredentials)
	require.ErrorIs(t, unknownUser, apperrors.ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownUser.Error())

	failed := env.auditActions(t, audit.ActionLoginFailed)
	require.Len(t, failed, 2)
	reasons := map[string]string{}
	for _, e := range failed {
		reasons[e.Username] = audit.DecodeMetadata(e.Metadata)["reason"]
	}
	assert.Equal(t, map[string]string{
		"alice":  failReasonWrongPassword,
		"nobody": failReasonUnknownUser,
	}, reasons)
}

func TestNewAccountService_PreparesDummyHash(t *testing.T) {
	env := newTestEnv(t)

	assert.True(t, strings.HasPrefix(env.svc.dummyHash, "$argon2id$"))
	valid, err := env.hasher.Verify(dummyPassword, env.svc.dummyHash)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestLogin_NewLoginInvalidatesPreviousToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "a@x.com", "pw123")

	t1 := env.login(t, "alice", "pw123").SessionToken
	t2 := env.login(t, "alice", "pw123").SessionToken
	assert.NotEqual(t, t1, t2)

	_, err := env.svc.VerifyToken(ctx, t1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)

	profile, err := env.svc.VerifyToken(ctx, t2)
	require.NoError(t, err)
	assert.Equal(t, "alice", profile.Username)
	assert.Equal(t, "a@x.com", profile.Email)
}

func TestLogin_RehashesLegacyBcrypt(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("pw123"), bcrypt.MinCost)
	require.NoError(t, err)

	now := env.clock()
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     "legacy",
		Email:        "legacy@x.com",
		PasswordHash: string(legacy),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, env.repo.Create(ctx, user))

	env.login(t, "legacy", "pw123")

	stored, err := env.repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$argon2id$"))
	assert.Len(t, env.auditActions(t, audit.ActionPasswordRehashed), 1)

	// the upgraded hash still accepts the same password
	env.login(t, "legacy", "pw123")
	assert.Len(t, env.auditActions(t, audit.ActionPasswordRehashed), 1)
}

func TestLogin_RateLimitedPerUsername(t *testing.T) {
	env := newTestEnv(t, withRateLimit(1, 2))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := env.svc.Login(ctx, &models.LoginRequest{Username: "alice", Password: "x"})
		require.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
	}

	_, err := env.svc.Login(ctx, &models.LoginRequest{Username: "alice", Password: "x"})
	assert.ErrorIs(t, err, apperrors.ErrRateLimitExceeded)

	// another username has its own bucket
	_, err = env.svc.Login(ctx, &models.LoginRequest{Username: "bob", Password: "x"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)
}

func TestVerifyToken_Invalid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.svc.VerifyToken(ctx, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)

	_, err = env.svc.VerifyToken(ctx, strings.Repeat("0", 64))
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "a@x.com", "pw123")
	token := env.login(t, "alice", "pw123").SessionToken

	require.NoError(t, env.svc.Logout(ctx, token))

	_, err := env.svc.VerifyToken(ctx, token)
	assert.ErrorIs(t, err, apperrors.ErrInvalidSession)
	assert.Len(t, env.auditActions(t, audit.ActionLogout), 1)

	// repeated and unknown tokens succeed silently
	assert.NoError(t, env.svc.Logout(ctx, token))
	assert.NoError(t, env.svc.Logout(ctx, "unknown"))
	assert.NoError(t, env.svc.Logout(ctx, ""))
	assert.Len(t, env.auditActions(t, audit.ActionLogout), 1)
}

func TestAuditTrailHasNoSecrets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice", "a@x.com", "secret-pw")
	token := env.login(t, "alice", "secret-pw").SessionToken
	_, err := env.svc.RequestPasswordReset(ctx, "a@x.com")
	require.NoError(t, err)
	resetToken := env.notifier.last(t).token

	events, err := env.audit.QueryLogs(ctx, audit.QueryFilters{Limit: 1000})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	for _, e := range events {
		for _, field := range []string{e.Username, e.Metadata, e.ErrorMsg} {
			assert.NotContains(t, field, "secret-pw")
			assert.NotContains(t, field, token)
			assert.NotContains(t, field, resetToken)
		}
	}
}

func TestStorageFailureIsInternal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.db.Close())

	_, err := env.svc.Register(ctx, &models.CreateUserRequest{Username: "alice", Email: "a@x.com", Password: "pw123"})
	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.Equal(t, apperrors.ErrInternal.Error(), err.Error())

	_, err = env.svc.Login(ctx, &models.LoginRequest{Username: "alice", Password: "pw123"})
	assert.ErrorIs(t, err, apperrors.ErrInternal)

	_, err = env.svc.VerifyToken(ctx, "token")
	assert.ErrorIs(t, err, apperrors.ErrInternal)

	// nothing about storage leaks through the reset acknowledgment
	ack, err := env.svc.RequestPasswordReset(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, ResetRequestAck, ack)
}
