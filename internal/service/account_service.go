package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/amirk1998/account-manager/internal/audit"
	"github.com/amirk1998/account-manager/internal/database"
	"github.com/amirk1998/account-manager/internal/models"
	"github.com/amirk1998/account-manager/internal/notify"
	"github.com/amirk1998/account-manager/internal/ratelimit"
	"github.com/amirk1998/account-manager/internal/repository"
	"github.com/amirk1998/account-manager/internal/security"
	apperrors "github.com/amirk1998/account-manager/pkg/errors"
	"github.com/amirk1998/account-manager/pkg/validator"
)

const (
	DefaultResetTokenTTL = time.Hour

	registerRateKey      = "register"
	resetCompleteRateKey = "reset-complete"

	// verified against when the username is unknown
	dummyPassword = "account-manager-dummy-password"
)

// Login failure reasons kept in LOGIN_FAILED metadata.
const (
	failReasonUnknownUser     = "unknown_user"
	failReasonWrongPassword   = "wrong_password"
	failReasonPasswordChanged = "password_changed"
)

// AccountService implements registration, login, session verification,
// logout and password reset. Every state change runs in a single transaction.
type AccountService struct {
	txManager   *database.TransactionManager
	userRepo    *repository.UserRepository
	hasher      *security.PasswordHasher
	validator   *validator.Validator
	rateLimiter *ratelimit.RateLimiter
	auditLogger *audit.Logger
	notifier    notify.Notifier
	log         *zap.Logger
	resetTTL    time.Duration
	now         func() time.Time

	// hashed with the configured hasher at construction
	dummyHash string
}

type Option func(*AccountService)

func WithHasher(h *security.PasswordHasher) Option {
	return func(s *AccountService) { s.hasher = h }
}

func WithValidator(v *validator.Validator) Option {
	return func(s *AccountService) { s.validator = v }
}

// WithResetTokenTTL sets how long a password reset token stays valid.
func WithResetTokenTTL(ttl time.Duration) Option {
	return func(s *AccountService) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithClock replaces time.Now, used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *AccountService) { s.now = now }
}

// NewAccountService creates a new account service
func NewAccountService(
	txManager *database.TransactionManager,
	userRepo *repository.UserRepository,
	rateLimiter *ratelimit.RateLimiter,
	auditLogger *audit.Logger,
	notifier notify.Notifier,
	log *zap.Logger,
	opts ...Option,
) *AccountService {
	s := &AccountService{
		txManager:   txManager,
		userRepo:    userRepo,
		hasher:      security.NewPasswordHasher(),
		validator:   validator.New(),
		rateLimiter: rateLimiter,
		auditLogger: auditLogger,
		notifier:    notifier,
		log:         log.Named("account"),
		resetTTL:    DefaultResetTokenTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dummyHash, err := s.hasher.Hash(dummyPassword)
	if err != nil {
		s.log.Error("failed to prepare dummy hash", zap.Error(err))
	}
	s.dummyHash = dummyHash

	return s
}

// Register creates a new account and returns its public profile.
func (s *AccountService) Register(ctx context.Context, req *models.CreateUserRequest) (*models.UserProfile, error) {
	if req == nil {
		return nil, apperrors.ErrInvalidInput
	}

	if err := s.rateLimiter.CheckLimit(registerRateKey); err != nil {
		s.audit(&audit.Event{
			Level:    audit.LevelWarning,
			Action:   audit.ActionRegisterRateLimited,
			ErrorMsg: err.Error(),
		})
		return nil, err
	}

	username := s.validator.SanitizeString(req.Username)
	email := s.validator.SanitizeString(req.Email)

	if err := s.validateRegistration(username, email, req.Password); err != nil {
		s.audit(&audit.Event{
			Level:    audit.LevelWarning,
			Username: username,
			Action:   audit.ActionRegisterInvalid,
			ErrorMsg: err.Error(),
		})
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, s.internal(audit.ActionRegisterError, "hash password", err)
	}

	now := s.now().UTC()
	user := &models.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.txManager.Execute(ctx, func(ctx context.Context, tx database.DBTX) error {
		repo := s.userRepo.WithTx(tx)

		exists, err := repo.ExistsByUsernameOrEmail(ctx, username, email)
		if err != nil {
			return err
		}
		if exists {
			return apperrors.ErrDuplicateAccount
		}

		if err := repo.Create(ctx, user); err != nil {
			if errors.Is(err, apperrors.ErrUserAlreadyExists) {
				return apperrors.ErrDuplicateAccount
			}
			return err
		}
		return nil
	})
	if errors.Is(err, apperrors.ErrDuplicateAccount) {
		s.audit(&audit.Event{
			Level:    audit.LevelWarning,
			Username: username,
			Action:   audit.ActionRegisterDuplicate,
			ErrorMsg: err.Error(),
		})
		return nil, err
	}
	if err != nil {
		return nil, s.internal(audit.ActionRegisterError, "create user", err)
	}

	s.audit(&audit.Event{
		Level:   audit.LevelInfo,
		UserID:  &user.ID,
		Action:  audit.ActionRegisterSuccess,
		Success: true,
	})
	s.log.Info("account registered", zap.String("user_id", user.ID))

	return user.Profile(), nil
}

func (s *AccountService) validateRegistration(username, email, password string) error {
	if err := s.validator.ValidateUsername(username); err != nil {
		return err
	}
	if err := s.validator.ValidateEmail(email); err != nil {
		return err
	}
	return s.validator.ValidatePassword(password)
}

// Login authenticates a user and issues a new session token, replacing any
// previous one. Unknown users and wrong passwords fail identically.
func (s *AccountService) Login(ctx context.Context, req *models.LoginRequest) (*models.LoginResponse, error) {
	if req == nil {
		return nil, apperrors.ErrInvalidInput
	}

	username := s.validator.SanitizeString(req.Username)

	rateLimitKey := fmt.Sprintf("login:%s", username)
	if err := s.rateLimiter.CheckLimit(rateLimitKey); err != nil {
		s.audit(&audit.Event{
			Level:    audit.LevelWarning,
			Username: username,
			Action:   audit.ActionLoginRateLimited,
			ErrorMsg: err.Error(),
		})
		return nil, err
	}

	user, err := s.userRepo.GetByUsername(ctx, username)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		// same cost as a real verification
		_, _ = s.hasher.Verify(req.Password, s.dummyHash)
		s.loginFailed(nil, username, failReasonUnknownUser)
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, s.internal(audit.ActionLoginError, "load user", err)
	}

	valid, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		return nil, s.internal(audit.ActionLoginError, "verify password", err)
	}
	if !valid {
		s.loginFailed(&user.ID, username, failReasonWrongPassword)
		return nil, apperrors.ErrInvalidCredentials
	}

	sessionToken, err := security.GenerateToken()
	if err != nil {
		return nil, s.internal(audit.ActionLoginError, "generate session token", err)
	}

	var upgradedHash string
	if s.hasher.NeedsRehash(user.PasswordHash) {
		upgradedHash, err = s.hasher.Hash(req.Password)
		if err != nil {
			// the login itself is still valid
			s.log.Warn("failed to rehash password", zap.String("user_id", user.ID), zap.Error(err))
			upgradedHash = ""
		}
	}

	now := s.now().UTC()
	err = s.txManager.Execute(ctx, func(ctx context.Context, tx database.DBTX) error {
		repo := s.userRepo.WithTx(tx)

		current, err := repo.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		// password changed after it was verified
		if current.PasswordHash != user.PasswordHash {
			return apperrors.ErrInvalidCredentials
		}

		if err := repo.StartSession(ctx, user.ID, sessionToken, now); err != nil {
			return err
		}

		if upgradedHash != "" {
			return repo.RehashPassword(ctx, user.ID, user.PasswordHash, upgradedHash, now)
		}
		return nil
	})
	if errors.Is(err, apperrors.ErrInvalidCredentials) || errors.Is(err, apperrors.ErrUserNotFound) {
		s.loginFailed(&user.ID, username, failReasonPasswordChanged)
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, s.internal(audit.ActionLoginError, "start session", err)
	}

	if upgradedHash != "" {
		s.audit(&audit.Event{
			Level:   audit.LevelInfo,
			UserID:  &user.ID,
			Action:  audit.ActionPasswordRehashed,
			Success: true,
		})
	}
	s.audit(&audit.Event{
		Level:   audit.LevelInfo,
		UserID:  &user.ID,
		Action:  audit.ActionLoginSuccess,
		Success: true,
	})

	return &models.LoginResponse{
		Username:     user.Username,
		Email:        user.Email,
		SessionToken: sessionToken,
	}, nil
}

// loginFailed records a LOGIN_FAILED event. The reason only reaches the audit
// trail; callers always see ErrInvalidCredentials.
func (s *AccountService) loginFailed(userID *string, username, reason string) {
	s.audit(&audit.Event{
		Level:    audit.LevelWarning,
		UserID:   userID,
		Username: username,
		Action:   audit.ActionLoginFailed,
		ErrorMsg: apperrors.ErrInvalidCredentials.Error(),
		Metadata: audit.EncodeMetadata(map[string]string{"reason": reason}),
	})
}

// VerifyToken returns the profile of the user holding the session token.
func (s *AccountService) VerifyToken(ctx context.Context, token string) (*models.UserProfile, error) {
	if token == "" {
		return nil, apperrors.ErrInvalidSession
	}

	user, err := s.userRepo.GetBySessionToken(ctx, token)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		s.audit(&audit.Event{
			Level:    audit.LevelWarning,
			Action:   audit.ActionSessionInvalid,
			ErrorMsg: apperrors.ErrInvalidSession.Error(),
		})
		return nil, apperrors.ErrInvalidSession
	}
	if err != nil {
		return nil, s.internal(audit.ActionSessionInvalid, "verify session", err)
	}

	return user.Profile(), nil
}

// Logout ends the session identified by token. Unknown tokens are ignored.
func (s *AccountService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}

	var userID string
	err := s.txManager.Execute(ctx, func(ctx context.Context, tx database.DBTX) error {
		repo := s.userRepo.WithTx(tx)

		user, err := repo.GetBySessionToken(ctx, token)
		if err != nil {
			return err
		}
		userID = user.ID
		return repo.ClearSession(ctx, user.ID, s.now().UTC())
	})
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return s.internal(audit.ActionLogout, "clear session", err)
	}

	s.audit(&audit.Event{
		Level:   audit.LevelInfo,
		UserID:  &userID,
		Action:  audit.ActionLogout,
		Success: true,
	})

	return nil
}

// internal logs err, records it in the audit trail and returns the generic
// ErrInternal so storage details never reach the caller.
func (s *AccountService) internal(action, op string, err error) error {
	s.log.Error("operation failed", zap.String("action", action), zap.String("op", op), zap.Error(err))
	s.audit(&audit.Event{
		Level:    audit.LevelError,
		Action:   action,
		ErrorMsg: op + " failed",
	})
	return apperrors.ErrInternal
}

func (s *AccountService) audit(event *audit.Event) {
	if event.Resource == "" {
		event.Resource = audit.ResourceAuth
	}
	if err := s.auditLogger.Log(event); err != nil {
		s.log.Warn("failed to record audit event", zap.String("action", event.Action), zap.Error(err))
	}
}
