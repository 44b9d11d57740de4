package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/amirk1998/account-manager/internal/audit"
	"github.com/amirk1998/account-manager/internal/database"
	"github.com/amirk1998/account-manager/internal/models"
	"github.com/amirk1998/account-manager/internal/security"
	apperrors "github.com/amirk1998/account-manager/pkg/errors"
)

// ResetRequestAck is returned by RequestPasswordReset whether or not an
// account matched.
const ResetRequestAck = "If an account with this email exists, a password reset link has been sent."

// RequestPasswordReset issues a reset token for the account registered with
// email and hands it to the notifier. The result never reveals whether the
// account exists; only a malformed email or the rate limit is reported.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	email = s.validator.SanitizeString(email)
	if err := s.validator.ValidateEmail(email); err != nil {
		return "", err
	}

	rateLimitKey := fmt.Sprintf("reset:%s", email)
	if err := s.rateLimiter.CheckLimit(rateLimitKey); err != nil {
		s.audit(&audit.Event{
			Level:    audit.LevelWarning,
			Action:   audit.ActionResetRateLimited,
			ErrorMsg: err.Error(),
		})
		return "", err
	}

	token, err := security.GenerateToken()
	if err != nil {
		s.logResetFailure("generate reset token", err)
		return ResetRequestAck, nil
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.resetTTL)

	var user *models.User
	err = s.txManager.Execute(ctx, func(ctx context.Context, tx database.DBTX) error {
		repo := s.userRepo.WithTx(tx)

		var err error
		user, err = repo.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		return repo.SetResetToken(ctx, user.ID, token, expiresAt, now)
	})
	if errors.Is(err, apperrors.ErrUserNotFound) {
		s.audit(&audit.Event{
			Level:  audit.LevelInfo,
			Action: audit.ActionResetUnknownEmail,
		})
		return ResetRequestAck, nil
	}
	if err != nil {
		s.logResetFailure("store reset token", err)
		return ResetRequestAck, nil
	}

	if err := s.notifier.Notify(ctx, user.Email, token, expiresAt); err != nil {
		s.log.Error("failed to deliver reset token", zap.String("user_id", user.ID), zap.Error(err))
		s.audit(&audit.Event{
			Level:    audit.LevelError,
			UserID:   &user.ID,
			Action:   audit.ActionResetDeliveryError,
			ErrorMsg: "reset token delivery failed",
		})
		return ResetRequestAck, nil
	}

	s.audit(&audit.Event{
		Level:   audit.LevelInfo,
		UserID:  &user.ID,
		Action:  audit.ActionResetRequested,
		Success: true,
	})

	return ResetRequestAck, nil
}

func (s *AccountService) logResetFailure(op string, err error) {
	s.log.Error("password reset request failed", zap.String("op", op), zap.Error(err))
	s.audit(&audit.Event{
		Level:    audit.LevelError,
		Action:   audit.ActionResetError,
		ErrorMsg: op + " failed",
	})
}

// ResetPassword sets a new password for the holder of a valid, unexpired
// reset token and consumes the token. Expired tokens are left in place.
func (s *AccountService) ResetPassword(ctx context.Context, req *models.ResetPasswordRequest) error {
	if req == nil {
		return apperrors.ErrInvalidInput
	}

	if err := s.rateLimiter.CheckLimit(resetCompleteRateKey); err != nil {
		s.audit(&audit.Event{
			Level:    audit.LevelWarning,
			Action:   audit.ActionResetRateLimited,
			ErrorMsg: err.Error(),
		})
		return err
	}

	if err := s.validator.ValidatePassword(req.NewPassword); err != nil {
		return err
	}

	token := s.validator.SanitizeString(req.Token)
	if token == "" {
		s.resetInvalid(nil)
		return apperrors.ErrInvalidOrExpiredToken
	}

	passwordHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return s.internal(audit.ActionResetError, "hash password", err)
	}

	var userID string
	err = s.txManager.Execute(ctx, func(ctx context.Context, tx database.DBTX) error {
		repo := s.userRepo.WithTx(tx)

		user, err := repo.GetByResetToken(ctx, token)
		if errors.Is(err, apperrors.ErrUserNotFound) {
			return apperrors.ErrInvalidOrExpiredToken
		}
		if err != nil {
			return err
		}
		userID = user.ID

		if isExpired(user.ResetTokenExpires, s.now()) {
			return apperrors.ErrInvalidOrExpiredToken
		}

		return repo.UpdatePassword(ctx, user.ID, passwordHash, s.now().UTC())
	})
	if errors.Is(err, apperrors.ErrInvalidOrExpiredToken) {
		var id *string
		if userID != "" {
			id = &userID
		}
		s.resetInvalid(id)
		return apperrors.ErrInvalidOrExpiredToken
	}
	if err != nil {
		return s.internal(audit.ActionResetError, "update password", err)
	}

	s.audit(&audit.Event{
		Level:   audit.LevelInfo,
		UserID:  &userID,
		Action:  audit.ActionResetCompleted,
		Success: true,
	})
	s.log.Info("password reset completed", zap.String("user_id", userID))

	return nil
}

func (s *AccountService) resetInvalid(userID *string) {
	s.audit(&audit.Event{
		Level:    audit.LevelWarning,
		UserID:   userID,
		Action:   audit.ActionResetInvalidToken,
		ErrorMsg: apperrors.ErrInvalidOrExpiredToken.Error(),
	})
}

// isExpired reports whether now is past expires. A missing expiry counts as
// expired.
func isExpired(expires *time.Time, now time.Time) bool {
	return expires == nil || now.After(*expires)
}
