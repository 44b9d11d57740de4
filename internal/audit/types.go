package audit

import (
	"encoding/json"
	"time"
)

type LogLevel string

const (
	LevelInfo     LogLevel = "INFO"
	LevelWarning  LogLevel = "WARNING"
	LevelError    LogLevel = "ERROR"
	LevelCritical LogLevel = "CRITICAL"
)

// Actions recorded by the account service.
const (
	ActionRegisterSuccess     = "REGISTER_SUCCESS"
	ActionRegisterInvalid     = "REGISTER_INVALID_INPUT"
	ActionRegisterDuplicate   = "REGISTER_DUPLICATE"
	ActionRegisterRateLimited = "REGISTER_RATE_LIMITED"
	ActionRegisterError       = "REGISTER_ERROR"

	ActionLoginSuccess     = "LOGIN_SUCCESS"
	ActionLoginFailed      = "LOGIN_FAILED"
	ActionLoginRateLimited = "LOGIN_RATE_LIMITED"
	ActionLoginError       = "LOGIN_ERROR"
	ActionPasswordRehashed = "PASSWORD_REHASHED"

	ActionSessionInvalid = "SESSION_INVALID"
	ActionLogout         = "LOGOUT"

	ActionResetRequested     = "RESET_REQUESTED"
	ActionResetUnknownEmail  = "RESET_UNKNOWN_EMAIL"
	ActionResetRateLimited   = "RESET_RATE_LIMITED"
	ActionResetDeliveryError = "RESET_DELIVERY_ERROR"
	ActionResetCompleted     = "RESET_COMPLETED"
	ActionResetInvalidToken  = "RESET_INVALID_TOKEN"
	ActionResetError         = "RESET_ERROR"

	ActionFailedLoginThreshold = "FAILED_LOGIN_THRESHOLD"
)

const ResourceAuth = "auth"

type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	UserID    *string   `json:"user_id,omitempty"`
	Username  string    `json:"username,omitempty"`
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	Success   bool      `json:"success"`
	ErrorMsg  string    `json:"error_msg,omitempty"`
	Metadata  string    `json:"metadata,omitempty"`
}

type QueryFilters struct {
	StartTime *time.Time
	EndTime   *time.Time
	UserID    *string
	Action    string
	Level     LogLevel
	Limit     int
}

// UsernameCount is one row of Logger.CountByUsername.
type UsernameCount struct {
	Username string
	UserID   *string
	Count    int
}

// EncodeMetadata renders key/value pairs as the JSON stored in Event.Metadata.
func EncodeMetadata(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeMetadata is the inverse of EncodeMetadata. Malformed input yields nil.
func DecodeMetadata(metadata string) map[string]string {
	if metadata == "" {
		return nil
	}
	var fields map[string]string
	if err := json.Unmarshal([]byte(metadata), &fields); err != nil {
		return nil
	}
	return fields
}
