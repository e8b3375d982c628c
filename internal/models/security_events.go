package models

import "time"

const (
	EventRegister                 = "register"
	EventLoginSuccess             = "login_success"
	EventLoginFailure             = "login_failure"
	EventOTPIssued                = "otp_issued"
	EventOTPVerified              = "otp_verified"
	EventOTPFailed                = "otp_failed"
	EventOTPExhausted             = "otp_exhausted"
	EventPasswordResetRequested   = "password_reset_requested"
	EventPasswordResetCompleted   = "password_reset_completed"
	EventTokenRefreshed           = "token_refreshed"
	EventLogout                   = "logout"
	EventProfileUpdated           = "profile_updated"
	EventNotificationDeliveryFail = "notification_delivery_failed"
)

// SecurityEvent is an append-only audit record. Emails are stored as a
// keyed digest, never in the clear.
type SecurityEvent struct {
	EventID     string    `db:"event_id" json:"event_id"`
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	EventDate   string    `db:"event_date" json:"event_date"`
	EventTime   time.Time `db:"event_time" json:"event_time"`
	EventType   string    `db:"event_type" json:"event_type"`
	AccountID   string    `db:"account_id" json:"account_id,omitempty"`
	EmailHash   string    `db:"email_hash" json:"email_hash,omitempty"`
	IPAddress   string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   string    `db:"user_agent" json:"user_agent,omitempty"`
	RequestID   string    `db:"request_id" json:"request_id,omitempty"`
	Success     bool      `db:"success" json:"success"`
	Details     string    `db:"details" json:"details,omitempty"`
}
