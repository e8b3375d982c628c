package service

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels classify failures; the transport maps them to status codes.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrOTPExpired         = errors.New("otp expired")
	ErrOTPMismatch        = errors.New("otp mismatch")
	ErrOTPExhausted       = errors.New("otp attempts exhausted")
	ErrOTPNotFound        = errors.New("no active otp")
	ErrOTPCooldown        = errors.New("otp requested too soon")
	ErrInvalidResetToken  = errors.New("invalid reset token")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Messages shown to callers. Login failures share one message whatever
// the cause.
const (
	MsgInvalidCredentials  = "Invalid email or password"
	MsgVerifyEmailFirst    = "Please verify your email first"
	MsgRegisterFirst       = "User not found. Please register first."
	MsgUserNotFound        = "User not found"
	MsgEmailTaken          = "Email already registered. Please login."
	MsgUsernameTaken       = "Username already taken. Choose a different one."
	MsgOTPExpired          = "OTP has expired. Please request a new one."
	MsgOTPInvalid          = "Invalid OTP"
	MsgOTPExhausted        = "Too many failed attempts. Please request a new OTP."
	MsgOTPNotFound         = "No active OTP. Please request a new one."
	MsgInvalidResetToken   = "Invalid reset token"
	MsgResetTokenExpired   = "Reset token has expired"
	MsgRefreshMissing      = "Refresh token not found"
	MsgRefreshInvalid      = "Invalid refresh token"
	MsgNoToken             = "Unauthorized: No token provided"
	MsgInvalidToken        = "Unauthorized: Invalid or expired token"
	MsgInvalidTokenAccount = "Unauthorized: Invalid token user"
	MsgForgotPassword      = "If an account with this email exists, a reset link has been sent"
)

// Error pairs a sentinel with the message a caller sees.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func invalid(message string) *Error {
	return newError(ErrInvalidInput, message)
}

// OTPError reports a failed verification or a refused resend.
type OTPError struct {
	Kind       error
	Message    string
	Remaining  int
	RetryAfter time.Duration
}

func (e *OTPError) Error() string { return e.Message }
func (e *OTPError) Unwrap() error { return e.Kind }

func cooldownError(wait time.Duration) *OTPError {
	secs := int((wait + time.Second - 1) / time.Second)
	return &OTPError{
		Kind:       ErrOTPCooldown,
		Message:    fmt.Sprintf("Please wait %d seconds before requesting a new OTP.", secs),
		RetryAfter: wait,
	}
}

// PublicMessage returns the caller-facing text for err, or fallback when
// err carries none.
func PublicMessage(err error, fallback string) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message
	}
	var oe *OTPError
	if errors.As(err, &oe) {
		return oe.Message
	}
	return fallback
}
