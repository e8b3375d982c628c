package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"otp-auth-service/internal/models"
	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

const maxBodyBytes = 1 << 20

// Response is the envelope for every /auth reply. Flags are set only on
// the failures they describe.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`

	Token            string                `json:"token,omitempty"`
	RefreshToken     string                `json:"refreshToken,omitempty"`
	ExpiresAt        *time.Time            `json:"expiresAt,omitempty"`
	RefreshExpiresAt *time.Time            `json:"refreshExpiresAt,omitempty"`
	User             *models.PublicProfile `json:"user,omitempty"`
	Email            string                `json:"email,omitempty"`
	EmailDelivered   *bool                 `json:"emailDelivered,omitempty"`

	RequiresRegistration    bool `json:"requiresRegistration,omitempty"`
	RequiresOTPVerification bool `json:"requiresOTPVerification,omitempty"`
	RequiresNewOTP          bool `json:"requiresNewOTP,omitempty"`
	AttemptsRemaining       *int `json:"attemptsRemaining,omitempty"`
	RetryAfter              int  `json:"retryAfter,omitempty"`
}

type responder struct {
	logger        *zap.Logger
	exposeDetails bool
}

func (rs responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		rs.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError maps err to a status and envelope. fallback is the text
// shown when err carries no caller-facing message.
func (rs responder) respondWithError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := getStatusCode(err)
	resp := Response{Error: service.PublicMessage(err, fallback)}

	var oe *service.OTPError
	switch {
	case errors.As(err, &oe):
		switch {
		case errors.Is(err, service.ErrOTPMismatch):
			remaining := oe.Remaining
			resp.AttemptsRemaining = &remaining
		case errors.Is(err, service.ErrOTPCooldown):
			secs := int((oe.RetryAfter + time.Second - 1) / time.Second)
			resp.RetryAfter = secs
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		default:
			resp.RequiresNewOTP = true
		}
	case errors.Is(err, service.ErrEmailNotVerified):
		resp.RequiresOTPVerification = true
	case errors.Is(err, service.ErrAccountNotFound) && resp.Error == service.MsgRegisterFirst:
		resp.RequiresRegistration = true
	}

	if status >= http.StatusInternalServerError {
		if rs.exposeDetails {
			resp.Details = err.Error()
		}
		rs.logger.Error("HTTP error response",
			util.ErrorField(err),
			util.Int("status_code", status),
			util.String("path", r.URL.Path),
			util.String("request_id", requestID(r)),
		)
	} else {
		rs.logger.Debug("HTTP client error",
			util.Int("status_code", status),
			util.String("message", resp.Error),
			util.String("path", r.URL.Path),
		)
	}

	rs.respondWithJSON(w, status, resp)
}

// getStatusCode determines the HTTP status for a service error.
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrOTPExpired),
		errors.Is(err, service.ErrOTPMismatch),
		errors.Is(err, service.ErrOTPExhausted),
		errors.Is(err, service.ErrOTPNotFound),
		errors.Is(err, service.ErrInvalidResetToken):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrEmailNotVerified):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailTaken), errors.Is(err, service.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, service.ErrOTPCooldown):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &service.Error{Kind: service.ErrInvalidInput, Message: "Invalid request body"}
	}
	return nil
}
