package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"otp-auth-service/internal/service"
	"otp-auth-service/internal/util"
)

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	auth    *service.AuthService
	cookies cookieJar
	responder
}

// AuthHandlerOptions controls cookie security and error detail.
type AuthHandlerOptions struct {
	Production bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

func NewAuthHandler(auth *service.AuthService, opts AuthHandlerOptions, logger *zap.Logger) *AuthHandler {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 24 * time.Hour
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	return &AuthHandler{
		auth: auth,
		cookies: cookieJar{
			secure:     opts.Production,
			accessTTL:  opts.AccessTTL,
			refreshTTL: opts.RefreshTTL,
		},
		responder: responder{logger: logger, exposeDetails: !opts.Production},
	}
}

// RegisterRoutes mounts the public and authenticated auth routes.
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/send-otp", h.SendOTP)
		r.Post("/verify-otp", h.VerifyOTP)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)
		r.Post("/refresh-token", h.RefreshToken)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(h.auth, h.responder))
			r.Get("/me", h.GetCurrentUser)
			r.Put("/profile", h.UpdateProfile)
			r.Post("/logout", h.Logout)
		})
	})
}

// Register handles password sign-up
// @Summary Register a new account
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.RegisterRequest true "Registration request"
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /auth/register [post]
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err, "Registration failed")
		return
	}

	session, err := h.auth.Register(r.Context(), req, requestMeta(r))
	if err != nil {
		h.respondWithError(w, r, err, "Registration failed")
		return
	}

	h.cookies.setSession(w, session.Tokens)
	h.respondWithJSON(w, http.StatusCreated, h.sessionResponse(session, "Registration successful!"))
}

// Login handles email and password sign-in. The password is checked before
// the verified flag: an unverified account only gets 403 with
// requiresOTPVerification for the correct password, otherwise the same 401
// as an unknown email.
// @Summary Log in with a password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.LoginRequest true "Login request"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err, "Login failed")
		return
	}

	session, err := h.auth.Login(r.Context(), req, requestMeta(r))
	if err != nil {
		h.respondWithError(w, r, err, "Login failed")
		return
	}

	h.cookies.setSession(w, session.Tokens)
	h.respondWithJSON(w, http.StatusOK, h.sessionResponse(session, "Login successful"))
}

// SendOTP emails a one-time login code
// @Summary Send a login code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.EmailRequest true "Email"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Failure 429 {object} Response
// @Router /auth/send-otp [post]
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req service.EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err, "Failed to send OTP")
		return
	}

	sent, err := h.auth.SendOTP(r.Context(), req, requestMeta(r))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to send OTP")
		return
	}

	msg := "OTP sent successfully to your email"
	if !sent.Delivered {
		msg = "OTP generated but the email could not be delivered. Please try again shortly."
	}
	delivered := sent.Delivered
	expires := sent.ExpiresAt
	h.respondWithJSON(w, http.StatusOK, Response{
		Success:        true,
		Message:        msg,
		Email:          sent.Email,
		ExpiresAt:      &expires,
		EmailDelivered: &delivered,
	})
}

// VerifyOTP exchanges a valid code for a session
// @Summary Verify a login code
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.VerifyOTPRequest true "Email and code"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 404 {object} Response
// @Router /auth/verify-otp [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req service.VerifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err, "Failed to verify OTP")
		return
	}

	session, err := h.auth.VerifyOTP(r.Context(), req, requestMeta(r))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to verify OTP")
		return
	}

	h.cookies.setSession(w, session.Tokens)
	h.respondWithJSON(w, http.StatusOK, h.sessionResponse(session, "OTP verified successfully. Logged in!"))
}

// ForgotPassword starts a password reset. The reply never reveals whether
// the account exists.
// @Summary Request a password reset link
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.EmailRequest true "Email"
// @Success 200 {object} Response
// @Router /auth/forgot-password [post]
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req service.EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err, "Failed to process password reset")
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), req, requestMeta(r)); err != nil {
		h.respondWithError(w, r, err, "Failed to process password reset")
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Message: service.MsgForgotPassword})
}

// ResetPassword sets a new password from an emailed token
// @Summary Reset a password
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.ResetPasswordRequest true "Token and new password"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /auth/reset-password [post]
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req service.ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err, "Failed to reset password")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req, requestMeta(r)); err != nil {
		h.respondWithError(w, r, err, "Failed to reset password")
		return
	}

	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Message: "Password reset successfully"})
}

// RefreshToken mints a new access token from the refresh cookie. Clients
// without cookies may send {"refreshToken": "..."} instead.
// @Summary Refresh the access token
// @Tags auth
// @Produce json
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Router /auth/refresh-token [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	refresh := ""
	if c, err := r.Cookie(refreshCookie); err == nil {
		refresh = c.Value
	}
	if refresh == "" && r.ContentLength != 0 {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeJSON(w, r, &body); err == nil {
			refresh = body.RefreshToken
		}
	}

	access, expires, err := h.auth.RefreshToken(r.Context(), refresh, requestMeta(r))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to refresh token")
		return
	}

	h.cookies.setAccess(w, access)
	h.respondWithJSON(w, http.StatusOK, Response{
		Success:   true,
		Message:   "Token refreshed successfully",
		Token:     access,
		ExpiresAt: &expires,
	})
}

// GetCurrentUser returns the caller's profile
// @Summary Current account
// @Tags auth
// @Produce json
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Router /auth/me [get]
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	profile, err := h.auth.GetCurrentUser(r.Context(), AccountID(r.Context()))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to get user")
		return
	}
	h.respondWithJSON(w, http.StatusOK, Response{Success: true, User: &profile})
}

// UpdateProfile patches the caller's profile fields
// @Summary Update profile
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.UpdateProfileRequest true "Fields to change"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Router /auth/profile [put]
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondWithError(w, r, err, "Failed to update profile")
		return
	}

	profile, err := h.auth.UpdateProfile(r.Context(), AccountID(r.Context()), req, requestMeta(r))
	if err != nil {
		h.respondWithError(w, r, err, "Failed to update profile")
		return
	}
	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Message: "Profile updated successfully", User: &profile})
}

// Logout clears the session cookies
// @Summary Log out
// @Tags auth
// @Produce json
// @Success 200 {object} Response
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), AccountID(r.Context()), requestMeta(r))
	h.cookies.clear(w)
	h.respondWithJSON(w, http.StatusOK, Response{Success: true, Message: "Logout successful"})
}

func (h *AuthHandler) sessionResponse(s *service.Session, message string) Response {
	h.logger.Debug("Session issued", util.String("account_id", s.Account.ID))
	profile := s.Account
	accessExp := s.Tokens.AccessExpiresAt
	refreshExp := s.Tokens.RefreshExpiresAt
	return Response{
		Success:          true,
		Message:          message,
		Token:            s.Tokens.AccessToken,
		RefreshToken:     s.Tokens.RefreshToken,
		ExpiresAt:        &accessExp,
		RefreshExpiresAt: &refreshExp,
		User:             &profile,
	}
}
