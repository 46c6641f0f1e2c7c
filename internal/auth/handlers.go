package auth

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	apperrors "github.com/apnisec/backend/internal/errors"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	RememberMe bool   `json:"rememberMe"`
}

type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"rememberMe"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type Handlers struct {
	service       *Service
	secureCookies bool
	baseURL       string
}

// NewHandlers builds the auth HTTP surface. secureCookies should be true in
// production so cookies only travel over TLS. baseURL is the reset-link
// origin fallback when the request carries no Origin header.
func NewHandlers(service *Service, secureCookies bool, baseURL string) *Handlers {
	return &Handlers{service: service, secureCookies: secureCookies, baseURL: baseURL}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}

	if details := validateCredentials(req.Email, req.Password); details != nil {
		return apperrors.Validation("Invalid registration data").WithDetails(details)
	}
	if len(req.Name) > 100 {
		return apperrors.Validation("Invalid registration data").
			WithDetails(map[string]any{"name": "must be at most 100 characters"})
	}

	session, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name, req.RememberMe)
	if err != nil {
		return err
	}

	h.setSessionCookies(w, session)
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"user": session.User})
	return nil
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}

	if details := validateCredentials(req.Email, req.Password); details != nil {
		return apperrors.Validation("Invalid login data").WithDetails(details)
	}

	session, err := h.service.Login(r.Context(), req.Email, req.Password, req.RememberMe)
	if err != nil {
		return err
	}

	h.setSessionCookies(w, session)
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"user": session.User})
	return nil
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	claims, err := h.claimsFromCookie(r)
	if err != nil {
		return err
	}

	userID, err := parseUserID(claims)
	if err != nil {
		return err
	}

	user, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		return err
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"user": user})
	return nil
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) error {
	claims, err := h.claimsFromCookie(r)
	if err != nil {
		return err
	}

	userID, err := parseUserID(claims)
	if err != nil {
		return err
	}

	// Without the refresh cookie, every session of the user is revoked.
	refreshToken := ""
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		refreshToken = c.Value
	}

	if err := h.service.Logout(r.Context(), userID, refreshToken); err != nil {
		return err
	}

	h.clearSessionCookies(w)
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"message": "Logged out"})
	return nil
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) error {
	cookie, err := r.Cookie(RefreshTokenCookie)
	if err != nil || cookie.Value == "" {
		return apperrors.Auth("Not authenticated")
	}

	session, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		return err
	}

	h.setSessionCookies(w, session)
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"user": session.User})
	return nil
}

func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) error {
	var req ForgotPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = h.baseURL
	}

	if err := h.service.StartPasswordReset(r.Context(), req.Email, origin); err != nil {
		return err
	}

	// Identical response whether or not the account exists.
	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK,
		map[string]any{"message": "If that account exists, we emailed a reset link"})
	return nil
}

func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) error {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}

	if req.Token == "" || len(req.Password) < 6 {
		return apperrors.Auth("Invalid reset payload")
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		return err
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"message": "Password updated"})
	return nil
}

func (h *Handlers) claimsFromCookie(r *http.Request) (*Claims, error) {
	cookie, err := r.Cookie(AccessTokenCookie)
	if err != nil || cookie.Value == "" {
		return nil, apperrors.Auth("Not authenticated")
	}
	return h.service.VerifyAccessToken(cookie.Value)
}

func (h *Handlers) setSessionCookies(w http.ResponseWriter, session *Session) {
	http.SetCookie(w, h.sessionCookie(AccessTokenCookie, session.AccessToken, int(AccessTokenExpiry.Seconds())))
	http.SetCookie(w, h.sessionCookie(RefreshTokenCookie, session.RefreshToken,
		int(time.Until(session.RefreshExpiresAt).Seconds())))
}

func (h *Handlers) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.sessionCookie(AccessTokenCookie, "", -1))
	http.SetCookie(w, h.sessionCookie(RefreshTokenCookie, "", -1))
}

func (h *Handlers) sessionCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func validateCredentials(email, password string) map[string]any {
	details := map[string]any{}
	if email == "" {
		details["email"] = "is required"
	} else if !emailRegex.MatchString(email) {
		details["email"] = "invalid email format"
	}
	if password == "" {
		details["password"] = "is required"
	} else if len(password) < 6 {
		details["password"] = "must be at least 6 characters"
	}
	if len(details) == 0 {
		return nil
	}
	return details
}
