package auth

import (
	"context"
	"net/http"
	"strings"

	apperrors "github.com/apnisec/backend/internal/errors"
	"github.com/google/uuid"
)

type contextKey string

const UserContextKey contextKey = "user"

type UserContext struct {
	UserID uuid.UUID
	Email  string
}

// Middleware authenticates requests via the access-token cookie (or a
// Bearer header for non-browser clients) and stores the subject in the
// request context.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := apperrors.GetRequestID(r.Context())

			tokenString := tokenFromRequest(r)
			if tokenString == "" {
				apperrors.WriteError(w, requestID, apperrors.Auth("Not authenticated"))
				return
			}

			claims, err := service.VerifyAccessToken(tokenString)
			if err != nil {
				apperrors.WriteError(w, requestID, err)
				return
			}

			userID, err := parseUserID(claims)
			if err != nil {
				apperrors.WriteError(w, requestID, err)
				return
			}

			userCtx := &UserContext{UserID: userID, Email: claims.Email}
			ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext returns the authenticated subject, or nil outside the
// middleware.
func GetUserFromContext(ctx context.Context) *UserContext {
	user, ok := ctx.Value(UserContextKey).(*UserContext)
	if !ok {
		return nil
	}
	return user
}

func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}

	return ""
}

func parseUserID(claims *Claims) (uuid.UUID, error) {
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.Nil, apperrors.Auth("Invalid or expired token")
	}
	return userID, nil
}
