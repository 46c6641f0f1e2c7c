package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apnisec/backend/internal/auth"
	"github.com/apnisec/backend/internal/db"
	apperrors "github.com/apnisec/backend/internal/errors"
)

const (
	fullNameMaxLen = 100
	companyMaxLen  = 100
	roleMaxLen     = 100
	phoneMaxLen    = 20
)

// ProfileStore is the persistence surface profile handlers need.
type ProfileStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	GetProfile(ctx context.Context, userID uuid.UUID) (*db.Profile, error)
	UpsertProfile(ctx context.Context, profile *db.Profile) error
}

type ProfileHandlers struct {
	users ProfileStore
}

func NewProfileHandlers(users ProfileStore) *ProfileHandlers {
	return &ProfileHandlers{users: users}
}

type UpdateProfileRequest struct {
	FullName string `json:"fullName"`
	Company  string `json:"company"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
}

type profileUserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Get handles GET /api/v1/users/profile
func (h *ProfileHandlers) Get(w http.ResponseWriter, r *http.Request) error {
	userCtx := auth.GetUserFromContext(r.Context())
	if userCtx == nil {
		return apperrors.Auth("Not authenticated")
	}

	user, err := h.users.GetByID(r.Context(), userCtx.UserID)
	if err != nil {
		if err == db.ErrUserNotFound {
			return apperrors.Auth("Invalid or expired token")
		}
		return apperrors.Internal().WithCause(err)
	}

	profile, err := h.users.GetProfile(r.Context(), userCtx.UserID)
	if err != nil {
		return apperrors.Internal().WithCause(err)
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{
		"user": profileUserResponse{
			ID:        user.ID,
			Email:     user.Email,
			Name:      user.Name,
			CreatedAt: user.CreatedAt,
		},
		"profile": profile,
	})
	return nil
}

// Update handles PUT /api/v1/users/profile
func (h *ProfileHandlers) Update(w http.ResponseWriter, r *http.Request) error {
	userCtx := auth.GetUserFromContext(r.Context())
	if userCtx == nil {
		return apperrors.Auth("Not authenticated")
	}

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}

	req.FullName = strings.TrimSpace(req.FullName)
	req.Company = strings.TrimSpace(req.Company)
	req.Role = strings.TrimSpace(req.Role)
	req.Phone = strings.TrimSpace(req.Phone)

	if details := validateProfile(req); len(details) > 0 {
		return apperrors.Validation("Validation failed").WithDetails(details)
	}

	profile := &db.Profile{
		UserID:    userCtx.UserID,
		FullName:  req.FullName,
		Company:   req.Company,
		Role:      req.Role,
		Phone:     req.Phone,
		UpdatedAt: time.Now().UTC(),
	}

	if err := h.users.UpsertProfile(r.Context(), profile); err != nil {
		return apperrors.Internal().WithCause(err)
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"profile": profile})
	return nil
}

func validateProfile(req UpdateProfileRequest) map[string]any {
	details := map[string]any{}
	if len(req.FullName) > fullNameMaxLen {
		details["fullName"] = "fullName must be at most 100 characters"
	}
	if len(req.Company) > companyMaxLen {
		details["company"] = "company must be at most 100 characters"
	}
	if len(req.Role) > roleMaxLen {
		details["role"] = "role must be at most 100 characters"
	}
	if len(req.Phone) > phoneMaxLen {
		details["phone"] = "phone must be at most 20 characters"
	}
	return details
}
