package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apnisec/backend/internal/auth"
	"github.com/apnisec/backend/internal/db"
	apperrors "github.com/apnisec/backend/internal/errors"
	"github.com/apnisec/backend/internal/events"
	"github.com/apnisec/backend/internal/logger"
)

const (
	titleMinLen       = 3
	titleMaxLen       = 200
	descriptionMinLen = 10
	descriptionMaxLen = 5000

	issueListCacheTTL = time.Minute
)

// IssueStore is the persistence surface issue handlers need.
type IssueStore interface {
	Create(ctx context.Context, issue *db.Issue) error
	List(ctx context.Context, userID uuid.UUID, filters db.IssueFilters) ([]*db.Issue, error)
	GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*db.Issue, error)
	Update(ctx context.Context, id, userID uuid.UUID, update db.IssueUpdate) (*db.Issue, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// UserGetter resolves the issue owner for notification emails.
type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// IssueNotifier queues the issue-created email.
type IssueNotifier interface {
	SendIssueCreated(user *db.User, issue *db.Issue)
}

// IssueCache caches serialized issue lists. Implementations treat errors as
// misses.
type IssueCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, value string, ttl time.Duration)
	DeletePrefix(ctx context.Context, prefix string)
}

// Broadcaster pushes issue events to connected clients.
type Broadcaster interface {
	Broadcast(eventType string, issue *db.Issue)
}

type IssueHandlers struct {
	issues   IssueStore
	users    UserGetter
	notifier IssueNotifier
	cache    IssueCache
	hub      Broadcaster
	log      *logger.Logger
}

func NewIssueHandlers(issues IssueStore, users UserGetter, notifier IssueNotifier, cache IssueCache, hub Broadcaster) *IssueHandlers {
	return &IssueHandlers{
		issues:   issues,
		users:    users,
		notifier: notifier,
		cache:    cache,
		hub:      hub,
		log:      logger.Default().WithComponent("issues"),
	}
}

type CreateIssueRequest struct {
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

type UpdateIssueRequest struct {
	Type        *string `json:"type"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Priority    *string `json:"priority"`
	Status      *string `json:"status"`
}

// Create handles POST /api/v1/issues
func (h *IssueHandlers) Create(w http.ResponseWriter, r *http.Request) error {
	userCtx := auth.GetUserFromContext(r.Context())
	if userCtx == nil {
		return apperrors.Auth("Not authenticated")
	}

	var req CreateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Description = strings.TrimSpace(req.Description)
	if req.Priority == "" {
		req.Priority = db.PriorityMedium
	}
	if req.Status == "" {
		req.Status = db.StatusOpen
	}

	if details := validateIssueFields(req.Type, req.Title, req.Description, req.Priority, req.Status); len(details) > 0 {
		return apperrors.Validation("Validation failed").WithDetails(details)
	}

	now := time.Now().UTC()
	issue := &db.Issue{
		ID:          uuid.New(),
		UserID:      userCtx.UserID,
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := h.issues.Create(r.Context(), issue); err != nil {
		return apperrors.Internal().WithCause(err)
	}

	h.invalidateListCache(r.Context(), userCtx.UserID)
	if h.hub != nil {
		h.hub.Broadcast(events.EventIssueCreated, issue)
	}
	h.notifyIssueCreated(r.Context(), userCtx.UserID, issue)

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusCreated, map[string]any{"issue": issue})
	return nil
}

// List handles GET /api/v1/issues
func (h *IssueHandlers) List(w http.ResponseWriter, r *http.Request) error {
	userCtx := auth.GetUserFromContext(r.Context())
	if userCtx == nil {
		return apperrors.Auth("Not authenticated")
	}

	filters := db.IssueFilters{
		Status:   r.URL.Query().Get("status"),
		Priority: r.URL.Query().Get("priority"),
		Type:     r.URL.Query().Get("type"),
		Search:   r.URL.Query().Get("search"),
	}

	if details := validateIssueFilters(filters); len(details) > 0 {
		return apperrors.Validation("Validation failed").WithDetails(details)
	}

	cacheKey := issueListCacheKey(userCtx.UserID, filters)
	if h.cache != nil {
		if cached, ok := h.cache.Get(r.Context(), cacheKey); ok {
			apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, json.RawMessage(cached))
			return nil
		}
	}

	issues, err := h.issues.List(r.Context(), userCtx.UserID, filters)
	if err != nil {
		return apperrors.Internal().WithCause(err)
	}

	data := map[string]any{"issues": issues, "count": len(issues)}
	if h.cache != nil {
		if payload, err := json.Marshal(data); err == nil {
			h.cache.Set(r.Context(), cacheKey, string(payload), issueListCacheTTL)
		}
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, data)
	return nil
}

// Get handles GET /api/v1/issues/{id}
func (h *IssueHandlers) Get(w http.ResponseWriter, r *http.Request) error {
	userCtx := auth.GetUserFromContext(r.Context())
	if userCtx == nil {
		return apperrors.Auth("Not authenticated")
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return apperrors.Validation("Invalid issue id")
	}

	issue, err := h.issues.GetByIDForUser(r.Context(), id, userCtx.UserID)
	if err != nil {
		if err == db.ErrIssueNotFound {
			return apperrors.NotFound("Issue not found")
		}
		return apperrors.Internal().WithCause(err)
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"issue": issue})
	return nil
}

// Update handles PUT /api/v1/issues/{id}
func (h *IssueHandlers) Update(w http.ResponseWriter, r *http.Request) error {
	userCtx := auth.GetUserFromContext(r.Context())
	if userCtx == nil {
		return apperrors.Auth("Not authenticated")
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return apperrors.Validation("Invalid issue id")
	}

	var req UpdateIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return apperrors.Validation("Invalid request body")
	}

	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		req.Title = &trimmed
	}
	if req.Description != nil {
		trimmed := strings.TrimSpace(*req.Description)
		req.Description = &trimmed
	}

	if req.Type == nil && req.Title == nil && req.Description == nil && req.Priority == nil && req.Status == nil {
		return apperrors.Validation("No fields to update")
	}

	if details := validateIssueUpdate(req); len(details) > 0 {
		return apperrors.Validation("Validation failed").WithDetails(details)
	}

	issue, err := h.issues.Update(r.Context(), id, userCtx.UserID, db.IssueUpdate{
		Type:        req.Type,
		Title:       req.Title,
		Description: req.Description,
		Priority:    req.Priority,
		Status:      req.Status,
	})
	if err != nil {
		if err == db.ErrIssueNotFound {
			return apperrors.NotFound("Issue not found")
		}
		return apperrors.Internal().WithCause(err)
	}

	h.invalidateListCache(r.Context(), userCtx.UserID)
	if h.hub != nil {
		h.hub.Broadcast(events.EventIssueUpdated, issue)
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"issue": issue})
	return nil
}

// Delete handles DELETE /api/v1/issues/{id}
func (h *IssueHandlers) Delete(w http.ResponseWriter, r *http.Request) error {
	userCtx := auth.GetUserFromContext(r.Context())
	if userCtx == nil {
		return apperrors.Auth("Not authenticated")
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return apperrors.Validation("Invalid issue id")
	}

	// Fetch first so the deletion event can carry the issue payload.
	issue, err := h.issues.GetByIDForUser(r.Context(), id, userCtx.UserID)
	if err != nil {
		if err == db.ErrIssueNotFound {
			return apperrors.NotFound("Issue not found")
		}
		return apperrors.Internal().WithCause(err)
	}

	if err := h.issues.Delete(r.Context(), id, userCtx.UserID); err != nil {
		if err == db.ErrIssueNotFound {
			return apperrors.NotFound("Issue not found")
		}
		return apperrors.Internal().WithCause(err)
	}

	h.invalidateListCache(r.Context(), userCtx.UserID)
	if h.hub != nil {
		h.hub.Broadcast(events.EventIssueDeleted, issue)
	}

	apperrors.WriteSuccess(w, apperrors.GetRequestID(r.Context()), http.StatusOK, map[string]any{"deleted": true})
	return nil
}

func (h *IssueHandlers) notifyIssueCreated(ctx context.Context, userID uuid.UUID, issue *db.Issue) {
	if h.notifier == nil {
		return
	}
	user, err := h.users.GetByID(ctx, userID)
	if err != nil {
		h.log.Warn(ctx, "could not resolve issue owner for notification", map[string]interface{}{
			"user_id": userID.String(),
			"error":   err.Error(),
		})
		return
	}
	h.notifier.SendIssueCreated(user, issue)
}

func (h *IssueHandlers) invalidateListCache(ctx context.Context, userID uuid.UUID) {
	if h.cache == nil {
		return
	}
	h.cache.DeletePrefix(ctx, "issues:"+userID.String()+":")
}

func issueListCacheKey(userID uuid.UUID, f db.IssueFilters) string {
	return fmt.Sprintf("issues:%s:%s:%s:%s:%s", userID, f.Status, f.Priority, f.Type, db.NormalizeSearch(f.Search))
}

func validIssueType(t string) bool {
	switch t {
	case db.IssueTypeCloudSecurity, db.IssueTypeRedTeamAssessment, db.IssueTypeVAPT:
		return true
	}
	return false
}

func validPriority(p string) bool {
	switch p {
	case db.PriorityLow, db.PriorityMedium, db.PriorityHigh:
		return true
	}
	return false
}

func validStatus(s string) bool {
	switch s {
	case db.StatusOpen, db.StatusInProgress, db.StatusResolved, db.StatusClosed:
		return true
	}
	return false
}

func validateIssueFields(issueType, title, description, priority, status string) map[string]any {
	details := map[string]any{}
	if !validIssueType(issueType) {
		details["type"] = "type must be one of: CLOUD_SECURITY, RED_TEAM_ASSESSMENT, VAPT"
	}
	if len(title) < titleMinLen || len(title) > titleMaxLen {
		details["title"] = fmt.Sprintf("title must be between %d and %d characters", titleMinLen, titleMaxLen)
	}
	if len(description) < descriptionMinLen || len(description) > descriptionMaxLen {
		details["description"] = fmt.Sprintf("description must be between %d and %d characters", descriptionMinLen, descriptionMaxLen)
	}
	if !validPriority(priority) {
		details["priority"] = "priority must be one of: LOW, MEDIUM, HIGH"
	}
	if !validStatus(status) {
		details["status"] = "status must be one of: OPEN, IN_PROGRESS, RESOLVED, CLOSED"
	}
	return details
}

func validateIssueUpdate(req UpdateIssueRequest) map[string]any {
	details := map[string]any{}
	if req.Type != nil && !validIssueType(*req.Type) {
		details["type"] = "type must be one of: CLOUD_SECURITY, RED_TEAM_ASSESSMENT, VAPT"
	}
	if req.Title != nil && (len(*req.Title) < titleMinLen || len(*req.Title) > titleMaxLen) {
		details["title"] = fmt.Sprintf("title must be between %d and %d characters", titleMinLen, titleMaxLen)
	}
	if req.Description != nil && (len(*req.Description) < descriptionMinLen || len(*req.Description) > descriptionMaxLen) {
		details["description"] = fmt.Sprintf("description must be between %d and %d characters", descriptionMinLen, descriptionMaxLen)
	}
	if req.Priority != nil && !validPriority(*req.Priority) {
		details["priority"] = "priority must be one of: LOW, MEDIUM, HIGH"
	}
	if req.Status != nil && !validStatus(*req.Status) {
		details["status"] = "status must be one of: OPEN, IN_PROGRESS, RESOLVED, CLOSED"
	}
	return details
}

func validateIssueFilters(f db.IssueFilters) map[string]any {
	details := map[string]any{}
	if f.Status != "" && !validStatus(f.Status) {
		details["status"] = "status must be one of: OPEN, IN_PROGRESS, RESOLVED, CLOSED"
	}
	if f.Priority != "" && !validPriority(f.Priority) {
		details["priority"] = "priority must be one of: LOW, MEDIUM, HIGH"
	}
	if f.Type != "" && !validIssueType(f.Type) {
		details["type"] = "type must be one of: CLOUD_SECURITY, RED_TEAM_ASSESSMENT, VAPT"
	}
	return details
}
