package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/apnisec/backend/internal/auth"
	"github.com/apnisec/backend/internal/db"
	apperrors "github.com/apnisec/backend/internal/errors"
)

type fakeIssueStore struct {
	issues map[uuid.UUID]*db.Issue
}

func newFakeIssueStore() *fakeIssueStore {
	return &fakeIssueStore{issues: make(map[uuid.UUID]*db.Issue)}
}

func (s *fakeIssueStore) Create(ctx context.Context, issue *db.Issue) error {
	copied := *issue
	s.issues[issue.ID] = &copied
	return nil
}

func (s *fakeIssueStore) List(ctx context.Context, userID uuid.UUID, filters db.IssueFilters) ([]*db.Issue, error) {
	out := []*db.Issue{}
	for _, issue := range s.issues {
		if issue.UserID != userID {
			continue
		}
		if filters.Status != "" && issue.Status != filters.Status {
			continue
		}
		if filters.Priority != "" && issue.Priority != filters.Priority {
			continue
		}
		if filters.Type != "" && issue.Type != filters.Type {
			continue
		}
		out = append(out, issue)
	}
	return out, nil
}

func (s *fakeIssueStore) GetByIDForUser(ctx context.Context, id, userID uuid.UUID) (*db.Issue, error) {
	issue, ok := s.issues[id]
	if !ok || issue.UserID != userID {
		return nil, db.ErrIssueNotFound
	}
	return issue, nil
}

func (s *fakeIssueStore) Update(ctx context.Context, id, userID uuid.UUID, update db.IssueUpdate) (*db.Issue, error) {
	issue, ok := s.issues[id]
	if !ok || issue.UserID != userID {
		return nil, db.ErrIssueNotFound
	}
	if update.Title != nil {
		issue.Title = *update.Title
	}
	if update.Description != nil {
		issue.Description = *update.Description
	}
	if update.Type != nil {
		issue.Type = *update.Type
	}
	if update.Priority != nil {
		issue.Priority = *update.Priority
	}
	if update.Status != nil {
		issue.Status = *update.Status
	}
	issue.UpdatedAt = time.Now()
	return issue, nil
}

func (s *fakeIssueStore) Delete(ctx context.Context, id, userID uuid.UUID) error {
	issue, ok := s.issues[id]
	if !ok || issue.UserID != userID {
		return db.ErrIssueNotFound
	}
	delete(s.issues, id)
	return nil
}

type fakeUserGetter struct {
	user *db.User
}

func (g *fakeUserGetter) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	if g.user != nil && g.user.ID == id {
		return g.user, nil
	}
	return nil, db.ErrUserNotFound
}

type fakeIssueNotifier struct {
	created []*db.Issue
}

func (n *fakeIssueNotifier) SendIssueCreated(user *db.User, issue *db.Issue) {
	n.created = append(n.created, issue)
}

type fakeBroadcaster struct {
	events []string
}

func (b *fakeBroadcaster) Broadcast(eventType string, issue *db.Issue) {
	b.events = append(b.events, eventType)
}

type fakeIssueCache struct {
	data map[string]string
}

func newFakeIssueCache() *fakeIssueCache {
	return &fakeIssueCache{data: make(map[string]string)}
}

func (c *fakeIssueCache) Get(ctx context.Context, key string) (string, bool) {
	v, ok := c.data[key]
	return v, ok
}

func (c *fakeIssueCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	c.data[key] = value
}

func (c *fakeIssueCache) DeletePrefix(ctx context.Context, prefix string) {
	for k := range c.data {
		if strings.HasPrefix(k, prefix) {
			delete(c.data, k)
		}
	}
}

type issueTestEnv struct {
	handlers *IssueHandlers
	store    *fakeIssueStore
	notifier *fakeIssueNotifier
	hub      *fakeBroadcaster
	cache    *fakeIssueCache
	userID   uuid.UUID
}

func newIssueTestEnv() *issueTestEnv {
	userID := uuid.New()
	store := newFakeIssueStore()
	notifier := &fakeIssueNotifier{}
	hub := &fakeBroadcaster{}
	cache := newFakeIssueCache()
	users := &fakeUserGetter{user: &db.User{ID: userID, Email: "alice@example.com"}}
	return &issueTestEnv{
		handlers: NewIssueHandlers(store, users, notifier, cache, hub),
		store:    store,
		notifier: notifier,
		hub:      hub,
		cache:    cache,
		userID:   userID,
	}
}

func (e *issueTestEnv) do(t *testing.T, handler apperrors.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	ctx := context.WithValue(req.Context(), auth.UserContextKey, &auth.UserContext{
		UserID: e.userID,
		Email:  "alice@example.com",
	})
	req = req.WithContext(ctx)

	// Re-resolve path parameters through a mux so PathValue works.
	mux := http.NewServeMux()
	mux.HandleFunc(method+" /api/v1/issues", apperrors.HandleFunc(handler))
	mux.HandleFunc(method+" /api/v1/issues/{id}", apperrors.HandleFunc(handler))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func (e *issueTestEnv) createIssue(t *testing.T) *db.Issue {
	t.Helper()
	rec := e.do(t, e.handlers.Create, http.MethodPost, "/api/v1/issues",
		`{"type":"VAPT","title":"SQL injection in search","description":"The search endpoint concatenates raw input into SQL."}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed with %d: %s", rec.Code, rec.Body.String())
	}
	for _, issue := range e.store.issues {
		return issue
	}
	t.Fatal("issue not stored")
	return nil
}

func TestCreateIssue(t *testing.T) {
	env := newIssueTestEnv()

	issue := env.createIssue(t)

	if issue.UserID != env.userID {
		t.Error("issue not attributed to the authenticated user")
	}
	if issue.Priority != db.PriorityMedium {
		t.Errorf("expected default priority MEDIUM, got %q", issue.Priority)
	}
	if issue.Status != db.StatusOpen {
		t.Errorf("expected default status OPEN, got %q", issue.Status)
	}
	if len(env.notifier.created) != 1 {
		t.Errorf("expected 1 notification, got %d", len(env.notifier.created))
	}
	if len(env.hub.events) != 1 || env.hub.events[0] != "issue_created" {
		t.Errorf("expected issue_created broadcast, got %v", env.hub.events)
	}
}

func TestCreateIssueValidation(t *testing.T) {
	env := newIssueTestEnv()

	tests := []struct {
		name string
		body string
	}{
		{"bad type", `{"type":"PHISHING","title":"A valid title","description":"A long enough description."}`},
		{"short title", `{"type":"VAPT","title":"ab","description":"A long enough description."}`},
		{"short description", `{"type":"VAPT","title":"A valid title","description":"short"}`},
		{"bad priority", `{"type":"VAPT","title":"A valid title","description":"A long enough description.","priority":"URGENT"}`},
		{"bad status", `{"type":"VAPT","title":"A valid title","description":"A long enough description.","status":"DONE"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, env.handlers.Create, http.MethodPost, "/api/v1/issues", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}

	if len(env.store.issues) != 0 {
		t.Errorf("no issues should be stored, got %d", len(env.store.issues))
	}
}

func TestListIssuesUsesCache(t *testing.T) {
	env := newIssueTestEnv()
	env.createIssue(t)

	first := env.do(t, env.handlers.List, http.MethodGet, "/api/v1/issues", "")
	if first.Code != http.StatusOK {
		t.Fatalf("list failed with %d", first.Code)
	}
	if len(env.cache.data) != 1 {
		t.Fatalf("expected list to be cached, cache has %d entries", len(env.cache.data))
	}

	second := env.do(t, env.handlers.List, http.MethodGet, "/api/v1/issues", "")
	if second.Body.String() != first.Body.String() {
		t.Error("cached response should match the original")
	}
}

func TestWriteInvalidatesCache(t *testing.T) {
	env := newIssueTestEnv()
	issue := env.createIssue(t)

	env.do(t, env.handlers.List, http.MethodGet, "/api/v1/issues", "")
	if len(env.cache.data) == 0 {
		t.Fatal("expected a cached list")
	}

	rec := env.do(t, env.handlers.Update, http.MethodPut, "/api/v1/issues/"+issue.ID.String(),
		`{"status":"RESOLVED"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed with %d: %s", rec.Code, rec.Body.String())
	}

	if len(env.cache.data) != 0 {
		t.Error("update should invalidate the cached lists")
	}
}

func TestListIssuesRejectsBadFilter(t *testing.T) {
	env := newIssueTestEnv()

	rec := env.do(t, env.handlers.List, http.MethodGet, "/api/v1/issues?status=BOGUS", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad filter, got %d", rec.Code)
	}
}

func TestGetIssueNotFound(t *testing.T) {
	env := newIssueTestEnv()

	rec := env.do(t, env.handlers.Get, http.MethodGet, "/api/v1/issues/"+uuid.NewString(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = env.do(t, env.handlers.Get, http.MethodGet, "/api/v1/issues/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestGetIssueScopedToOwner(t *testing.T) {
	env := newIssueTestEnv()
	issue := env.createIssue(t)

	// Same issue id, different authenticated user.
	other := newIssueTestEnv()
	other.store.issues[issue.ID] = issue

	rec := other.do(t, other.handlers.Get, http.MethodGet, "/api/v1/issues/"+issue.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign issue should be invisible, got %d", rec.Code)
	}
}

func TestUpdateIssue(t *testing.T) {
	env := newIssueTestEnv()
	issue := env.createIssue(t)

	rec := env.do(t, env.handlers.Update, http.MethodPut, "/api/v1/issues/"+issue.ID.String(),
		`{"status":"IN_PROGRESS","priority":"HIGH"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update failed with %d: %s", rec.Code, rec.Body.String())
	}

	stored := env.store.issues[issue.ID]
	if stored.Status != db.StatusInProgress || stored.Priority != db.PriorityHigh {
		t.Errorf("update not applied: status=%q priority=%q", stored.Status, stored.Priority)
	}
	if env.hub.events[len(env.hub.events)-1] != "issue_updated" {
		t.Error("expected issue_updated broadcast")
	}
}

func TestUpdateIssueNoFields(t *testing.T) {
	env := newIssueTestEnv()
	issue := env.createIssue(t)

	rec := env.do(t, env.handlers.Update, http.MethodPut, "/api/v1/issues/"+issue.ID.String(), `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty update, got %d", rec.Code)
	}
}

func TestDeleteIssue(t *testing.T) {
	env := newIssueTestEnv()
	issue := env.createIssue(t)

	rec := env.do(t, env.handlers.Delete, http.MethodDelete, "/api/v1/issues/"+issue.ID.String(), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete failed with %d", rec.Code)
	}
	if len(env.store.issues) != 0 {
		t.Error("issue should be removed")
	}
	if env.hub.events[len(env.hub.events)-1] != "issue_deleted" {
		t.Error("expected issue_deleted broadcast")
	}

	rec = env.do(t, env.handlers.Delete, http.MethodDelete, "/api/v1/issues/"+issue.ID.String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for repeated delete, got %d", rec.Code)
	}
}

func TestIssueEnvelopeShape(t *testing.T) {
	env := newIssueTestEnv()
	issue := env.createIssue(t)

	rec := env.do(t, env.handlers.Get, http.MethodGet, "/api/v1/issues/"+issue.ID.String(), "")

	var env2 struct {
		Success bool `json:"success"`
		Data    struct {
			Issue *db.Issue `json:"issue"`
		} `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env2); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if !env2.Success || env2.Data.Issue == nil || env2.Data.Issue.ID != issue.ID {
		t.Error("unexpected envelope shape")
	}
}
