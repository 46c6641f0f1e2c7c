package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/apnisec/backend/internal/db"
	apperrors "github.com/apnisec/backend/internal/errors"
)

const testSecret = "test-secret"

type fakeUserStore struct {
	users     map[uuid.UUID]*db.User
	createErr error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[uuid.UUID]*db.User)}
}

func (s *fakeUserStore) Create(ctx context.Context, user *db.User) error {
	if s.createErr != nil {
		return s.createErr
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return db.ErrEmailExists
		}
	}
	s.users[user.ID] = user
	return nil
}

func (s *fakeUserStore) GetByEmail(ctx context.Context, email string) (*db.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, db.ErrUserNotFound
}

func (s *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*db.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, db.ErrUserNotFound
}

func (s *fakeUserStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	u, ok := s.users[id]
	if !ok {
		return db.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

type fakeTokenStore struct {
	tokens map[uuid.UUID]*db.RefreshToken
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[uuid.UUID]*db.RefreshToken)}
}

func (s *fakeTokenStore) Create(ctx context.Context, token *db.RefreshToken) error {
	copied := *token
	s.tokens[token.ID] = &copied
	return nil
}

func (s *fakeTokenStore) GetByHash(ctx context.Context, tokenHash string) (*db.RefreshToken, error) {
	for _, t := range s.tokens {
		if t.TokenHash == tokenHash {
			copied := *t
			return &copied, nil
		}
	}
	return nil, db.ErrTokenNotFound
}

func (s *fakeTokenStore) Revoke(ctx context.Context, id uuid.UUID) error {
	t, ok := s.tokens[id]
	if !ok {
		return db.ErrTokenNotFound
	}
	t.Revoked = true
	return nil
}

func (s *fakeTokenStore) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	for _, t := range s.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (s *fakeTokenStore) activeCount(userID uuid.UUID) int {
	count := 0
	for _, t := range s.tokens {
		if t.UserID == userID && !t.Revoked {
			count++
		}
	}
	return count
}

type fakeNotifier struct {
	welcomes   []string
	resetLinks []string
}

func (n *fakeNotifier) SendWelcome(user *db.User) {
	n.welcomes = append(n.welcomes, user.Email)
}

func (n *fakeNotifier) SendPasswordReset(user *db.User, resetLink string) {
	n.resetLinks = append(n.resetLinks, resetLink)
}

func newTestService() (*Service, *fakeUserStore, *fakeTokenStore, *fakeNotifier) {
	users := newFakeUserStore()
	tokens := newFakeTokenStore()
	notifier := &fakeNotifier{}
	return NewService(users, tokens, notifier, testSecret), users, tokens, notifier
}

func mustRegister(t *testing.T, svc *Service, email string) *Session {
	t.Helper()
	session, err := svc.Register(context.Background(), email, "password123", "Test User", false)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	return session
}

func TestRegisterIssuesSession(t *testing.T) {
	svc, _, tokens, notifier := newTestService()

	session := mustRegister(t, svc, "alice@example.com")

	if session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatal("expected both tokens to be issued")
	}
	if session.User.Email != "alice@example.com" {
		t.Errorf("unexpected user email %q", session.User.Email)
	}

	claims, err := svc.VerifyAccessToken(session.AccessToken)
	if err != nil {
		t.Fatalf("issued access token did not verify: %v", err)
	}
	if claims.UserID != session.User.ID {
		t.Error("claims subject does not match registered user")
	}

	// Raw refresh token must not appear in the store.
	if _, err := tokens.GetByHash(context.Background(), session.RefreshToken); err == nil {
		t.Error("refresh token stored unhashed")
	}
	if _, err := tokens.GetByHash(context.Background(), hashToken(session.RefreshToken)); err != nil {
		t.Error("hashed refresh token not found in store")
	}

	if len(notifier.welcomes) != 1 {
		t.Errorf("expected 1 welcome email, got %d", len(notifier.welcomes))
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _, _ := newTestService()
	mustRegister(t, svc, "alice@example.com")

	_, err := svc.Register(context.Background(), "alice@example.com", "otherpassword", "", false)
	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Status != 401 || appErr.Message != "User already exists" {
		t.Errorf("unexpected error: status=%d message=%q", appErr.Status, appErr.Message)
	}
}

func TestLoginIndistinguishableFailures(t *testing.T) {
	svc, _, _, _ := newTestService()
	mustRegister(t, svc, "alice@example.com")

	_, errUnknown := svc.Login(context.Background(), "nobody@example.com", "password123", false)
	_, errWrongPw := svc.Login(context.Background(), "alice@example.com", "wrongpassword", false)

	for _, err := range []error{errUnknown, errWrongPw} {
		appErr, ok := err.(*apperrors.AppError)
		if !ok {
			t.Fatalf("expected AppError, got %v", err)
		}
		if appErr.Status != 401 || appErr.Message != "Invalid credentials" {
			t.Errorf("unexpected error: status=%d message=%q", appErr.Status, appErr.Message)
		}
	}
}

func TestLoginRememberMeLifetime(t *testing.T) {
	svc, _, _, _ := newTestService()
	mustRegister(t, svc, "alice@example.com")

	short, err := svc.Login(context.Background(), "alice@example.com", "password123", false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	long, err := svc.Login(context.Background(), "alice@example.com", "password123", true)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	shortLifetime := time.Until(short.RefreshExpiresAt)
	longLifetime := time.Until(long.RefreshExpiresAt)

	if shortLifetime > RefreshTokenExpiryShort {
		t.Errorf("short session lifetime %v exceeds %v", shortLifetime, RefreshTokenExpiryShort)
	}
	if longLifetime < RefreshTokenExpiryLong-time.Minute {
		t.Errorf("remember-me session lifetime %v below %v", longLifetime, RefreshTokenExpiryLong)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, _, _ := newTestService()
	session := mustRegister(t, svc, "alice@example.com")

	rotated, err := svc.Refresh(context.Background(), session.RefreshToken)
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Error("refresh must issue a new refresh token")
	}

	// The old token was consumed; replaying it fails.
	if _, err := svc.Refresh(context.Background(), session.RefreshToken); err == nil {
		t.Error("replayed refresh token should be rejected")
	}

	// The rotated token still works.
	if _, err := svc.Refresh(context.Background(), rotated.RefreshToken); err != nil {
		t.Errorf("rotated token should be valid: %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	svc, _, tokens, _ := newTestService()
	session := mustRegister(t, svc, "alice@example.com")

	for _, record := range tokens.tokens {
		record.ExpiresAt = time.Now().Add(-time.Hour)
	}

	_, err := svc.Refresh(context.Background(), session.RefreshToken)
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Status != 401 {
		t.Fatalf("expected 401 for expired token, got %v", err)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.Refresh(context.Background(), "deadbeef")
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Status != 401 {
		t.Fatalf("expected 401 for unknown token, got %v", err)
	}
}

func TestLogoutSingleToken(t *testing.T) {
	svc, users, tokens, _ := newTestService()
	session := mustRegister(t, svc, "alice@example.com")

	user, _ := users.GetByEmail(context.Background(), "alice@example.com")

	// A second session on another device.
	if _, err := svc.Login(context.Background(), "alice@example.com", "password123", false); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := svc.Logout(context.Background(), user.ID, session.RefreshToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if got := tokens.activeCount(user.ID); got != 1 {
		t.Errorf("expected 1 active token after single logout, got %d", got)
	}
}

func TestLogoutAllDevices(t *testing.T) {
	svc, users, tokens, _ := newTestService()
	mustRegister(t, svc, "alice@example.com")

	user, _ := users.GetByEmail(context.Background(), "alice@example.com")

	if _, err := svc.Login(context.Background(), "alice@example.com", "password123", false); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	// No refresh token presented: revoke everything.
	if err := svc.Logout(context.Background(), user.ID, ""); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if got := tokens.activeCount(user.ID); got != 0 {
		t.Errorf("expected 0 active tokens after logout-all, got %d", got)
	}
}

func TestLogoutUnknownTokenIsNoop(t *testing.T) {
	svc, users, _, _ := newTestService()
	mustRegister(t, svc, "alice@example.com")
	user, _ := users.GetByEmail(context.Background(), "alice@example.com")

	if err := svc.Logout(context.Background(), user.ID, "deadbeef"); err != nil {
		t.Errorf("logout with unknown token should succeed, got %v", err)
	}
}

func TestStartPasswordResetUnknownEmail(t *testing.T) {
	svc, _, _, notifier := newTestService()

	if err := svc.StartPasswordReset(context.Background(), "nobody@example.com", "https://example.com"); err != nil {
		t.Fatalf("unknown email must not error: %v", err)
	}
	if len(notifier.resetLinks) != 0 {
		t.Error("no email should be sent for an unknown address")
	}
}

func TestResetPasswordFlow(t *testing.T) {
	svc, users, tokens, notifier := newTestService()
	mustRegister(t, svc, "alice@example.com")
	user, _ := users.GetByEmail(context.Background(), "alice@example.com")

	if err := svc.StartPasswordReset(context.Background(), "alice@example.com", "https://example.com"); err != nil {
		t.Fatalf("start reset failed: %v", err)
	}
	if len(notifier.resetLinks) != 1 {
		t.Fatalf("expected 1 reset email, got %d", len(notifier.resetLinks))
	}

	// The reset token is the signed token for the user; reissue one directly.
	token, err := svc.signToken(user)
	if err != nil {
		t.Fatalf("sign token failed: %v", err)
	}

	if err := svc.ResetPassword(context.Background(), token, "newpassword456"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("newpassword456")); err != nil {
		t.Error("password was not updated")
	}

	// Every session is revoked after a reset.
	if got := tokens.activeCount(user.ID); got != 0 {
		t.Errorf("expected 0 active tokens after reset, got %d", got)
	}
}

func TestResetPasswordBadToken(t *testing.T) {
	svc, _, _, _ := newTestService()

	err := svc.ResetPassword(context.Background(), "not-a-token", "newpassword456")
	appErr, ok := err.(*apperrors.AppError)
	if !ok || appErr.Status != 401 {
		t.Fatalf("expected 401 for bad token, got %v", err)
	}
}

func TestVerifyAccessTokenWrongSecret(t *testing.T) {
	svc, _, _, _ := newTestService()
	session := mustRegister(t, svc, "alice@example.com")

	other := NewService(newFakeUserStore(), newFakeTokenStore(), nil, "other-secret")
	if _, err := other.VerifyAccessToken(session.AccessToken); err == nil {
		t.Error("token signed with a different secret should be rejected")
	}
}

func TestHashToken(t *testing.T) {
	hash1 := hashToken("token-1")
	hash1Again := hashToken("token-1")
	hash2 := hashToken("token-2")

	if hash1 != hash1Again {
		t.Error("same token should produce same hash")
	}
	if hash1 == hash2 {
		t.Error("different tokens should produce different hashes")
	}
	if len(hash1) != 64 {
		t.Errorf("hash should be 64 characters (SHA-256 hex), got %d", len(hash1))
	}
}
