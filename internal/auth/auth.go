package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/apnisec/backend/internal/db"
	apperrors "github.com/apnisec/backend/internal/errors"
	"golang.org/x/crypto/bcrypt"
)

const (
	AccessTokenExpiry = 15 * time.Minute
	// Refresh lifetime depends on "remember me": 7 days when set, 1 day otherwise.
	RefreshTokenExpiryLong  = 7 * 24 * time.Hour
	RefreshTokenExpiryShort = 24 * time.Hour
	BcryptCost              = 12
	tokenIssuer             = "apnisec"
)

// Claims is the signed subject of an access (or password-reset) token.
// Verification is stateless: signature and expiry alone decide validity.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// UserInfo is the sanitized user shape returned to clients. The password
// hash never leaves the service.
type UserInfo struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Session is the result of a successful register/login/refresh.
type Session struct {
	User             *UserInfo
	AccessToken      string
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// UserStore is the credential-store surface the service needs for users.
// *db.UserRepository satisfies it; tests substitute fakes.
type UserStore interface {
	Create(ctx context.Context, user *db.User) error
	GetByEmail(ctx context.Context, email string) (*db.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*db.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// TokenStore is the credential-store surface for refresh tokens.
type TokenStore interface {
	Create(ctx context.Context, token *db.RefreshToken) error
	GetByHash(ctx context.Context, tokenHash string) (*db.RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
}

// Notifier dispatches email non-blocking and best-effort; implementations
// must never fail the calling request.
type Notifier interface {
	SendWelcome(user *db.User)
	SendPasswordReset(user *db.User, resetLink string)
}

type Service struct {
	users     UserStore
	tokens    TokenStore
	notifier  Notifier
	jwtSecret []byte
}

// NewService wires the session manager. notifier may be nil when outbound
// email is disabled.
func NewService(users UserStore, tokens TokenStore, notifier Notifier, jwtSecret string) *Service {
	return &Service{
		users:     users,
		tokens:    tokens,
		notifier:  notifier,
		jwtSecret: []byte(jwtSecret),
	}
}

// Register creates a user and opens a session. A taken email fails with the
// same 401 shape as other auth failures.
func (s *Service) Register(ctx context.Context, email, password, name string, rememberMe bool) (*Session, error) {
	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.Auth("User already exists")
	} else if !errors.Is(err, db.ErrUserNotFound) {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &db.User{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: string(passwordHash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, db.ErrEmailExists) {
			// Lost the race against a concurrent registration.
			return nil, apperrors.Auth("User already exists")
		}
		return nil, err
	}

	session, err := s.issueTokens(ctx, user, rememberMe)
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.SendWelcome(user)
	}

	return session, nil
}

// Login verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string, rememberMe bool) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.Auth("Invalid credentials")
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.Auth("Invalid credentials")
	}

	return s.issueTokens(ctx, user, rememberMe)
}

// Refresh rotates the presented refresh token: the old record is revoked
// before a new pair is issued, so a replayed token always fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	record, err := s.tokens.GetByHash(ctx, hashToken(refreshToken))
	if err != nil {
		if errors.Is(err, db.ErrTokenNotFound) {
			return nil, apperrors.Auth("Invalid or expired refresh token")
		}
		return nil, err
	}

	if record.Revoked || time.Now().After(record.ExpiresAt) {
		return nil, apperrors.Auth("Invalid or expired refresh token")
	}

	if err := s.tokens.Revoke(ctx, record.ID); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.Auth("Invalid or expired refresh token")
		}
		return nil, err
	}

	// Refreshed sessions keep the long lifetime.
	return s.issueTokens(ctx, user, true)
}

// Logout revokes the presented refresh token, or every token for the user
// when none is presented. Omitting the token deliberately logs out all
// devices.
func (s *Service) Logout(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	if refreshToken != "" {
		record, err := s.tokens.GetByHash(ctx, hashToken(refreshToken))
		if err != nil {
			if errors.Is(err, db.ErrTokenNotFound) {
				return nil
			}
			return err
		}
		return s.tokens.Revoke(ctx, record.ID)
	}

	return s.tokens.RevokeAllForUser(ctx, userID)
}

// StartPasswordReset signs a reset token and emails a link. An unknown
// email returns without error and without any observable difference.
func (s *Service) StartPasswordReset(ctx context.Context, email, origin string) error {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, err := s.signToken(user)
	if err != nil {
		return err
	}

	resetLink := fmt.Sprintf("%s/reset-password?token=%s", origin, url.QueryEscape(token))

	if s.notifier != nil {
		s.notifier.SendPasswordReset(user, resetLink)
	}

	return nil
}

// ResetPassword verifies the reset token, stores the new hash and revokes
// every refresh token so all devices must log in again.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims, err := s.VerifyAccessToken(token)
	if err != nil {
		return err
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return apperrors.Auth("Invalid or expired token")
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return apperrors.Auth("User not found")
		}
		return err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), BcryptCost)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(passwordHash)); err != nil {
		return err
	}

	return s.tokens.RevokeAllForUser(ctx, user.ID)
}

// GetUserByID returns the sanitized user.
func (s *Service) GetUserByID(ctx context.Context, id uuid.UUID) (*UserInfo, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			return nil, apperrors.Auth("User not found")
		}
		return nil, err
	}
	return sanitize(user), nil
}

// VerifyAccessToken validates signature and expiry. No store lookup.
func (s *Service) VerifyAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, apperrors.Auth("Invalid or expired token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, apperrors.Auth("Invalid or expired token")
	}

	return claims, nil
}

func (s *Service) issueTokens(ctx context.Context, user *db.User, rememberMe bool) (*Session, error) {
	accessToken, err := s.signToken(user)
	if err != nil {
		return nil, err
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}
	refreshToken := hex.EncodeToString(tokenBytes)

	lifetime := RefreshTokenExpiryShort
	if rememberMe {
		lifetime = RefreshTokenExpiryLong
	}
	expiresAt := time.Now().Add(lifetime)

	record := &db.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
		Revoked:   false,
	}

	if err := s.tokens.Create(ctx, record); err != nil {
		return nil, err
	}

	return &Session{
		User:             sanitize(user),
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: expiresAt,
	}, nil
}

func (s *Service) signToken(user *db.User) (string, error) {
	claims := &Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(AccessTokenExpiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    tokenIssuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func sanitize(user *db.User) *UserInfo {
	return &UserInfo{
		ID:        user.ID.String(),
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

// Refresh tokens are stored hashed so a leaked table does not leak usable
// credentials.
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
