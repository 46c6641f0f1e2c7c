package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/apnisec/backend/internal/errors"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	l := New(limit, window)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestCheckAdmitsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		remaining, _, err := l.Check("1.2.3.4")
		if err != nil {
			t.Fatalf("request %d should be admitted: %v", i+1, err)
		}
		if want := 3 - (i + 1); remaining != want {
			t.Errorf("request %d: remaining = %d, want %d", i+1, remaining, want)
		}
	}

	if _, _, err := l.Check("1.2.3.4"); err == nil {
		t.Fatal("request over the limit should be rejected")
	}
}

func TestCheckRejectionIsRateLimitError(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Check("k")
	_, _, err := l.Check("k")

	appErr, ok := err.(*apperrors.AppError)
	if !ok {
		t.Fatalf("expected *AppError, got %T", err)
	}
	if appErr.Status != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", appErr.Status)
	}
}

func TestCheckWindowReset(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	l.Check("k")
	l.Check("k")
	if _, _, err := l.Check("k"); err == nil {
		t.Fatal("third request inside window should be rejected")
	}

	*now = now.Add(time.Minute)

	for i := 0; i < 2; i++ {
		if _, _, err := l.Check("k"); err != nil {
			t.Fatalf("request %d after reset should be admitted: %v", i+1, err)
		}
	}
	if _, _, err := l.Check("k"); err == nil {
		t.Fatal("limit should apply again in the new window")
	}
}

func TestCheckRejectionDoesNotConsumeQuota(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	l.Check("k")
	l.Check("k")

	// Hammering while at the limit must not extend or inflate the entry.
	for i := 0; i < 10; i++ {
		l.Check("k")
	}

	*now = now.Add(time.Minute)

	if _, _, err := l.Check("k"); err != nil {
		t.Fatalf("fresh window should admit: %v", err)
	}
}

func TestCheckKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	if _, _, err := l.Check("a"); err != nil {
		t.Fatalf("key a: %v", err)
	}
	if _, _, err := l.Check("b"); err != nil {
		t.Fatalf("key b should have its own window: %v", err)
	}
}

func TestCheckResetAtStable(t *testing.T) {
	l, now := newTestLimiter(5, time.Minute)

	_, first, _ := l.Check("k")
	*now = now.Add(10 * time.Second)
	_, second, _ := l.Check("k")

	if !first.Equal(second) {
		t.Errorf("resetAt moved within a window: %v vs %v", first, second)
	}
}

func TestMiddlewareHeaders(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)
	handler := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
		t.Errorf("X-RateLimit-Limit = %q, want 2", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Errorf("X-RateLimit-Remaining = %q, want 1", got)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset header missing")
	}
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	handler := Middleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/issues", nil)
	req.Header.Set("X-Forwarded-For", "9.9.9.9")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("rejected response should still carry telemetry headers")
	}
}

func TestClientKeyFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *http.Request)
		want    string
	}{
		{
			name: "forwarded for",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "1.1.1.1, 2.2.2.2")
			},
			want: "1.1.1.1",
		},
		{
			name: "real ip",
			setup: func(r *http.Request) {
				r.Header.Set("X-Real-IP", "3.3.3.3")
			},
			want: "3.3.3.3",
		},
		{
			name:  "remote addr",
			setup: func(r *http.Request) {},
			want:  "192.0.2.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)
			if got := ClientKey(req); got != tt.want {
				t.Errorf("ClientKey() = %q, want %q", got, tt.want)
			}
		})
	}
}
