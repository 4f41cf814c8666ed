package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

const routerTestSecret = "router-test-secret"

type healthCheckerFunc func(ctx context.Context) error

func (f healthCheckerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

func newTestRouter(t *testing.T, healthErr error) http.Handler {
	t.Helper()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	userSvc := &mockUserService{
		getProfileFn: func(ctx context.Context, userID string) (*model.User, error) {
			return &model.User{ID: userID, Email: "a@x.com", Name: "Alice", CreatedAt: time.Now()}, nil
		},
	}
	authSvc := &mockAuthService{
		registerFn: func(ctx context.Context, email, password, name string) (*auth.AuthResult, error) {
			return testAuthResult(), nil
		},
	}

	return NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(testWriter{t}, nil)),
		CORSAllowedOrigin: "http://localhost:3000",
		JWTSecret:         routerTestSecret,
		MetricsCollector:  collector,
		MetricsGatherer:   reg,
		AuthService:       authSvc,
		UserService:       userSvc,
		HealthChecker: healthCheckerFunc(func(ctx context.Context) error {
			return healthErr
		}),
	})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func TestRouter_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_HealthEndpoint_DBDown_Returns503(t *testing.T) {
	router := newTestRouter(t, context.DeadlineExceeded)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusServiceUnavailable)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_RegisterRoute_Reachable(t *testing.T) {
	router := newTestRouter(t, nil)

	body := `{"email":"a@x.com","password":"P@ssw0rd","name":"Alice"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_ProfileRequiresBearer(t *testing.T) {
	router := newTestRouter(t, nil)

	// トークンなしは401
	req := httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}

	// 有効なトークンで200
	token, err := auth.GenerateToken("user-1", "a@x.com", "Alice", routerTestSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/profile", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want %d", w.Result().StatusCode, http.StatusOK)
	}
}

func TestRouter_GeneralThrottle_Returns429(t *testing.T) {
	th := middleware.NewThrottler(middleware.ThrottleConfig{RequestsPerMinute: 2})
	defer th.Stop()

	router := NewRouter(&RouterDeps{
		Logger:            slog.New(slog.NewJSONHandler(testWriter{t}, nil)),
		CORSAllowedOrigin: "http://localhost:3000",
		JWTSecret:         routerTestSecret,
		Throttler:         th,
		AuthService:       &mockAuthService{},
		UserService:       &mockUserService{},
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
		req.RemoteAddr = "192.0.2.1:1000"
		router.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.RemoteAddr = "192.0.2.1:1000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}
}

func TestRouter_SecurityHeadersApplied(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	resp := w.Result()
	if got := resp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q, want http://localhost:3000", got)
	}
}
