package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moonerfun/flywheel/internal/logger"
	"github.com/moonerfun/flywheel/internal/server"
)

const testSecret = "test-secret"

func newTestServer(checks map[string]server.HealthChecker, routes func(*gin.Engine)) *server.Server {
	return server.New(server.Config{
		ServiceName:    "flywheel",
		ServiceVersion: "test",
	}, logger.NewNop(), checks, routes)
}

func serve(t *testing.T, s *server.Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod, expiresAt time.Time) string {
	t.Helper()
	claims := server.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "operator",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestHealth_Healthy(t *testing.T) {
	t.Parallel()

	s := newTestServer(map[string]server.HealthChecker{
		"database": func(context.Context) error { return nil },
	}, nil)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body server.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, server.HealthStatusHealthy, body.Status)
	assert.Equal(t, "flywheel", body.Service)
	assert.Equal(t, server.HealthStatusHealthy, body.Checks["database"].Status)
}

func TestHealth_UnhealthyDependency(t *testing.T) {
	t.Parallel()

	s := newTestServer(map[string]server.HealthChecker{
		"database": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}, nil)

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body server.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, server.HealthStatusUnhealthy, body.Status)
	assert.Equal(t, "connection refused", body.Checks["redis"].Message)
}

func TestHealth_Head(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, nil)
	rec := serve(t, s, httptest.NewRequest(http.MethodHead, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, func(r *gin.Engine) {
		r.GET("/boom", func(*gin.Context) { panic("boom") })
	})

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Parallel()

	var ctxLogger logger.Logger
	s := newTestServer(nil, func(r *gin.Engine) {
		r.GET("/ping", func(c *gin.Context) {
			ctxLogger = logger.FromContext(c.Request.Context())
			c.Status(http.StatusNoContent)
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(server.RequestIDHeader, "req-123")
	rec := serve(t, s, req)
	assert.Equal(t, "req-123", rec.Header().Get(server.RequestIDHeader))
	assert.NotNil(t, ctxLogger)

	rec = serve(t, s, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get(server.RequestIDHeader))
}

func TestJWTMiddleware(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, func(r *gin.Engine) {
		group := server.ProtectedGroup(r, "/api", testSecret)
		group.GET("/secure", func(c *gin.Context) {
			claims, ok := server.GetClaims(c)
			if !ok {
				c.Status(http.StatusInternalServerError)
				return
			}
			c.String(http.StatusOK, claims.Subject)
		})
	})

	testCases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-jwt", wantStatus: http.StatusUnauthorized},
		{
			name:       "wrong secret",
			header:     "Bearer " + signToken(t, "other-secret", jwt.SigningMethodHS256, time.Now().Add(time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			header:     "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(-time.Hour)),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid",
			header:     "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, time.Now().Add(time.Hour)),
			wantStatus: http.StatusOK,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/secure", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := serve(t, s, req)
			assert.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, "operator", rec.Body.String())
			}
		})
	}
}

func TestProtectedGroup_NoSecretIsOpen(t *testing.T) {
	t.Parallel()

	s := newTestServer(nil, func(r *gin.Engine) {
		server.ProtectedGroup(r, "/api", "").GET("/open", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})
	})

	rec := serve(t, s, httptest.NewRequest(http.MethodGet, "/api/open", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRunWithGracefulShutdown_ContextCancel(t *testing.T) {
	t.Parallel()

	s := server.New(server.Config{Port: 0, ShutdownTimeout: time.Second}, logger.NewNop(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.RunWithGracefulShutdown(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
