package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/config"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestHandlers() *Handlers {
	return NewHandlers(Services{}, &config.Config{}, logging.Nop())
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	h := newTestHandlers()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.Health(c)

	assert.Equal(t, http.StatusOK, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, "checkout-service", resp["service"])
}

func TestReady(t *testing.T) {
	h := newTestHandlers()
	h.AddReadinessCheck("postgres", func(context.Context) error { return nil })

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h.AddReadinessCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)

	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	assert.Equal(t, map[string]interface{}{"redis": "connection refused"}, resp["failed"])
}

func TestLive(t *testing.T) {
	h := newTestHandlers()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.Live(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestVersion(t *testing.T) {
	h := newTestHandlers()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	h.Version(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, Version, decode(t, w)["version"])
}

func TestHandleError(t *testing.T) {
	verr := apperrors.NewValidationError("name", "Nome deve ter pelo menos 2 caracteres")
	verr.Add("phone", "Telefone deve ter 10 ou 11 dígitos")

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   map[string]interface{}
	}{
		{
			name:       "validation",
			err:        fmt.Errorf("create order: %w", verr),
			wantStatus: http.StatusBadRequest,
			wantBody: map[string]interface{}{
				"error": "Nome deve ter pelo menos 2 caracteres",
				"code":  "VALIDATION_ERROR",
				"details": map[string]interface{}{
					"name":  "Nome deve ter pelo menos 2 caracteres",
					"phone": "Telefone deve ter 10 ou 11 dígitos",
				},
			},
		},
		{
			name: "coded with details",
			err: &apperrors.CodedError{
				Status:  http.StatusBadRequest,
				Code:    "MINIMUM_AMOUNT_ERROR",
				Message: "O valor mínimo para pagamento com cartão é R$ 1.00",
				Details: map[string]interface{}{"minimumAmount": 1.0, "currentAmount": 0.5},
			},
			wantStatus: http.StatusBadRequest,
			wantBody: map[string]interface{}{
				"error":   "O valor mínimo para pagamento com cartão é R$ 1.00",
				"code":    "MINIMUM_AMOUNT_ERROR",
				"details": map[string]interface{}{"minimumAmount": 1.0, "currentAmount": 0.5},
			},
		},
		{
			name: "coded hides cause",
			err: &apperrors.CodedError{
				Status:  http.StatusInternalServerError,
				Code:    "PAYMENT_PROVIDER_ERROR",
				Message: "Erro ao processar pagamento. Tente novamente.",
				Err:     errors.New(`{"message":"secret provider payload"}`),
			},
			wantStatus: http.StatusInternalServerError,
			wantBody: map[string]interface{}{
				"error": "Erro ao processar pagamento. Tente novamente.",
				"code":  "PAYMENT_PROVIDER_ERROR",
			},
		},
		{
			name:       "not found",
			err:        fmt.Errorf("load: %w", apperrors.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantBody:   map[string]interface{}{"error": "not found", "code": "NOT_FOUND"},
		},
		{
			name:       "unauthorized",
			err:        apperrors.ErrUnauthorized,
			wantStatus: http.StatusUnauthorized,
			wantBody:   map[string]interface{}{"error": "unauthorized", "code": "UNAUTHORIZED"},
		},
		{
			name:       "forbidden",
			err:        apperrors.ErrForbidden,
			wantStatus: http.StatusForbidden,
			wantBody:   map[string]interface{}{"error": "forbidden", "code": "FORBIDDEN"},
		},
		{
			name:       "conflict",
			err:        apperrors.ErrConflict,
			wantStatus: http.StatusConflict,
			wantBody:   map[string]interface{}{"error": "conflict", "code": "CONFLICT"},
		},
		{
			name:       "internal",
			err:        errors.New("pq: connection reset"),
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]interface{}{"error": "internal server error", "code": "INTERNAL_ERROR"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			handleError(c, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			if diff := cmp.Diff(tt.wantBody, decode(t, w)); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, logging.RequestID(c.Request.Context()))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Body.String())
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Body.String())
	assert.Equal(t, w.Body.String(), w.Header().Get("X-Request-ID"))
}

func TestRequireRole(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set(callerKey, &models.Caller{UserID: uid, Roles: []models.Role{models.Role(c.GetHeader("X-Test-Role"))}})
		}
	})
	router.GET("/staff", RequireRole(models.StaffRoles...), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name string
		user string
		role string
		want int
	}{
		{"anonymous", "", "", http.StatusUnauthorized},
		{"customer", "u1", "customer", http.StatusForbidden},
		{"logistics", "u2", "logistics", http.StatusOK},
		{"admin", "u3", "admin", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/staff", nil)
			req.Header.Set("X-Test-User", tt.user)
			req.Header.Set("X-Test-Role", tt.role)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit(t *testing.T) {
	h := NewHandlers(Services{Limiter: NewLocalRateLimiter(2, time.Hour)}, &config.Config{}, logging.Nop())
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set(callerKey, &models.Caller{UserID: uid})
		}
	})
	router.GET("/profiles", h.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/profiles", nil)
		req.Header.Set("X-Test-User", user)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, call("admin-1"))
	assert.Equal(t, http.StatusOK, call("admin-1"))
	assert.Equal(t, http.StatusTooManyRequests, call("admin-1"))
	// the budget is per caller
	assert.Equal(t, http.StatusOK, call("admin-2"))
	assert.Equal(t, http.StatusUnauthorized, call(""))

	open := NewHandlers(Services{Limiter: brokenLimiter{}}, &config.Config{}, logging.Nop())
	router = gin.New()
	router.Use(func(c *gin.Context) { c.Set(callerKey, &models.Caller{UserID: "admin-1"}) })
	router.GET("/profiles", open.RateLimit(), func(c *gin.Context) { c.Status(http.StatusOK) })
	assert.Equal(t, http.StatusOK, call("admin-1"))
}

func TestRequireInternalToken(t *testing.T) {
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	router := gin.New()
	router.POST("/tasks", RequireInternalToken("internal-secret"), ok)
	router.POST("/unset", RequireInternalToken(""), ok)

	tests := []struct {
		path   string
		header string
		want   int
	}{
		{"/tasks", "Bearer internal-secret", http.StatusOK},
		{"/tasks", "bearer internal-secret", http.StatusOK},
		{"/tasks", "Bearer wrong", http.StatusUnauthorized},
		{"/tasks", "", http.StatusUnauthorized},
		{"/unset", "Bearer anything", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, tt.path, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, tt.want, w.Code, "%s %q", tt.path, tt.header)
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("BEARER  abc "))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("Bearer "))
}
