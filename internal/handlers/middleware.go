package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ovos-raposo/checkout-service/internal/apperrors"
	"github.com/ovos-raposo/checkout-service/internal/logging"
	"github.com/ovos-raposo/checkout-service/internal/metrics"
	"github.com/ovos-raposo/checkout-service/internal/models"
)

const callerKey = "caller"

// RequestID propagates X-Request-ID, generating one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(logging.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Header(logging.RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := logging.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"latency_ms":  time.Since(start).Milliseconds(),
			"request_id":  logging.RequestID(c.Request.Context()),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
			"body_length": c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			fields["error"] = c.Errors.String()
		}

		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("Request failed", fields)
		case status >= http.StatusBadRequest:
			logger.Warn("Request rejected", fields)
		default:
			logger.Info("Request handled", fields)
		}
	}
}

// Metrics records request counts and latency by route template.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// RequireAuth resolves the bearer token into the caller.
func (h *Handlers) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		caller, err := h.orders.ResolveCaller(c.Request.Context(), token)
		if err != nil {
			if !errors.Is(err, apperrors.ErrUnauthorized) && !apperrors.IsNotFound(err) {
				h.logger.Error("Failed to resolve caller", logging.Fields{"error": err.Error()})
			}
			abortWith(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

// RequireRole lets the request through when the caller holds any of roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := callerFrom(c)
		if caller == nil {
			abortWith(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		for _, r := range roles {
			if caller.HasRole(r) {
				c.Next()
				return
			}
		}
		abortWith(c, http.StatusForbidden, codeForbidden, "forbidden")
	}
}

// RequireInternalToken guards service-to-service endpoints with a shared
// bearer token.
func RequireInternalToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			abortWith(c, http.StatusInternalServerError, codeInternal, "internal token not configured")
			return
		}
		got := bearerToken(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			abortWith(c, http.StatusUnauthorized, codeUnauthorized, "unauthorized")
			return
		}
		c.Next()
	}
}

func callerFrom(c *gin.Context) *models.Caller {
	v, ok := c.Get(callerKey)
	if !ok {
		return nil
	}
	caller, _ := v.(*models.Caller)
	return caller
}

func bearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
