package api

import (
	"net/http"
	"strconv"
	"time"

	"storefront/internal/models"
	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userKey = "user"

// currentUser returns the user set by authMiddleware.
func currentUser(c *gin.Context) *models.User {
	user, _ := c.MustGet(userKey).(*models.User)
	return user
}

// authMiddleware rejects requests without a valid bearer token.
func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := h.deps.Auth.Authenticate(c.Request.Context(), c.GetHeader("Authorization"))
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.Set(userKey, user)
		c.Next()
	}
}

// adminMiddleware must run after authMiddleware.
func adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.RequireAdmin(currentUser(c)); err != nil {
			respondMessage(c, http.StatusForbidden, err.Error())
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", "Stripe-Signature"},
		ExposeHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:          12 * time.Hour,
	})
}

// rateLimitMiddleware limits requests per client IP. If the limiter is
// unreachable the request is let through.
func (h *Handler) rateLimitMiddleware() gin.HandlerFunc {
	limit := h.deps.RateLimit.AuthRequestsPerWindow
	window := h.deps.RateLimit.Window

	return func(c *gin.Context) {
		if h.deps.Limiter == nil || limit <= 0 {
			c.Next()
			return
		}

		key := "auth:" + c.ClientIP()
		res, err := h.deps.Limiter.Allow(c.Request.Context(), key, limit, window)
		if err != nil {
			h.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(res.ResetIn).Unix(), 10))

		if !res.Allowed {
			util.RateLimitedTotal.WithLabelValues(c.FullPath()).Inc()
			h.logger.Warn("rate limit exceeded",
				zap.String("client_ip", c.ClientIP()),
				zap.Int64("count", res.Count),
				zap.Int("limit", limit))
			c.Header("Retry-After", strconv.Itoa(int(res.ResetIn.Seconds())))
			respondMessage(c, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}
		c.Next()
	}
}

// requestLogger logs each request once it completes.
func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		h.logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func zapRequest(c *gin.Context, err error) []zap.Field {
	return []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
