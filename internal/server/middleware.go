package server

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/boxkite/boxkite/internal/observability/logger"
)

const webhookRateLimitEndpoint = "/webhooks/payment"

// WebhookRateLimit throttles inbound provider notifications per provider.
// A nil or disabled limiter lets everything through; providers retry on
// their own schedule, so a missing redis must never turn into dropped
// charges.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.webhookLimiter == nil || !s.webhookLimiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))

		allowed, retryAfter, err := s.webhookLimiter.Allow(ctx, provider)
		if err != nil {
			// Fail open: the dedup ledger absorbs any burst the limiter
			// would have caught.
			logger.FromContext(ctx).Warn("webhook rate limit check failed", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			logger.FromContext(ctx).Warn("webhook rate limit exceeded",
				zap.String("provider", provider),
			)
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(ctx, provider, webhookRateLimitEndpoint, "provider-rate")
			}
			c.Header("Retry-After", retryAfterSeconds(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, provider, webhookRateLimitEndpoint)
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
