package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	fulfillmentdomain "github.com/boxkite/boxkite/internal/fulfillment/domain"
	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
)

type createOrderRequest struct {
	SubscriptionID string `json:"subscription_id"`
	OccurredAt     string `json:"occurred_at"`
}

// CreateOrder pushes one subscription cycle through the dispatcher by hand.
// It shares the ledger with webhook ingestion and the sweep, so repeating a
// call for the same cycle reports already_fulfilled instead of double
// shipping.
func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	occurredAt := s.clock.Now()
	if raw := strings.TrimSpace(req.OccurredAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, newValidationError("occurred_at", "invalid_occurred_at", "invalid occurred_at"))
			return
		}
		occurredAt = parsed.UTC()
	}

	ctx := c.Request.Context()

	sub, err := s.subscriptionSvc.GetByID(ctx, subscriptiondomain.GetSubscriptionRequest{
		ID: strings.TrimSpace(req.SubscriptionID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.dispatcher.Dispatch(ctx, fulfillmentdomain.DispatchRequest{
		Subscription: sub.Subscription,
		OccurredAt:   occurredAt,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp := gin.H{
		"outcome":         string(result.Outcome),
		"fulfillment_key": result.FulfillmentKey,
	}
	if result.Order != nil {
		resp["order"] = result.Order
	}
	if result.Outcome == fulfillmentdomain.OutcomeFailed && result.Err != nil {
		resp["reason"] = result.Err.Error()
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListOrders(c *gin.Context) {
	orders, err := s.dispatcher.ListOrders(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders})
}
