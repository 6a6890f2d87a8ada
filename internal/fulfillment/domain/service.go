package domain

import (
	"context"
	"errors"
	"time"

	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
)

// DispatchOutcome reports how a dispatch attempt resolved.
type DispatchOutcome string

const (
	// OutcomeCreated means this call created the shipment order.
	OutcomeCreated DispatchOutcome = "created"
	// OutcomeAlreadyFulfilled means the cycle was already claimed or shipped.
	OutcomeAlreadyFulfilled DispatchOutcome = "already_fulfilled"
	// OutcomeFailed means the shipment call failed and the ledger records it.
	OutcomeFailed DispatchOutcome = "failed"
)

// DispatchRequest asks for one subscription cycle to be fulfilled.
type DispatchRequest struct {
	Subscription  subscriptiondomain.Subscription
	ChargeEventID *snowflake.ID
	OccurredAt    time.Time
}

// DispatchResult is the resolved ledger state after a dispatch attempt.
type DispatchResult struct {
	Outcome        DispatchOutcome
	FulfillmentKey string
	Order          *FulfillmentOrder
	Err            error
}

// Dispatcher fulfills subscription cycles exactly once.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
	ListOrders(ctx context.Context, subscriptionID string) ([]FulfillmentOrder, error)
}

// Queue decouples webhook ingestion from the shipment call. A full queue is
// reported to the caller rather than blocking the request path; the sweep
// picks up anything the queue dropped.
type Queue interface {
	Submit(ctx context.Context, req DispatchRequest) error
}

var (
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrInvalidSubscription  = errors.New("invalid_subscription")
	ErrNoItems              = errors.New("no_items")
	ErrPermanentlyFailed    = errors.New("permanently_failed")
	ErrQueueFull            = errors.New("dispatch_queue_full")
	ErrQueueClosed          = errors.New("dispatch_queue_closed")
)
