package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertPending claims a fulfillment key. Returns false when the key
	// already exists.
	InsertPending(ctx context.Context, db *gorm.DB, order *FulfillmentOrder) (bool, error)
	FindByKey(ctx context.Context, db *gorm.DB, fulfillmentKey string) (*FulfillmentOrder, error)
	// ReclaimFailed moves a retryable FAILED row back to PENDING. Returns
	// false when another worker already re-claimed or resolved it.
	ReclaimFailed(ctx context.Context, db *gorm.DB, fulfillmentKey string, chargeEventID *snowflake.ID) (bool, error)
	// MarkCreated records a confirmed shipment. Conditional on PENDING so a
	// late worker cannot overwrite a concurrent resolution.
	MarkCreated(ctx context.Context, db *gorm.DB, id snowflake.ID, providerOrderID, shipmentID string) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, retryable bool, lastError string) error
	IncrementAttempt(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	ListBySubscription(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID) ([]FulfillmentOrder, error)
	// ExpireStalePending demotes PENDING rows untouched since before to
	// FAILED retryable so the retry job can re-claim work lost to a crash
	// between claim and resolution.
	ExpireStalePending(ctx context.Context, db *gorm.DB, before time.Time) (int64, error)
	ListRetryable(ctx context.Context, db *gorm.DB, limit int) ([]FulfillmentOrder, error)
}
