// Package domain contains the fulfillment ledger, the single source of
// truth for whether a subscription cycle has been shipped.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// OrderStatus is the ledger state of one fulfillment attempt.
type OrderStatus string

const (
	// OrderStatusPending marks a claimed cycle whose shipment call is in flight.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusCreated marks a cycle with a confirmed shipment order.
	OrderStatusCreated OrderStatus = "CREATED"
	// OrderStatusFailed marks a cycle whose shipment call failed.
	OrderStatusFailed OrderStatus = "FAILED"
)

// FulfillmentOrder is one row of the fulfillment ledger. FulfillmentKey is
// unique, so inserting it acts as the claim on a subscription cycle.
type FulfillmentOrder struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	FulfillmentKey  string         `json:"fulfillment_key" gorm:"type:text;not null;uniqueIndex"`
	SubscriptionID  snowflake.ID   `json:"subscription_id" gorm:"not null;index"`
	ChargeEventID   *snowflake.ID  `json:"charge_event_id" gorm:"index"`
	CycleMarker     string         `json:"cycle_marker" gorm:"type:text;not null"`
	Status          OrderStatus    `json:"status" gorm:"type:text;not null"`
	Retryable       bool           `json:"retryable" gorm:"not null;default:false"`
	AttemptCount    int            `json:"attempt_count" gorm:"not null;default:0"`
	ProviderOrderID string         `json:"provider_order_id" gorm:"type:text"`
	ShipmentID      string         `json:"shipment_id" gorm:"type:text"`
	LastError       string         `json:"last_error" gorm:"type:text"`
	ItemsSnapshot   datatypes.JSON `json:"items_snapshot" gorm:"type:jsonb"`
	CreatedAt       time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (FulfillmentOrder) TableName() string { return "fulfillment_orders" }

// OrderItemSnapshot is the line-item state captured at dispatch time.
type OrderItemSnapshot struct {
	Name      string `json:"name"`
	SKU       string `json:"sku"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
}
