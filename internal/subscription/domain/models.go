// Package domain contains persistence models for recurring delivery subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPaused   SubscriptionStatus = "PAUSED"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// Cadence is the recurring delivery interval.
type Cadence string

const (
	CadenceDaily   Cadence = "daily"
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
)

// Subscription captures a customer's recurring delivery agreement and its
// payment-provider counterpart.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey"`
	CustomerID             snowflake.ID       `gorm:"not null;index"`
	Status                 SubscriptionStatus `gorm:"type:text;not null"`
	Cadence                Cadence            `gorm:"type:text;not null"`
	Provider               string             `gorm:"type:text;not null"`
	ProviderSubscriptionID string             `gorm:"type:text;not null;uniqueIndex"`
	Currency               string             `gorm:"type:text;not null"`
	TotalCycles            int                `gorm:"not null"`
	StartAt                time.Time          `gorm:"not null"`
	PausedAt               *time.Time         `gorm:""`
	CanceledAt             *time.Time         `gorm:""`
	Metadata               datatypes.JSONMap  `gorm:"type:jsonb"`
	CreatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// IsActive reports whether the subscription should receive fulfillments.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

// SubscriptionItem is a product line delivered every cycle.
type SubscriptionItem struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	SubscriptionID snowflake.ID      `gorm:"not null;index"`
	Name           string            `gorm:"type:text;not null"`
	SKU            string            `gorm:"type:text;not null"`
	UnitPrice      int64             `gorm:"not null"`
	Quantity       int               `gorm:"not null"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (SubscriptionItem) TableName() string { return "subscription_items" }
