package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// EventRecord is the durable dedup ledger for provider charge notifications.
// The unique (provider, provider_charge_id) pair makes redelivery a no-op.
type EventRecord struct {
	ID                     snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider               string         `json:"provider" gorm:"type:text;not null"`
	ProviderEventID        string         `json:"provider_event_id" gorm:"type:text;not null"`
	ProviderChargeID       string         `json:"provider_charge_id" gorm:"type:text;not null"`
	ProviderSubscriptionID string         `json:"provider_subscription_id" gorm:"type:text;not null"`
	EventType              string         `json:"event_type" gorm:"type:text;not null"`
	SubscriptionID         snowflake.ID   `json:"subscription_id" gorm:"not null;index"`
	Payload                datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt             time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt            *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "charge_events" }

const (
	EventTypeChargeSucceeded = "charge_succeeded"
)

// ChargeEvent is the canonical charge event parsed by adapters.
type ChargeEvent struct {
	Provider               string
	ProviderEventID        string
	ProviderChargeID       string
	ProviderSubscriptionID string
	Type                   string
	Amount                 int64
	Currency               string
	OccurredAt             time.Time
	RawPayload             []byte
}
