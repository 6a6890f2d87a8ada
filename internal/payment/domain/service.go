package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// IngestOutcome reports what the ingest pipeline did with a webhook delivery.
type IngestOutcome string

const (
	OutcomeAccepted  IngestOutcome = "accepted"
	OutcomeDuplicate IngestOutcome = "duplicate"
)

// Service ingests provider webhook deliveries.
type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (IngestOutcome, error)
}

// AdapterConfig carries provider credentials into an adapter.
type AdapterConfig struct {
	Provider string
	Config   map[string]any
}

// PaymentAdapter verifies and parses one provider's webhook format.
type PaymentAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*ChargeEvent, error)
}

// AdapterFactory builds adapters for a provider.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (PaymentAdapter, error)
}

// RecurringChargeRequest registers a recurring charge at the provider.
type RecurringChargeRequest struct {
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Description   string
	Amount        int64
	Currency      string
	Cadence       string
	TotalCycles   int
	Notes         map[string]string
}

// RecurringCharge is the provider-side recurring charge agreement.
type RecurringCharge struct {
	ProviderSubscriptionID string
	Status                 string
	ShortURL               string
}

// Gateway performs outbound calls to the payment provider.
type Gateway interface {
	CreateRecurringCharge(ctx context.Context, req RecurringChargeRequest) (RecurringCharge, error)
	CancelRecurringCharge(ctx context.Context, providerSubscriptionID string) error
}

type Repository interface {
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerChargeID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}

var (
	ErrInvalidProvider       = errors.New("invalid_provider")
	ErrProviderNotFound      = errors.New("provider_not_found")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrInvalidEvent          = errors.New("invalid_event")
	ErrInvalidConfig         = errors.New("invalid_config")
	ErrInvalidCurrency       = errors.New("invalid_currency")
	ErrInvalidAmount         = errors.New("invalid_amount")
	ErrUnsupportedEvent      = errors.New("unsupported_event")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrUnknownSubscription   = errors.New("unknown_subscription")
)
