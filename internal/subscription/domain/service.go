package domain

import (
	"context"
	"errors"
)

type SubscriptionItemRequest struct {
	Name      string
	SKU       string
	UnitPrice int64
	Quantity  int
}

type CreateSubscriptionRequest struct {
	CustomerID  string
	Cadence     Cadence
	Currency    string
	TotalCycles int
	Items       []SubscriptionItemRequest
}

type GetSubscriptionRequest struct {
	ID string
}

type CancelSubscriptionRequest struct {
	ID string
}

type SubscriptionWithItems struct {
	Subscription
	Items []SubscriptionItem `json:"items"`
}

type Service interface {
	Create(context.Context, CreateSubscriptionRequest) (SubscriptionWithItems, error)
	GetByID(context.Context, GetSubscriptionRequest) (SubscriptionWithItems, error)
	Cancel(context.Context, CancelSubscriptionRequest) (Subscription, error)
	GetByProviderRef(ctx context.Context, provider, providerSubscriptionID string) (*Subscription, error)
	ListActive(ctx context.Context) ([]Subscription, error)
}

var (
	ErrInvalidCustomer      = errors.New("invalid_customer")
	ErrInvalidCadence       = errors.New("invalid_cadence")
	ErrInvalidItems         = errors.New("invalid_items")
	ErrInvalidID            = errors.New("invalid_id")
	ErrNotFound             = errors.New("not_found")
	ErrAlreadyCanceled      = errors.New("already_canceled")
	ErrProviderRefExists    = errors.New("provider_ref_exists")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
)
