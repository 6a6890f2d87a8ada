// Package domain describes outbound shipment orders.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ShipmentItem is one product line on a shipment order.
type ShipmentItem struct {
	Name         string
	SKU          string
	Units        int
	SellingPrice int64
}

// ShipmentRequest creates one shipment order at the shipping provider.
// OrderRef doubles as the provider-side order id, so resubmitting the same
// ref cannot produce a second physical shipment.
type ShipmentRequest struct {
	OrderRef       string
	OrderDate      time.Time
	PickupLocation string

	BillingName    string
	BillingEmail   string
	BillingPhone   string
	BillingAddress string
	BillingCity    string
	BillingState   string
	BillingPincode string
	BillingCountry string

	Items    []ShipmentItem
	SubTotal int64
}

// Shipment is the provider's view of a created order.
type Shipment struct {
	ProviderOrderID string
	ShipmentID      string
	Status          string
}

// Gateway creates shipment orders at the shipping provider.
type Gateway interface {
	CreateOrder(ctx context.Context, req ShipmentRequest) (Shipment, error)
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
)

// GatewayError is a failed provider call, classified for retry decisions.
type GatewayError struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("shipping gateway error (status %d): %s", e.StatusCode, e.Message)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Transient
	}
	// Network-level failures have no status code and may succeed on retry.
	return err != nil
}
