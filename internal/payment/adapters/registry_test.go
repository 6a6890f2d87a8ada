package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"

	razorpayadapter "github.com/boxkite/boxkite/internal/payment/adapters/razorpay"
	stripeadapter "github.com/boxkite/boxkite/internal/payment/adapters/stripe"
	paymentdomain "github.com/boxkite/boxkite/internal/payment/domain"
)

func TestRegistryResolvesKnownProviders(t *testing.T) {
	registry := NewRegistry(razorpayadapter.NewFactory(), stripeadapter.NewFactory())

	assert.True(t, registry.ProviderExists("razorpay"))
	assert.True(t, registry.ProviderExists("  Stripe "))
	assert.False(t, registry.ProviderExists("paypal"))

	adapter, err := registry.NewAdapter("RAZORPAY", paymentdomain.AdapterConfig{
		Provider: "razorpay",
		Config:   map[string]any{"webhook_secret": "whsec_test"},
	})
	assert.NoError(t, err)
	assert.NotNil(t, adapter)
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	registry := NewRegistry(razorpayadapter.NewFactory())

	adapter, err := registry.NewAdapter("paypal", paymentdomain.AdapterConfig{Provider: "paypal"})
	assert.ErrorIs(t, err, paymentdomain.ErrProviderNotFound)
	assert.Nil(t, adapter)
}

func TestRegistrySkipsNilAndUnnamedFactories(t *testing.T) {
	registry := NewRegistry(nil, razorpayadapter.NewFactory())

	assert.True(t, registry.ProviderExists("razorpay"))
	assert.False(t, registry.ProviderExists(""))
}
