package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/boxkite/boxkite/internal/clock"
	"github.com/boxkite/boxkite/internal/config"
	customerrepo "github.com/boxkite/boxkite/internal/customer/repository"
	fulfillmentdomain "github.com/boxkite/boxkite/internal/fulfillment/domain"
	fulfillmentrepo "github.com/boxkite/boxkite/internal/fulfillment/repository"
	fulfillmentservice "github.com/boxkite/boxkite/internal/fulfillment/service"
	shippingdomain "github.com/boxkite/boxkite/internal/shipping/domain"
	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
	subscriptionrepo "github.com/boxkite/boxkite/internal/subscription/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeShippingGateway struct {
	calls     []shippingdomain.ShipmentRequest
	responses []error
}

func (f *fakeShippingGateway) CreateOrder(ctx context.Context, req shippingdomain.ShipmentRequest) (shippingdomain.Shipment, error) {
	f.calls = append(f.calls, req)
	if len(f.responses) > 0 {
		err := f.responses[0]
		f.responses = f.responses[1:]
		if err != nil {
			return shippingdomain.Shipment{}, err
		}
	}
	return shippingdomain.Shipment{
		ProviderOrderID: fmt.Sprintf("sr_%d", len(f.calls)),
		ShipmentID:      fmt.Sprintf("shp_%d", len(f.calls)),
		Status:          "NEW",
	}, nil
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			phone TEXT,
			address_line TEXT,
			city TEXT,
			state TEXT,
			pincode TEXT,
			country TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE subscriptions (
			id BIGINT PRIMARY KEY,
			customer_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			cadence TEXT NOT NULL,
			provider TEXT NOT NULL,
			provider_subscription_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			total_cycles INTEGER NOT NULL,
			start_at DATETIME NOT NULL,
			paused_at DATETIME,
			canceled_at DATETIME,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_subscriptions_provider_ref ON subscriptions(provider, provider_subscription_id)`,
		`CREATE TABLE subscription_items (
			id BIGINT PRIMARY KEY,
			subscription_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			sku TEXT NOT NULL,
			unit_price BIGINT NOT NULL,
			quantity INTEGER NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE fulfillment_orders (
			id BIGINT PRIMARY KEY,
			fulfillment_key TEXT NOT NULL,
			subscription_id BIGINT NOT NULL,
			charge_event_id BIGINT,
			cycle_marker TEXT NOT NULL,
			status TEXT NOT NULL,
			retryable BOOLEAN NOT NULL DEFAULT FALSE,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			provider_order_id TEXT,
			shipment_id TEXT,
			last_error TEXT,
			items_snapshot TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX ux_fulfillment_orders_key ON fulfillment_orders(fulfillment_key)`,
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}

type fixture struct {
	db           *gorm.DB
	node         *snowflake.Node
	gateway      *fakeShippingGateway
	clock        *clock.FakeClock
	dispatcher   fulfillmentdomain.Dispatcher
	subscription subscriptiondomain.Subscription
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	return newFixtureWithConfig(t, config.FulfillmentConfig{
		PickupLocation: "Primary Pickup Location",
		MaxAttempts:    maxAttempts,
	})
}

func newFixtureWithConfig(t *testing.T, cfg config.FulfillmentConfig) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	gateway := &fakeShippingGateway{}
	fakeNow := clock.NewFakeClock(time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))

	dispatcher := fulfillmentservice.NewDispatcher(fulfillmentservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        fakeNow,
		Repo:         fulfillmentrepo.Provide(),
		SubRepo:      subscriptionrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		Shipping:     gateway,
		ConfigHolder: config.NewStaticFulfillmentConfigHolder(cfg),
	})

	f := &fixture{
		db:         db,
		node:       node,
		gateway:    gateway,
		clock:      fakeNow,
		dispatcher: dispatcher,
	}
	f.subscription = f.seedSubscription(t, subscriptiondomain.SubscriptionStatusActive)
	return f
}

func (f *fixture) seedSubscription(t *testing.T, status subscriptiondomain.SubscriptionStatus) subscriptiondomain.Subscription {
	t.Helper()

	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	customerID := f.node.Generate()
	if err := f.db.Exec(
		`INSERT INTO customers (id, name, email, phone, address_line, city, state, pincode, country, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		customerID, "Asha Rao", "asha@example.com", "9999999999",
		"12 MG Road", "Bengaluru", "Karnataka", "560001", "India", now, now,
	).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	sub := subscriptiondomain.Subscription{
		ID:                     f.node.Generate(),
		CustomerID:             customerID,
		Status:                 status,
		Cadence:                subscriptiondomain.CadenceMonthly,
		Provider:               "razorpay",
		ProviderSubscriptionID: "sub_rzp_" + f.node.Generate().String(),
		Currency:               "INR",
		TotalCycles:            12,
		StartAt:                now,
	}
	if err := f.db.Exec(
		`INSERT INTO subscriptions (id, customer_id, status, cadence, provider, provider_subscription_id, currency, total_cycles, start_at, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		sub.ID, sub.CustomerID, sub.Status, sub.Cadence, sub.Provider, sub.ProviderSubscriptionID,
		sub.Currency, sub.TotalCycles, sub.StartAt, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	if err := f.db.Exec(
		`INSERT INTO subscription_items (id, subscription_id, name, sku, unit_price, quantity, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		f.node.Generate(), sub.ID, "Filter Coffee 250g", "COF-250", int64(24950), 2, now, now,
	).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}

	return sub
}

func TestDispatchCreatesOrderExactlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	occurredAt := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)
	req := fulfillmentdomain.DispatchRequest{Subscription: f.subscription, OccurredAt: occurredAt}

	first, err := f.dispatcher.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if first.Outcome != fulfillmentdomain.OutcomeCreated {
		t.Fatalf("expected created, got %s", first.Outcome)
	}
	wantKey := f.subscription.ID.String() + ":2024-06"
	if first.FulfillmentKey != wantKey {
		t.Fatalf("expected key %q, got %q", wantKey, first.FulfillmentKey)
	}

	second, err := f.dispatcher.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.Outcome != fulfillmentdomain.OutcomeAlreadyFulfilled {
		t.Fatalf("expected already_fulfilled, got %s", second.Outcome)
	}

	if len(f.gateway.calls) != 1 {
		t.Fatalf("expected exactly one gateway call, got %d", len(f.gateway.calls))
	}
	if f.gateway.calls[0].OrderRef != wantKey {
		t.Fatalf("expected gateway order ref %q, got %q", wantKey, f.gateway.calls[0].OrderRef)
	}
}

// Concurrent dispatches for the same cycle race on the ledger claim; only
// the insert winner may reach the gateway.
func TestDispatchConcurrentClaimsCreateOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	// One connection keeps sqlite from tripping over concurrent writers;
	// the dispatchers still interleave above the driver.
	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	req := fulfillmentdomain.DispatchRequest{
		Subscription: f.subscription,
		OccurredAt:   time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	}

	const workers = 8
	outcomes := make(chan fulfillmentdomain.DispatchOutcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.dispatcher.Dispatch(ctx, req)
			if err != nil {
				t.Errorf("dispatch: %v", err)
				return
			}
			outcomes <- result.Outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	var created, alreadyFulfilled int
	for outcome := range outcomes {
		switch outcome {
		case fulfillmentdomain.OutcomeCreated:
			created++
		case fulfillmentdomain.OutcomeAlreadyFulfilled:
			alreadyFulfilled++
		default:
			t.Fatalf("unexpected outcome %s", outcome)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one created outcome, got %d", created)
	}
	if alreadyFulfilled != workers-1 {
		t.Fatalf("expected %d already_fulfilled outcomes, got %d", workers-1, alreadyFulfilled)
	}
	if len(f.gateway.calls) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(f.gateway.calls))
	}

	var rows int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM fulfillment_orders`).Scan(&rows).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected one ledger row, got %d", rows)
	}
}

func TestDispatchNextCycleCreatesNewOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	june := fulfillmentdomain.DispatchRequest{
		Subscription: f.subscription,
		OccurredAt:   time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	}
	july := fulfillmentdomain.DispatchRequest{
		Subscription: f.subscription,
		OccurredAt:   time.Date(2024, 7, 15, 10, 0, 0, 0, time.UTC),
	}

	if _, err := f.dispatcher.Dispatch(ctx, june); err != nil {
		t.Fatalf("june dispatch: %v", err)
	}
	result, err := f.dispatcher.Dispatch(ctx, july)
	if err != nil {
		t.Fatalf("july dispatch: %v", err)
	}
	if result.Outcome != fulfillmentdomain.OutcomeCreated {
		t.Fatalf("expected created for new cycle, got %s", result.Outcome)
	}
	if len(f.gateway.calls) != 2 {
		t.Fatalf("expected two gateway calls, got %d", len(f.gateway.calls))
	}
}

func TestDispatchSkipsInactiveSubscription(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	canceled := f.seedSubscription(t, subscriptiondomain.SubscriptionStatusCanceled)

	_, err := f.dispatcher.Dispatch(ctx, fulfillmentdomain.DispatchRequest{Subscription: canceled})
	if !errors.Is(err, fulfillmentdomain.ErrSubscriptionInactive) {
		t.Fatalf("expected subscription inactive, got %v", err)
	}
	if len(f.gateway.calls) != 0 {
		t.Fatalf("expected no gateway calls, got %d", len(f.gateway.calls))
	}

	var count int64
	if err := f.db.Raw(`SELECT COUNT(*) FROM fulfillment_orders`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no ledger rows, got %d", count)
	}
}

func TestDispatchRetriesTransientFailureOnNextCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	f.gateway.responses = []error{
		&shippingdomain.GatewayError{StatusCode: 503, Message: "unavailable", Transient: true},
	}

	req := fulfillmentdomain.DispatchRequest{
		Subscription: f.subscription,
		OccurredAt:   time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	}

	first, err := f.dispatcher.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if first.Outcome != fulfillmentdomain.OutcomeFailed {
		t.Fatalf("expected failed, got %s", first.Outcome)
	}
	if first.Order == nil || !first.Order.Retryable {
		t.Fatalf("expected retryable failure, got %+v", first.Order)
	}

	second, err := f.dispatcher.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("retry dispatch: %v", err)
	}
	if second.Outcome != fulfillmentdomain.OutcomeCreated {
		t.Fatalf("expected created after retry, got %s", second.Outcome)
	}
	if len(f.gateway.calls) != 2 {
		t.Fatalf("expected two gateway calls, got %d", len(f.gateway.calls))
	}
	if second.Order.AttemptCount != 2 {
		t.Fatalf("expected attempt count 2, got %d", second.Order.AttemptCount)
	}
}

func TestDispatchPermanentFailureShortCircuits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	f.gateway.responses = []error{
		&shippingdomain.GatewayError{StatusCode: 422, Message: "bad pincode", Transient: false},
	}

	req := fulfillmentdomain.DispatchRequest{
		Subscription: f.subscription,
		OccurredAt:   time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	}

	first, err := f.dispatcher.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if first.Outcome != fulfillmentdomain.OutcomeFailed {
		t.Fatalf("expected failed, got %s", first.Outcome)
	}
	if first.Order.Retryable {
		t.Fatalf("expected non-retryable failure")
	}
	// A permanent failure used only one attempt despite the retry budget.
	if len(f.gateway.calls) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(f.gateway.calls))
	}

	second, err := f.dispatcher.Dispatch(ctx, req)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if second.Outcome != fulfillmentdomain.OutcomeFailed {
		t.Fatalf("expected failed, got %s", second.Outcome)
	}
	if !errors.Is(second.Err, fulfillmentdomain.ErrPermanentlyFailed) {
		t.Fatalf("expected permanently failed, got %v", second.Err)
	}
	if len(f.gateway.calls) != 1 {
		t.Fatalf("expected no new gateway call for permanent failure, got %d", len(f.gateway.calls))
	}
}

func TestDispatchExhaustsTransientRetriesWithinCall(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	transient := &shippingdomain.GatewayError{StatusCode: 502, Message: "bad gateway", Transient: true}
	f.gateway.responses = []error{transient, transient, transient}

	result, err := f.dispatcher.Dispatch(ctx, fulfillmentdomain.DispatchRequest{
		Subscription: f.subscription,
		OccurredAt:   time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Outcome != fulfillmentdomain.OutcomeFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
	if !result.Order.Retryable {
		t.Fatalf("expected retryable after exhausting budget")
	}
	if len(f.gateway.calls) != 3 {
		t.Fatalf("expected three gateway calls, got %d", len(f.gateway.calls))
	}
}

func TestDispatchBackoffAdvancesFakeClock(t *testing.T) {
	ctx := context.Background()
	f := newFixtureWithConfig(t, config.FulfillmentConfig{
		PickupLocation: "Primary Pickup Location",
		MaxAttempts:    3,
		BackoffBase:    2 * time.Second,
		BackoffMax:     8 * time.Second,
	})

	transient := &shippingdomain.GatewayError{StatusCode: 503, Message: "unavailable", Transient: true}
	f.gateway.responses = []error{transient, transient}

	result, err := f.dispatcher.Dispatch(ctx, fulfillmentdomain.DispatchRequest{
		Subscription: f.subscription,
		OccurredAt:   time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Outcome != fulfillmentdomain.OutcomeCreated {
		t.Fatalf("expected created after retries, got %s", result.Outcome)
	}
	if len(f.gateway.calls) != 3 {
		t.Fatalf("expected three gateway calls, got %d", len(f.gateway.calls))
	}

	// Both waits went through the injected clock, doubling from the base.
	slept := f.clock.SleptDurations()
	if len(slept) != 2 || slept[0] != 2*time.Second || slept[1] != 4*time.Second {
		t.Fatalf("expected backoff sleeps [2s 4s], got %v", slept)
	}
}

func TestDispatchRequiresItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)

	bare := f.subscription
	bare.ID = f.node.Generate()
	now := time.Now().UTC()
	if err := f.db.Exec(
		`INSERT INTO subscriptions (id, customer_id, status, cadence, provider, provider_subscription_id, currency, total_cycles, start_at, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		bare.ID, bare.CustomerID, bare.Status, bare.Cadence, bare.Provider, "sub_rzp_bare",
		bare.Currency, bare.TotalCycles, bare.StartAt, now, now,
	).Error; err != nil {
		t.Fatalf("seed subscription: %v", err)
	}

	_, err := f.dispatcher.Dispatch(ctx, fulfillmentdomain.DispatchRequest{Subscription: bare})
	if !errors.Is(err, fulfillmentdomain.ErrNoItems) {
		t.Fatalf("expected no items error, got %v", err)
	}
}
