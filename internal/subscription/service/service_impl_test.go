package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/boxkite/boxkite/internal/clock"
	customerrepo "github.com/boxkite/boxkite/internal/customer/repository"
	paymentdomain "github.com/boxkite/boxkite/internal/payment/domain"
	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
	subscriptionrepo "github.com/boxkite/boxkite/internal/subscription/repository"
	"github.com/boxkite/boxkite/internal/subscription/service"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeGateway struct {
	created   []paymentdomain.RecurringChargeRequest
	canceled  []string
	createErr error
	cancelErr error
	fixedRef  string
}

func (f *fakeGateway) CreateRecurringCharge(ctx context.Context, req paymentdomain.RecurringChargeRequest) (paymentdomain.RecurringCharge, error) {
	if f.createErr != nil {
		return paymentdomain.RecurringCharge{}, f.createErr
	}
	f.created = append(f.created, req)
	ref := f.fixedRef
	if ref == "" {
		ref = fmt.Sprintf("sub_rzp_%d", len(f.created))
	}
	return paymentdomain.RecurringCharge{
		ProviderSubscriptionID: ref,
		Status:                 "created",
		ShortURL:               "https://rzp.io/i/test",
	}, nil
}

func (f *fakeGateway) CancelRecurringCharge(ctx context.Context, providerSubscriptionID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.canceled = append(f.canceled, providerSubscriptionID)
	return nil
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
	}
	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	return db
}

func newService(t *testing.T, gateway paymentdomain.Gateway) (subscriptiondomain.Service, *gorm.DB, *snowflake.Node) {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(5)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	svc := service.New(service.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clock.NewFakeClock(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
		Repo:         subscriptionrepo.Provide(),
		CustomerRepo: customerrepo.Provide(),
		Gateway:      gateway,
	})

	return svc, db, node
}

func seedCustomer(t *testing.T, db *gorm.DB, node *snowflake.Node) snowflake.ID {
	t.Helper()

	id := node.Generate()
	now := time.Now().UTC()
	if err := db.Exec(
		`INSERT INTO customers (id, name, email, phone, address_line, city, state, pincode, country, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '{}', ?, ?)`,
		id, "Asha Rao", "asha@example.com", "9999999999",
		"12 MG Road", "Bengaluru", "Karnataka", "560001", "India", now, now,
	).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return id
}

func TestCreateSubscription(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	svc, db, node := newService(t, gateway)
	customerID := seedCustomer(t, db, node)

	resp, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:  customerID.String(),
		Cadence:     subscriptiondomain.CadenceMonthly,
		Currency:    "inr",
		TotalCycles: 6,
		Items: []subscriptiondomain.SubscriptionItemRequest{
			{Name: "Filter Coffee 250g", SKU: "COF-250", UnitPrice: 24950, Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if resp.Status != subscriptiondomain.SubscriptionStatusActive {
		t.Fatalf("expected active, got %s", resp.Status)
	}
	if resp.Currency != "INR" {
		t.Fatalf("expected uppercased currency, got %s", resp.Currency)
	}
	if resp.ProviderSubscriptionID == "" {
		t.Fatalf("expected provider subscription id")
	}
	if len(resp.Items) != 1 {
		t.Fatalf("expected one item, got %d", len(resp.Items))
	}

	if len(gateway.created) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(gateway.created))
	}
	if got := gateway.created[0].Amount; got != 49900 {
		t.Fatalf("expected charge amount 49900, got %d", got)
	}
	if gateway.created[0].TotalCycles != 6 {
		t.Fatalf("expected total cycles 6, got %d", gateway.created[0].TotalCycles)
	}

	fetched, err := svc.GetByID(ctx, subscriptiondomain.GetSubscriptionRequest{ID: resp.ID.String()})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.ID != resp.ID || len(fetched.Items) != 1 {
		t.Fatalf("round trip mismatch: %+v", fetched)
	}
}

func TestCreateSubscriptionDuplicateProviderRef(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{fixedRef: "sub_rzp_replayed"}
	svc, db, node := newService(t, gateway)
	customerID := seedCustomer(t, db, node)

	req := subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: customerID.String(),
		Cadence:    subscriptiondomain.CadenceMonthly,
		Items: []subscriptiondomain.SubscriptionItemRequest{
			{Name: "Filter Coffee 250g", SKU: "COF-250", UnitPrice: 24950, Quantity: 1},
		},
	}

	if _, err := svc.Create(ctx, req); err != nil {
		t.Fatalf("first create: %v", err)
	}

	_, err := svc.Create(ctx, req)
	if !errors.Is(err, subscriptiondomain.ErrProviderRefExists) {
		t.Fatalf("expected ErrProviderRefExists, got %v", err)
	}

	var count int64
	if err := db.WithContext(ctx).Table("subscriptions").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one subscription row, got %d", count)
	}
}

func TestCreateSubscriptionGatewayFailureLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{createErr: errors.New("provider down")}
	svc, db, node := newService(t, gateway)
	customerID := seedCustomer(t, db, node)

	_, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: customerID.String(),
		Cadence:    subscriptiondomain.CadenceMonthly,
		Items: []subscriptiondomain.SubscriptionItemRequest{
			{Name: "Filter Coffee 250g", SKU: "COF-250", UnitPrice: 24950, Quantity: 1},
		},
	})
	if err == nil {
		t.Fatalf("expected create error")
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM subscriptions`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no subscriptions, got %d", count)
	}
}

func TestCreateSubscriptionValidation(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	svc, db, node := newService(t, gateway)
	customerID := seedCustomer(t, db, node)

	cases := []struct {
		name string
		req  subscriptiondomain.CreateSubscriptionRequest
		want error
	}{
		{
			name: "bad customer id",
			req: subscriptiondomain.CreateSubscriptionRequest{
				CustomerID: "not-a-snowflake",
				Cadence:    subscriptiondomain.CadenceMonthly,
				Items:      []subscriptiondomain.SubscriptionItemRequest{{Name: "x", UnitPrice: 100, Quantity: 1}},
			},
			want: subscriptiondomain.ErrInvalidCustomer,
		},
		{
			name: "bad cadence",
			req: subscriptiondomain.CreateSubscriptionRequest{
				CustomerID: customerID.String(),
				Cadence:    "fortnightly",
				Items:      []subscriptiondomain.SubscriptionItemRequest{{Name: "x", UnitPrice: 100, Quantity: 1}},
			},
			want: subscriptiondomain.ErrInvalidCadence,
		},
		{
			name: "no items",
			req: subscriptiondomain.CreateSubscriptionRequest{
				CustomerID: customerID.String(),
				Cadence:    subscriptiondomain.CadenceMonthly,
			},
			want: subscriptiondomain.ErrInvalidItems,
		},
		{
			name: "zero price item",
			req: subscriptiondomain.CreateSubscriptionRequest{
				CustomerID: customerID.String(),
				Cadence:    subscriptiondomain.CadenceMonthly,
				Items:      []subscriptiondomain.SubscriptionItemRequest{{Name: "x", UnitPrice: 0, Quantity: 1}},
			},
			want: subscriptiondomain.ErrInvalidItems,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if len(gateway.created) != 0 {
		t.Fatalf("expected no gateway calls, got %d", len(gateway.created))
	}
}

func TestCancelSubscription(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	svc, db, node := newService(t, gateway)
	customerID := seedCustomer(t, db, node)

	created, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: customerID.String(),
		Cadence:    subscriptiondomain.CadenceWeekly,
		Items: []subscriptiondomain.SubscriptionItemRequest{
			{Name: "Sourdough Loaf", SKU: "BRD-01", UnitPrice: 15000, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	canceled, err := svc.Cancel(ctx, subscriptiondomain.CancelSubscriptionRequest{ID: created.ID.String()})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if canceled.Status != subscriptiondomain.SubscriptionStatusCanceled {
		t.Fatalf("expected canceled, got %s", canceled.Status)
	}
	if len(gateway.canceled) != 1 || gateway.canceled[0] != created.ProviderSubscriptionID {
		t.Fatalf("expected provider cancel for %s, got %v", created.ProviderSubscriptionID, gateway.canceled)
	}

	_, err = svc.Cancel(ctx, subscriptiondomain.CancelSubscriptionRequest{ID: created.ID.String()})
	if !errors.Is(err, subscriptiondomain.ErrAlreadyCanceled) {
		t.Fatalf("expected already canceled, got %v", err)
	}

	// Canceled subscriptions drop out of the active listing.
	active, err := svc.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active subscriptions, got %d", len(active))
	}
}

func TestCancelKeepsLocalStateOnProviderFailure(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{cancelErr: errors.New("provider down")}
	svc, db, node := newService(t, gateway)
	customerID := seedCustomer(t, db, node)

	created, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: customerID.String(),
		Cadence:    subscriptiondomain.CadenceMonthly,
		Items: []subscriptiondomain.SubscriptionItemRequest{
			{Name: "Filter Coffee 250g", SKU: "COF-250", UnitPrice: 24950, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Cancel(ctx, subscriptiondomain.CancelSubscriptionRequest{ID: created.ID.String()}); err == nil {
		t.Fatalf("expected cancel error")
	}

	fetched, err := svc.GetByID(ctx, subscriptiondomain.GetSubscriptionRequest{ID: created.ID.String()})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if fetched.Status != subscriptiondomain.SubscriptionStatusActive {
		t.Fatalf("expected still active after provider failure, got %s", fetched.Status)
	}
}

func TestGetByProviderRef(t *testing.T) {
	ctx := context.Background()
	gateway := &fakeGateway{}
	svc, db, node := newService(t, gateway)
	customerID := seedCustomer(t, db, node)

	created, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID: customerID.String(),
		Cadence:    subscriptiondomain.CadenceMonthly,
		Items: []subscriptiondomain.SubscriptionItemRequest{
			{Name: "Filter Coffee 250g", SKU: "COF-250", UnitPrice: 24950, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	found, err := svc.GetByProviderRef(ctx, "razorpay", created.ProviderSubscriptionID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found == nil || found.ID != created.ID {
		t.Fatalf("expected subscription %s, got %+v", created.ID, found)
	}

	missing, err := svc.GetByProviderRef(ctx, "razorpay", "sub_unknown")
	if err != nil {
		t.Fatalf("find missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown ref, got %+v", missing)
	}
}
