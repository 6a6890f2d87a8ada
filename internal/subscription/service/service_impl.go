package service

import (
	"context"
	"strings"

	"github.com/boxkite/boxkite/internal/clock"
	customerdomain "github.com/boxkite/boxkite/internal/customer/domain"
	paymentdomain "github.com/boxkite/boxkite/internal/payment/domain"
	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
	"github.com/boxkite/boxkite/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	repo         subscriptiondomain.Repository
	customerRepo customerdomain.Repository
	gateway      paymentdomain.Gateway
	provider     string
}

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         subscriptiondomain.Repository
	CustomerRepo customerdomain.Repository
	Gateway      paymentdomain.Gateway
}

func New(p Params) subscriptiondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		customerRepo: p.CustomerRepo,
		gateway:      p.Gateway,
		provider:     "razorpay",
	}
}

// Create registers the recurring charge at the payment provider first, then
// persists the subscription and its items in one transaction. A provider
// failure leaves no local rows behind.
func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (subscriptiondomain.SubscriptionWithItems, error) {
	customerID, err := s.parseID(req.CustomerID, subscriptiondomain.ErrInvalidCustomer)
	if err != nil {
		return subscriptiondomain.SubscriptionWithItems{}, err
	}

	cadence, err := parseCadence(string(req.Cadence))
	if err != nil {
		return subscriptiondomain.SubscriptionWithItems{}, err
	}

	if len(req.Items) == 0 {
		return subscriptiondomain.SubscriptionWithItems{}, subscriptiondomain.ErrInvalidItems
	}
	for _, item := range req.Items {
		if strings.TrimSpace(item.Name) == "" || item.UnitPrice <= 0 || item.Quantity <= 0 {
			return subscriptiondomain.SubscriptionWithItems{}, subscriptiondomain.ErrInvalidItems
		}
	}

	customer, err := s.customerRepo.FindByID(ctx, s.db, customerID)
	if err != nil {
		return subscriptiondomain.SubscriptionWithItems{}, err
	}
	if customer == nil {
		return subscriptiondomain.SubscriptionWithItems{}, subscriptiondomain.ErrInvalidCustomer
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = "INR"
	}

	totalCycles := req.TotalCycles
	if totalCycles <= 0 {
		totalCycles = defaultTotalCycles(cadence)
	}

	var amount int64
	for _, item := range req.Items {
		amount += item.UnitPrice * int64(item.Quantity)
	}

	now := s.clock.Now().UTC()
	subscription := subscriptiondomain.Subscription{
		ID:          s.genID.Generate(),
		CustomerID:  customerID,
		Status:      subscriptiondomain.SubscriptionStatusActive,
		Cadence:     cadence,
		Provider:    s.provider,
		Currency:    currency,
		TotalCycles: totalCycles,
		StartAt:     now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	charge, err := s.gateway.CreateRecurringCharge(ctx, paymentdomain.RecurringChargeRequest{
		CustomerName:  customer.Name,
		CustomerEmail: customer.Email,
		CustomerPhone: customer.Phone,
		Description:   "boxkite recurring order",
		Amount:        amount,
		Currency:      currency,
		Cadence:       string(cadence),
		TotalCycles:   totalCycles,
		Notes: map[string]string{
			"subscription_id": subscription.ID.String(),
		},
	})
	if err != nil {
		return subscriptiondomain.SubscriptionWithItems{}, err
	}
	subscription.ProviderSubscriptionID = charge.ProviderSubscriptionID

	items := make([]subscriptiondomain.SubscriptionItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, subscriptiondomain.SubscriptionItem{
			ID:             s.genID.Generate(),
			SubscriptionID: subscription.ID,
			Name:           strings.TrimSpace(item.Name),
			SKU:            strings.TrimSpace(item.SKU),
			UnitPrice:      item.UnitPrice,
			Quantity:       item.Quantity,
			CreatedAt:      now,
			UpdatedAt:      now,
		})
	}

	if err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, &subscription); err != nil {
			return err
		}
		return s.repo.InsertItems(ctx, tx, items)
	}); err != nil {
		// The unique (provider, provider_subscription_id) index catches a
		// replayed signup for the same provider agreement.
		if db.IsDuplicateKeyErr(err) {
			return subscriptiondomain.SubscriptionWithItems{}, subscriptiondomain.ErrProviderRefExists
		}
		return subscriptiondomain.SubscriptionWithItems{}, err
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("provider_subscription_id", subscription.ProviderSubscriptionID),
		zap.String("cadence", string(cadence)),
	)

	return subscriptiondomain.SubscriptionWithItems{
		Subscription: subscription,
		Items:        items,
	}, nil
}

func (s *Service) GetByID(ctx context.Context, req subscriptiondomain.GetSubscriptionRequest) (subscriptiondomain.SubscriptionWithItems, error) {
	id, err := s.parseID(req.ID, subscriptiondomain.ErrInvalidID)
	if err != nil {
		return subscriptiondomain.SubscriptionWithItems{}, err
	}

	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.SubscriptionWithItems{}, err
	}
	if subscription == nil {
		return subscriptiondomain.SubscriptionWithItems{}, subscriptiondomain.ErrNotFound
	}

	items, err := s.repo.FindItems(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.SubscriptionWithItems{}, err
	}

	return subscriptiondomain.SubscriptionWithItems{
		Subscription: *subscription,
		Items:        items,
	}, nil
}

// Cancel revokes the provider-side recurring charge before updating local
// state, so a provider outage never strands a still-charging subscription
// marked canceled locally.
func (s *Service) Cancel(ctx context.Context, req subscriptiondomain.CancelSubscriptionRequest) (subscriptiondomain.Subscription, error) {
	id, err := s.parseID(req.ID, subscriptiondomain.ErrInvalidID)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return subscriptiondomain.Subscription{}, err
	}
	if subscription == nil {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrNotFound
	}
	if subscription.Status == subscriptiondomain.SubscriptionStatusCanceled {
		return subscriptiondomain.Subscription{}, subscriptiondomain.ErrAlreadyCanceled
	}

	if subscription.ProviderSubscriptionID != "" {
		if err := s.gateway.CancelRecurringCharge(ctx, subscription.ProviderSubscriptionID); err != nil {
			return subscriptiondomain.Subscription{}, err
		}
	}

	now := s.clock.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, s.db, id, subscriptiondomain.SubscriptionStatusCanceled); err != nil {
		return subscriptiondomain.Subscription{}, err
	}

	subscription.Status = subscriptiondomain.SubscriptionStatusCanceled
	subscription.CanceledAt = &now
	subscription.UpdatedAt = now

	s.log.Info("subscription canceled", zap.String("subscription_id", id.String()))
	return *subscription, nil
}

func (s *Service) GetByProviderRef(ctx context.Context, provider, providerSubscriptionID string) (*subscriptiondomain.Subscription, error) {
	provider = strings.TrimSpace(provider)
	providerSubscriptionID = strings.TrimSpace(providerSubscriptionID)
	if provider == "" || providerSubscriptionID == "" {
		return nil, subscriptiondomain.ErrInvalidID
	}
	return s.repo.FindByProviderRef(ctx, s.db, provider, providerSubscriptionID)
}

func (s *Service) ListActive(ctx context.Context) ([]subscriptiondomain.Subscription, error) {
	return s.repo.ListActive(ctx, s.db)
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, invalidErr
	}
	return id, nil
}

func parseCadence(value string) (subscriptiondomain.Cadence, error) {
	cadence := strings.ToLower(strings.TrimSpace(value))
	switch subscriptiondomain.Cadence(cadence) {
	case subscriptiondomain.CadenceDaily,
		subscriptiondomain.CadenceWeekly,
		subscriptiondomain.CadenceMonthly:
		return subscriptiondomain.Cadence(cadence), nil
	default:
		return "", subscriptiondomain.ErrInvalidCadence
	}
}

func defaultTotalCycles(cadence subscriptiondomain.Cadence) int {
	switch cadence {
	case subscriptiondomain.CadenceDaily:
		return 90
	case subscriptiondomain.CadenceWeekly:
		return 52
	default:
		return 12
	}
}
