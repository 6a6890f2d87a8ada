package service

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/boxkite/boxkite/internal/billingcycle"
	"github.com/boxkite/boxkite/internal/clock"
	"github.com/boxkite/boxkite/internal/config"
	customerdomain "github.com/boxkite/boxkite/internal/customer/domain"
	fulfillmentdomain "github.com/boxkite/boxkite/internal/fulfillment/domain"
	obsmetrics "github.com/boxkite/boxkite/internal/observability/metrics"
	shippingdomain "github.com/boxkite/boxkite/internal/shipping/domain"
	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         fulfillmentdomain.Repository
	SubRepo      subscriptiondomain.Repository
	CustomerRepo customerdomain.Repository
	Shipping     shippingdomain.Gateway
	ConfigHolder *config.FulfillmentConfigHolder
	ObsMetrics   *obsmetrics.Metrics `optional:"true"`
}

type Dispatcher struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	repo         fulfillmentdomain.Repository
	subRepo      subscriptiondomain.Repository
	customerRepo customerdomain.Repository
	shipping     shippingdomain.Gateway
	configHolder *config.FulfillmentConfigHolder
	obsMetrics   *obsmetrics.Metrics
}

func NewDispatcher(p Params) fulfillmentdomain.Dispatcher {
	return &Dispatcher{
		db:           p.DB,
		log:          p.Log.Named("fulfillment.dispatcher"),
		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		subRepo:      p.SubRepo,
		customerRepo: p.CustomerRepo,
		shipping:     p.Shipping,
		configHolder: p.ConfigHolder,
		obsMetrics:   p.ObsMetrics,
	}
}

// Dispatch resolves one subscription cycle to a ledger state. The unique
// fulfillment key insert is the claim: whichever caller wins the insert owns
// the shipment call, every other caller observes the existing row.
func (d *Dispatcher) Dispatch(ctx context.Context, req fulfillmentdomain.DispatchRequest) (fulfillmentdomain.DispatchResult, error) {
	sub := req.Subscription
	if sub.ID == 0 {
		return fulfillmentdomain.DispatchResult{}, fulfillmentdomain.ErrInvalidSubscription
	}
	if !sub.IsActive() {
		return fulfillmentdomain.DispatchResult{}, fulfillmentdomain.ErrSubscriptionInactive
	}

	occurredAt := req.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = d.clock.Now()
	}
	marker, err := billingcycle.Marker(sub.Cadence, occurredAt)
	if err != nil {
		return fulfillmentdomain.DispatchResult{}, err
	}
	key := billingcycle.FulfillmentKey(sub.ID.String(), marker)
	log := d.log.With(zap.String("fulfillment_key", key), zap.String("subscription_id", sub.ID.String()))

	items, err := d.subRepo.FindItems(ctx, d.db, sub.ID)
	if err != nil {
		return fulfillmentdomain.DispatchResult{}, err
	}
	if len(items) == 0 {
		return fulfillmentdomain.DispatchResult{}, fulfillmentdomain.ErrNoItems
	}

	snapshot := make([]fulfillmentdomain.OrderItemSnapshot, 0, len(items))
	var subTotal int64
	for _, item := range items {
		snapshot = append(snapshot, fulfillmentdomain.OrderItemSnapshot{
			Name:      item.Name,
			SKU:       item.SKU,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
		subTotal += item.UnitPrice * int64(item.Quantity)
	}
	encodedSnapshot, err := json.Marshal(snapshot)
	if err != nil {
		return fulfillmentdomain.DispatchResult{}, err
	}

	now := d.clock.Now()
	order := fulfillmentdomain.FulfillmentOrder{
		ID:             d.genID.Generate(),
		FulfillmentKey: key,
		SubscriptionID: sub.ID,
		ChargeEventID:  req.ChargeEventID,
		CycleMarker:    marker,
		Status:         fulfillmentdomain.OrderStatusPending,
		ItemsSnapshot:  datatypes.JSON(encodedSnapshot),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	claimed, err := d.repo.InsertPending(ctx, d.db, &order)
	if err != nil {
		return fulfillmentdomain.DispatchResult{}, err
	}
	if !claimed {
		existing, err := d.repo.FindByKey(ctx, d.db, key)
		if err != nil {
			return fulfillmentdomain.DispatchResult{}, err
		}
		if existing == nil {
			return fulfillmentdomain.DispatchResult{}, fulfillmentdomain.ErrInvalidSubscription
		}

		switch existing.Status {
		case fulfillmentdomain.OrderStatusCreated, fulfillmentdomain.OrderStatusPending:
			d.recordOutcome(ctx, fulfillmentdomain.OutcomeAlreadyFulfilled)
			return fulfillmentdomain.DispatchResult{
				Outcome:        fulfillmentdomain.OutcomeAlreadyFulfilled,
				FulfillmentKey: key,
				Order:          existing,
			}, nil
		case fulfillmentdomain.OrderStatusFailed:
			if !existing.Retryable {
				d.recordOutcome(ctx, fulfillmentdomain.OutcomeFailed)
				return fulfillmentdomain.DispatchResult{
					Outcome:        fulfillmentdomain.OutcomeFailed,
					FulfillmentKey: key,
					Order:          existing,
					Err:            fulfillmentdomain.ErrPermanentlyFailed,
				}, nil
			}
			reclaimed, err := d.repo.ReclaimFailed(ctx, d.db, key, req.ChargeEventID)
			if err != nil {
				return fulfillmentdomain.DispatchResult{}, err
			}
			if !reclaimed {
				d.recordOutcome(ctx, fulfillmentdomain.OutcomeAlreadyFulfilled)
				return fulfillmentdomain.DispatchResult{
					Outcome:        fulfillmentdomain.OutcomeAlreadyFulfilled,
					FulfillmentKey: key,
					Order:          existing,
				}, nil
			}
			order = *existing
			order.Status = fulfillmentdomain.OrderStatusPending
			log.Info("reclaimed failed fulfillment for retry", zap.Int("attempt_count", order.AttemptCount))
		}
	}

	customer, err := d.customerRepo.FindByID(ctx, d.db, sub.CustomerID)
	if err != nil {
		return fulfillmentdomain.DispatchResult{}, err
	}
	if customer == nil {
		failErr := d.repo.MarkFailed(ctx, d.db, order.ID, false, "customer not found")
		if failErr != nil {
			return fulfillmentdomain.DispatchResult{}, failErr
		}
		d.recordOutcome(ctx, fulfillmentdomain.OutcomeFailed)
		return fulfillmentdomain.DispatchResult{
			Outcome:        fulfillmentdomain.OutcomeFailed,
			FulfillmentKey: key,
			Order:          &order,
			Err:            customerdomain.ErrNotFound,
		}, nil
	}

	cfg := d.configHolder.Get()
	shipReq := shippingdomain.ShipmentRequest{
		OrderRef:       key,
		OrderDate:      occurredAt,
		PickupLocation: cfg.PickupLocation,
		BillingName:    customer.Name,
		BillingEmail:   customer.Email,
		BillingPhone:   customer.Phone,
		BillingAddress: customer.AddressLine,
		BillingCity:    customer.City,
		BillingState:   customer.State,
		BillingPincode: customer.Pincode,
		BillingCountry: customer.Country,
		SubTotal:       subTotal,
	}
	for _, item := range snapshot {
		shipReq.Items = append(shipReq.Items, shippingdomain.ShipmentItem{
			Name:         item.Name,
			SKU:          item.SKU,
			Units:        item.Quantity,
			SellingPrice: item.UnitPrice,
		})
	}

	return d.createShipment(ctx, log, cfg, &order, shipReq)
}

func (d *Dispatcher) createShipment(
	ctx context.Context,
	log *zap.Logger,
	cfg config.FulfillmentConfig,
	order *fulfillmentdomain.FulfillmentOrder,
	shipReq shippingdomain.ShipmentRequest,
) (fulfillmentdomain.DispatchResult, error) {

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := d.repo.IncrementAttempt(ctx, d.db, order.ID); err != nil {
			return fulfillmentdomain.DispatchResult{}, err
		}
		order.AttemptCount++

		shipment, err := d.shipping.CreateOrder(ctx, shipReq)
		if err == nil {
			confirmed, markErr := d.repo.MarkCreated(ctx, d.db, order.ID, shipment.ProviderOrderID, shipment.ShipmentID)
			if markErr != nil {
				return fulfillmentdomain.DispatchResult{}, markErr
			}
			if !confirmed {
				log.Warn("shipment created but ledger row left pending state concurrently")
			}
			order.Status = fulfillmentdomain.OrderStatusCreated
			order.ProviderOrderID = shipment.ProviderOrderID
			order.ShipmentID = shipment.ShipmentID
			log.Info("fulfillment order created",
				zap.String("provider_order_id", shipment.ProviderOrderID),
				zap.Int("attempt", attempt),
			)
			d.recordOutcome(ctx, fulfillmentdomain.OutcomeCreated)
			d.recordShippingCall(ctx, "success")
			return fulfillmentdomain.DispatchResult{
				Outcome:        fulfillmentdomain.OutcomeCreated,
				FulfillmentKey: order.FulfillmentKey,
				Order:          order,
			}, nil
		}

		lastErr = err
		d.recordShippingCall(ctx, "error")
		if !shippingdomain.IsTransient(err) {
			log.Warn("shipment call failed permanently", zap.Error(err), zap.Int("attempt", attempt))
			break
		}
		log.Warn("shipment call failed, will retry", zap.Error(err), zap.Int("attempt", attempt))

		if attempt < maxAttempts {
			if err := d.clock.Sleep(ctx, backoffDelay(attempt, cfg.BackoffBase, cfg.BackoffMax)); err != nil {
				lastErr = err
				break
			}
		}
	}

	retryable := shippingdomain.IsTransient(lastErr)
	message := ""
	if lastErr != nil {
		message = lastErr.Error()
		if len(message) > 512 {
			message = message[:512]
		}
	}
	if err := d.repo.MarkFailed(ctx, d.db, order.ID, retryable, message); err != nil {
		return fulfillmentdomain.DispatchResult{}, err
	}
	order.Status = fulfillmentdomain.OrderStatusFailed
	order.Retryable = retryable
	order.LastError = message

	d.recordOutcome(ctx, fulfillmentdomain.OutcomeFailed)
	return fulfillmentdomain.DispatchResult{
		Outcome:        fulfillmentdomain.OutcomeFailed,
		FulfillmentKey: order.FulfillmentKey,
		Order:          order,
		Err:            lastErr,
	}, nil
}

func (d *Dispatcher) ListOrders(ctx context.Context, subscriptionID string) ([]fulfillmentdomain.FulfillmentOrder, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(subscriptionID))
	if err != nil || id == 0 {
		return nil, fulfillmentdomain.ErrInvalidSubscription
	}
	return d.repo.ListBySubscription(ctx, d.db, id)
}

func (d *Dispatcher) recordOutcome(ctx context.Context, outcome fulfillmentdomain.DispatchOutcome) {
	if d.obsMetrics == nil {
		return
	}
	d.obsMetrics.RecordFulfillmentDispatch(ctx, string(outcome))
}

func (d *Dispatcher) recordShippingCall(ctx context.Context, outcome string) {
	if d.obsMetrics == nil {
		return
	}
	d.obsMetrics.RecordShippingCall(ctx, outcome)
}
