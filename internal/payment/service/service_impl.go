package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/boxkite/boxkite/internal/clock"
	"github.com/boxkite/boxkite/internal/config"
	fulfillmentdomain "github.com/boxkite/boxkite/internal/fulfillment/domain"
	obsmetrics "github.com/boxkite/boxkite/internal/observability/metrics"
	"github.com/boxkite/boxkite/internal/payment/adapters"
	paymentdomain "github.com/boxkite/boxkite/internal/payment/domain"
	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Cfg        config.Config
	Adapters   *adapters.Registry
	Repo       paymentdomain.Repository
	SubRepo    subscriptiondomain.Repository
	Queue      fulfillmentdomain.Queue
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	adapters   *adapters.Registry
	repo       paymentdomain.Repository
	subRepo    subscriptiondomain.Repository
	queue      fulfillmentdomain.Queue
	obsMetrics *obsmetrics.Metrics

	// provider → credentials, resolved once at startup from the environment
	configs map[string]paymentdomain.AdapterConfig
}

func New(p Params) paymentdomain.Service {
	configs := make(map[string]paymentdomain.AdapterConfig)
	if p.Cfg.RazorpayWebhookSecret != "" {
		configs["razorpay"] = paymentdomain.AdapterConfig{
			Provider: "razorpay",
			Config:   map[string]any{"webhook_secret": p.Cfg.RazorpayWebhookSecret},
		}
	}
	if p.Cfg.StripeWebhookSecret != "" {
		configs["stripe"] = paymentdomain.AdapterConfig{
			Provider: "stripe",
			Config:   map[string]any{"webhook_secret": p.Cfg.StripeWebhookSecret},
		}
	}

	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		adapters:   p.Adapters,
		repo:       p.Repo,
		subRepo:    p.SubRepo,
		queue:      p.Queue,
		obsMetrics: p.ObsMetrics,
		configs:    configs,
	}
}

// IngestWebhook verifies, parses, and records one provider delivery. The
// charge event insert is the dedup point: a redelivered charge id resolves to
// OutcomeDuplicate without touching the fulfillment queue.
func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (paymentdomain.IngestOutcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", paymentdomain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return "", paymentdomain.ErrProviderNotFound
	}
	if !json.Valid(payload) {
		s.recordEvent(ctx, provider, "", "invalid_payload")
		return "", paymentdomain.ErrInvalidPayload
	}

	cfg, ok := s.configs[provider]
	if !ok {
		return "", paymentdomain.ErrProviderNotFound
	}
	adapter, err := s.adapters.NewAdapter(provider, cfg)
	if err != nil {
		return "", err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.recordEvent(ctx, provider, "", "invalid_signature")
		return "", err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		// Event types outside the charge flow are rejected, not acked:
		// the provider must not believe we consumed something we did not.
		if errors.Is(err, paymentdomain.ErrUnsupportedEvent) {
			s.recordEvent(ctx, provider, "", "unsupported")
			return "", err
		}
		s.recordEvent(ctx, provider, "", "invalid_event")
		return "", err
	}
	event.Provider = provider
	if event.RawPayload == nil {
		event.RawPayload = payload
	}

	subscription, err := s.subRepo.FindByProviderRef(ctx, s.db, provider, event.ProviderSubscriptionID)
	if err != nil {
		return "", err
	}
	if subscription == nil {
		s.log.Warn("charge event for unknown subscription",
			zap.String("provider", provider),
			zap.String("provider_subscription_id", event.ProviderSubscriptionID),
		)
		s.recordEvent(ctx, provider, event.Type, "unknown_subscription")
		return "", paymentdomain.ErrUnknownSubscription
	}

	record := paymentdomain.EventRecord{
		ID:                     s.genID.Generate(),
		Provider:               provider,
		ProviderEventID:        event.ProviderEventID,
		ProviderChargeID:       event.ProviderChargeID,
		ProviderSubscriptionID: event.ProviderSubscriptionID,
		EventType:              paymentdomain.EventTypeChargeSucceeded,
		SubscriptionID:         subscription.ID,
		Payload:                datatypes.JSON(event.RawPayload),
		ReceivedAt:             s.clock.Now().UTC(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		return "", err
	}
	if !inserted {
		s.recordEvent(ctx, provider, event.Type, "duplicate")
		return paymentdomain.OutcomeDuplicate, nil
	}

	eventID := record.ID
	if err := s.queue.Submit(ctx, fulfillmentdomain.DispatchRequest{
		Subscription:  *subscription,
		ChargeEventID: &eventID,
		OccurredAt:    event.OccurredAt,
	}); err != nil {
		// The event row is already durable; the sweep dispatches the
		// cycle when the queue cannot take it now.
		s.log.Warn("dispatch queue rejected charge event",
			zap.Error(err),
			zap.String("provider_charge_id", event.ProviderChargeID),
		)
	} else if err := s.repo.MarkProcessed(ctx, s.db, record.ID, s.clock.Now().UTC()); err != nil {
		s.log.Warn("failed to mark charge event processed", zap.Error(err))
	}

	s.log.Info("charge event accepted",
		zap.String("provider", provider),
		zap.String("provider_charge_id", event.ProviderChargeID),
		zap.String("subscription_id", subscription.ID.String()),
	)
	s.recordEvent(ctx, provider, event.Type, "accepted")
	return paymentdomain.OutcomeAccepted, nil
}

func (s *Service) recordEvent(ctx context.Context, provider, eventType, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordWebhookEvent(ctx, provider, eventType, outcome)
}
