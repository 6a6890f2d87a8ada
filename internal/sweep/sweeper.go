package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boxkite/boxkite/internal/billingcycle"
	"github.com/boxkite/boxkite/internal/clock"
	fulfillmentdomain "github.com/boxkite/boxkite/internal/fulfillment/domain"
	obsmetrics "github.com/boxkite/boxkite/internal/observability/metrics"
	subscriptiondomain "github.com/boxkite/boxkite/internal/subscription/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Dispatcher fulfillmentdomain.Dispatcher
	SubRepo    subscriptiondomain.Repository
	Repo       fulfillmentdomain.Repository
	Config     Config `optional:"true"`
}

// Sweeper reconciles the fulfillment ledger against active subscriptions. It
// only reads and dispatches; the ledger's key claim makes concurrent webhook
// dispatch safe.
type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	dispatcher fulfillmentdomain.Dispatcher
	subRepo    subscriptiondomain.Repository
	repo       fulfillmentdomain.Repository
}

func New(p Params) *Sweeper {
	cfg := p.Config.withDefaults()
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("sweep"),
		cfg:        cfg,
		genID:      p.GenID,
		clock:      p.Clock,
		dispatcher: p.Dispatcher,
		subRepo:    p.SubRepo,
		repo:       p.Repo,
	}
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	sweepMetrics := obsmetrics.Sweep()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			sweepMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sweep run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) RunOnce(parent context.Context) error {
	var err error
	err = errors.Join(err, s.runJob(parent, "fulfillment_sweep", s.FulfillmentSweepJob))
	err = errors.Join(err, s.runJob(parent, "retry_failed", s.RetryFailedJob))
	return err
}

func (s *Sweeper) runJob(parent context.Context, name string, fn func(ctx context.Context, run *jobRun) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	run := s.newJobRun(name)
	s.logJobStart(run)

	sweepMetrics := obsmetrics.Sweep()
	sweepMetrics.IncJobRun(name)

	err := fn(ctx, run)
	sweepMetrics.ObserveJobDuration(name, time.Since(start))
	sweepMetrics.AddItemsSwept(name, run.processedCount)
	sweepMetrics.AddOrdersCreated(name, run.createdCount)
	if err != nil && run.errorCount == 0 {
		run.IncError()
	}
	s.logJobFinish(run)
	if err == nil {
		return nil
	}

	// Deadline overruns are soft: the next run resumes the scan.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		sweepMetrics.IncJobTimeout(name)
		s.log.Warn("sweep job timed out",
			zap.String("job", name),
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}

	sweepMetrics.IncJobError(name, err)
	return fmt.Errorf("%s: %w", name, err)
}

// FulfillmentSweepJob dispatches the current cycle for every active
// subscription. Cycles the webhook path already fulfilled resolve to
// AlreadyFulfilled without a gateway call.
func (s *Sweeper) FulfillmentSweepJob(ctx context.Context, run *jobRun) error {
	subscriptions, err := s.subRepo.ListActive(ctx, s.db)
	if err != nil {
		return err
	}

	var jobErr error
	for _, subscription := range subscriptions {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}

		result, err := s.dispatcher.Dispatch(ctx, fulfillmentdomain.DispatchRequest{
			Subscription: subscription,
		})
		if err != nil {
			if errors.Is(err, fulfillmentdomain.ErrSubscriptionInactive) {
				continue
			}
			run.IncError()
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("sweep dispatch failed",
				zap.Error(err),
				zap.String("subscription_id", subscription.ID.String()),
			)
			continue
		}

		run.AddProcessed(1)
		if result.Outcome == fulfillmentdomain.OutcomeCreated {
			run.AddCreated(1)
			s.log.Info("sweep created missing fulfillment",
				zap.String("fulfillment_key", result.FulfillmentKey),
				zap.String("subscription_id", subscription.ID.String()),
			)
		}
	}

	return jobErr
}

// RetryFailedJob re-drives FAILED retryable ledger rows through the
// dispatcher, re-deriving the original cycle from the stored marker. PENDING
// claims older than PendingTimeout are demoted first: a worker that died
// between claim and resolution must not hold its cycle forever.
func (s *Sweeper) RetryFailedJob(ctx context.Context, run *jobRun) error {
	expired, err := s.repo.ExpireStalePending(ctx, s.db, s.clock.Now().Add(-s.cfg.PendingTimeout))
	if err != nil {
		return err
	}
	if expired > 0 {
		s.log.Warn("expired stale pending fulfillments", zap.Int64("count", expired))
	}

	orders, err := s.repo.ListRetryable(ctx, s.db, s.cfg.RetryBatchSize)
	if err != nil {
		return err
	}

	var jobErr error
	for _, order := range orders {
		if ctx.Err() != nil {
			jobErr = errors.Join(jobErr, ctx.Err())
			break
		}

		subscription, err := s.subRepo.FindByID(ctx, s.db, order.SubscriptionID)
		if err != nil {
			run.IncError()
			jobErr = errors.Join(jobErr, err)
			continue
		}
		if subscription == nil || !subscription.IsActive() {
			continue
		}

		occurredAt, err := billingcycle.MarkerTime(subscription.Cadence, order.CycleMarker)
		if err != nil {
			run.IncError()
			jobErr = errors.Join(jobErr, err)
			continue
		}

		result, err := s.dispatcher.Dispatch(ctx, fulfillmentdomain.DispatchRequest{
			Subscription:  *subscription,
			ChargeEventID: order.ChargeEventID,
			OccurredAt:    occurredAt,
		})
		if err != nil {
			run.IncError()
			jobErr = errors.Join(jobErr, err)
			s.log.Warn("retry dispatch failed",
				zap.Error(err),
				zap.String("fulfillment_key", order.FulfillmentKey),
			)
			continue
		}

		run.AddProcessed(1)
		if result.Outcome == fulfillmentdomain.OutcomeCreated {
			run.AddCreated(1)
		}
	}

	return jobErr
}
