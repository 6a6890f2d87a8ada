package worker

import (
	"context"
	"sync"

	fulfillmentdomain "github.com/boxkite/boxkite/internal/fulfillment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Dispatcher fulfillmentdomain.Dispatcher
	Config     Config `optional:"true"`
}

// Pool is a bounded in-process dispatch queue. Submit never blocks the
// caller: a full buffer surfaces ErrQueueFull, and the dropped cycle is
// recovered by the scheduled sweep instead.
type Pool struct {
	log        *zap.Logger
	dispatcher fulfillmentdomain.Dispatcher
	cfg        Config

	jobs   chan fulfillmentdomain.DispatchRequest
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

func NewPool(p Params) *Pool {
	cfg := p.Config.withDefaults()
	return &Pool{
		log:        p.Log.Named("fulfillment.worker"),
		dispatcher: p.Dispatcher,
		cfg:        cfg,
		jobs:       make(chan fulfillmentdomain.DispatchRequest, cfg.QueueSize),
	}
}

func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) Submit(ctx context.Context, req fulfillmentdomain.DispatchRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fulfillmentdomain.ErrQueueClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case p.jobs <- req:
		return nil
	default:
		return fulfillmentdomain.ErrQueueFull
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()

	for req := range p.jobs {
		jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
		result, err := p.dispatcher.Dispatch(jobCtx, req)
		cancel()

		if err != nil {
			p.log.Warn("background dispatch failed",
				zap.Error(err),
				zap.String("subscription_id", req.Subscription.ID.String()),
			)
			continue
		}
		if result.Err != nil {
			p.log.Warn("background dispatch resolved with failure",
				zap.Error(result.Err),
				zap.String("fulfillment_key", result.FulfillmentKey),
				zap.String("outcome", string(result.Outcome)),
			)
		}
	}
}

var _ fulfillmentdomain.Queue = (*Pool)(nil)
