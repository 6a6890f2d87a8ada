package fulfillment

import (
	"context"

	fulfillmentdomain "github.com/boxkite/boxkite/internal/fulfillment/domain"
	"github.com/boxkite/boxkite/internal/fulfillment/repository"
	"github.com/boxkite/boxkite/internal/fulfillment/service"
	"github.com/boxkite/boxkite/internal/fulfillment/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("fulfillment.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewDispatcher),
	fx.Provide(worker.DefaultConfig),
	fx.Provide(worker.NewPool),
	fx.Provide(func(p *worker.Pool) fulfillmentdomain.Queue { return p }),
	fx.Invoke(runPool),
)

func runPool(lc fx.Lifecycle, pool *worker.Pool) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			pool.Stop()
			return nil
		},
	})
}
