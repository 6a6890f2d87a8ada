package subscription

import (
	"github.com/boxkite/boxkite/internal/subscription/repository"
	"github.com/boxkite/boxkite/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
