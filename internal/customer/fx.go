package customer

import (
	"github.com/boxkite/boxkite/internal/customer/repository"
	"github.com/boxkite/boxkite/internal/customer/service"
	"go.uber.org/fx"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
