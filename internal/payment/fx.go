package payment

import (
	"github.com/boxkite/boxkite/internal/config"
	"github.com/boxkite/boxkite/internal/payment/adapters"
	razorpayadapter "github.com/boxkite/boxkite/internal/payment/adapters/razorpay"
	stripeadapter "github.com/boxkite/boxkite/internal/payment/adapters/stripe"
	paymentdomain "github.com/boxkite/boxkite/internal/payment/domain"
	razorpaygateway "github.com/boxkite/boxkite/internal/payment/gateway/razorpay"
	"github.com/boxkite/boxkite/internal/payment/repository"
	"github.com/boxkite/boxkite/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(provideRegistry),
	fx.Provide(provideGateway),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)

func provideRegistry() *adapters.Registry {
	return adapters.NewRegistry(
		&razorpayadapter.Factory{},
		&stripeadapter.Factory{},
	)
}

func provideGateway(cfg config.Config, log *zap.Logger) paymentdomain.Gateway {
	return razorpaygateway.New(razorpaygateway.Config{
		KeyID:     cfg.RazorpayKeyID,
		KeySecret: cfg.RazorpayKeySecret,
	}, log)
}
