package shipping

import (
	"github.com/boxkite/boxkite/internal/config"
	shippingdomain "github.com/boxkite/boxkite/internal/shipping/domain"
	"github.com/boxkite/boxkite/internal/shipping/shiprocket"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("shipping",
	fx.Provide(func(cfg config.Config, log *zap.Logger) shippingdomain.Gateway {
		return shiprocket.New(shiprocket.Config{
			BaseURL: cfg.ShiprocketBaseURL,
			Token:   cfg.ShiprocketToken,
		}, log)
	}),
)
