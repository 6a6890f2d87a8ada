package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/boxkite/boxkite/internal/clock"
	"github.com/boxkite/boxkite/internal/config"
	"github.com/boxkite/boxkite/internal/customer"
	"github.com/boxkite/boxkite/internal/fulfillment"
	"github.com/boxkite/boxkite/internal/migration"
	"github.com/boxkite/boxkite/internal/observability"
	"github.com/boxkite/boxkite/internal/payment"
	"github.com/boxkite/boxkite/internal/shipping"
	"github.com/boxkite/boxkite/internal/subscription"
	"github.com/boxkite/boxkite/internal/sweep"
	"github.com/boxkite/boxkite/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		fx.Provide(clock.NewSystemClock),
		db.Module,
		migration.Module,

		customer.Module,
		subscription.Module,
		payment.Module,
		shipping.Module,
		fulfillment.Module,

		// No server module.
		sweep.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
