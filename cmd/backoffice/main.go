package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/didstack/backoffice/internal/clock"
	"github.com/didstack/backoffice/internal/config"
	"github.com/didstack/backoffice/internal/migration"
	"github.com/didstack/backoffice/internal/observability"
	"github.com/didstack/backoffice/internal/order"
	"github.com/didstack/backoffice/internal/provisioning"
	"github.com/didstack/backoffice/internal/redislock"
	"github.com/didstack/backoffice/internal/scheduler"
	"github.com/didstack/backoffice/internal/server"
	"github.com/didstack/backoffice/internal/switchclient"
	"github.com/didstack/backoffice/internal/usage"
	"github.com/didstack/backoffice/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		redislock.Module,
		switchclient.Module,

		// Functional domains
		usage.Module,
		order.Module,
		provisioning.Module,
		scheduler.Module,

		migration.Module,
		server.Module,
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
