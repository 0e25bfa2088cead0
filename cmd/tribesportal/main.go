package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/tribes-rights-management/tribesportal/internal/clock"
	"github.com/tribes-rights-management/tribesportal/internal/config"
	"github.com/tribes-rights-management/tribesportal/internal/logger"
	"github.com/tribes-rights-management/tribesportal/internal/migration"
	"github.com/tribes-rights-management/tribesportal/internal/scheduler"
	"github.com/tribes-rights-management/tribesportal/internal/server"
	"github.com/tribes-rights-management/tribesportal/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,

		server.Module,
		scheduler.Module,
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
