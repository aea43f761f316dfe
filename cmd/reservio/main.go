package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reservio/internal/migration"
	"github.com/smallbiznis/reservio/internal/server"
	"github.com/smallbiznis/reservio/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		fx.Provide(RegisterSnowflake),
		db.Module,
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
