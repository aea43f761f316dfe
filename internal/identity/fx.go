package identity

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/reservio/internal/identity/oauth"
	"github.com/smallbiznis/reservio/internal/identity/repository"
	"github.com/smallbiznis/reservio/internal/identity/service"
)

var Module = fx.Module("identity",
	fx.Provide(repository.New),
	fx.Provide(service.New),
	fx.Provide(oauth.NewService),
	fx.Invoke(service.StartSessionSweep),
)
