package invite

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/reservio/internal/invite/repository"
	"github.com/smallbiznis/reservio/internal/invite/service"
)

var Module = fx.Module("invite",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
