package tenant

import (
	"go.uber.org/fx"

	"github.com/smallbiznis/reservio/internal/tenant/repository"
	"github.com/smallbiznis/reservio/internal/tenant/service"
)

var Module = fx.Module("tenant",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
