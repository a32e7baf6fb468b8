package entitlement

import (
	"github.com/smallbiznis/contextswitch/internal/entitlement/repository"
	"github.com/smallbiznis/contextswitch/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
