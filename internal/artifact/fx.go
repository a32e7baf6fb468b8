package artifact

import (
	"github.com/smallbiznis/contextswitch/internal/artifact/blob"
	"github.com/smallbiznis/contextswitch/internal/artifact/repository"
	"github.com/smallbiznis/contextswitch/internal/artifact/service"
	"go.uber.org/fx"
)

var Module = fx.Module("artifact",
	fx.Provide(blob.NewFromConfig),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
