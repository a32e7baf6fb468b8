package compression

import (
	"github.com/smallbiznis/contextswitch/internal/compression/client"
	"github.com/smallbiznis/contextswitch/internal/compression/service"
	"go.uber.org/fx"
)

var Module = fx.Module("compression",
	fx.Provide(client.NewFromConfig),
	fx.Provide(service.NewService),
)
