package metering

import (
	"github.com/smallbiznis/contextswitch/internal/metering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("metering",
	fx.Provide(service.NewGate),
)
