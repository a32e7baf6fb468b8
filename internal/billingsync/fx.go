package billingsync

import (
	"github.com/smallbiznis/contextswitch/internal/billingevent/dedup"
	"go.uber.org/fx"
)

var Module = fx.Module("billingsync",
	fx.Provide(dedup.New),
	fx.Provide(NewService),
)
