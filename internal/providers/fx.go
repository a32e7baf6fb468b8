package providers

import (
	"github.com/smallbiznis/contextswitch/internal/providers/email"
	"github.com/smallbiznis/contextswitch/internal/providers/slack"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	slack.Module,
)
