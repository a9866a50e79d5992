package credits

import (
	"go.uber.org/fx"

	"github.com/helixconsole/billing/internal/credits/service"
)

var Module = fx.Module("credits.service",
	fx.Provide(service.NewService),
)
