package meter

import (
	"go.uber.org/fx"

	"github.com/helixconsole/billing/internal/meter/repository"
)

var Module = fx.Module("meter.service",
	fx.Provide(repository.NewRepository),
)
