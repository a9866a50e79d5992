package organization

import (
	"go.uber.org/fx"

	"github.com/helixconsole/billing/internal/organization/repository"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
)
