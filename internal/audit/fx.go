package audit

import (
	"go.uber.org/fx"

	"github.com/helixconsole/billing/internal/audit/repository"
	"github.com/helixconsole/billing/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
