package invoiceview

import (
	"go.uber.org/fx"

	"github.com/helixconsole/billing/internal/invoiceview/service"
)

var Module = fx.Module("invoiceview.service",
	fx.Provide(service.NewService),
)
