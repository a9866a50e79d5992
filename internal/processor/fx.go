package processor

import (
	"go.uber.org/fx"

	"github.com/helixconsole/billing/internal/processor/domain"
)

var Module = fx.Module("processor",
	fx.Provide(NewClient),
	fx.Provide(func(c *Client) domain.API { return c }),
)
