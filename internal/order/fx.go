package order

import (
	"github.com/didstack/backoffice/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(service.NewLedger),
)
