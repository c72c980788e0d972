package provisioning

import (
	"github.com/didstack/backoffice/internal/provisioning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("provisioning",
	fx.Provide(service.New),
)
