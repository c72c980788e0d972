package usage

import (
	"github.com/didstack/backoffice/internal/usage/mirror"
	"github.com/didstack/backoffice/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage",
	fx.Provide(
		mirror.New,
		service.NewService,
	),
)
