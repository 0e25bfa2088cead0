package activetenant

import (
	"github.com/tribes-rights-management/tribesportal/internal/activetenant/repository"
	"github.com/tribes-rights-management/tribesportal/internal/activetenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("activetenant",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
