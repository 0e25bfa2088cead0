package tenant

import (
	"github.com/tribes-rights-management/tribesportal/internal/tenant/repository"
	"github.com/tribes-rights-management/tribesportal/internal/tenant/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tenant",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
