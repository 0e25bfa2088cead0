package identity

import (
	"github.com/tribes-rights-management/tribesportal/internal/identity/repository"
	"github.com/tribes-rights-management/tribesportal/internal/identity/service"
	"go.uber.org/fx"
)

var Module = fx.Module("identity.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
