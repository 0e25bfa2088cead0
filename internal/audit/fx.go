package audit

import (
	"github.com/tribes-rights-management/tribesportal/internal/audit/repository"
	"github.com/tribes-rights-management/tribesportal/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
