package escalation

import (
	"github.com/tribes-rights-management/tribesportal/internal/escalation/repository"
	"github.com/tribes-rights-management/tribesportal/internal/escalation/service"
	"go.uber.org/fx"
)

var Module = fx.Module("escalation",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
