package notification

import (
	"github.com/tribes-rights-management/tribesportal/internal/notification/repository"
	"github.com/tribes-rights-management/tribesportal/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
