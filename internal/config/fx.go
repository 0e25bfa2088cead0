package config

import "go.uber.org/fx"

// Module wires application configuration and the hot-reloadable policy file.
var Module = fx.Module("config",
	fx.Provide(Load),
	fx.Provide(NewPolicyHolder),
)
