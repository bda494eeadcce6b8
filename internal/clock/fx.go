package clock

import "go.uber.org/fx"

func provideSystem() Clock {
	return SystemClock{}
}

var Module = fx.Module("clock",
	fx.Provide(provideSystem),
)
