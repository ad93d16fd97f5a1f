//go:build wireinject
// +build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"weexagent/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config) (*App, error) {
	wire.Build(
		provideAppBuilder,
		wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
		provideAppFromBuilder,
	)
	return nil, nil
}
