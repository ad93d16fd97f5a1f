package app

import (
	"context"
	"time"

	"weexagent/internal/config"
)

type appBuilderDeps interface {
	Build(context.Context) (*App, error)
}

func provideAppFromBuilder(b appBuilderDeps, ctx context.Context) (*App, error) {
	return b.Build(ctx)
}

func provideAppBuilder(cfg *config.Config) *AppBuilder {
	return NewAppBuilder(cfg)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
