//go:build wireinject
// +build wireinject

package di

import (
	"CandleSync/pkg/config"
	"CandleSync/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideCandleStore,
		ProvideCache,
		ProvidePublisher,
		ProvideSource,

		// Use cases
		ProvideIndicators,
		ProvideSyncScheduler,
		ProvideIndicatorScheduler,
		ProvideTickCollector,

		// HTTP and application server
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
