//go:build wireinject
// +build wireinject

package di

import (
	"TickRelay/pkg/config"
	"TickRelay/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// infrastructure
		ProvideMarketStream,
		ProvideHistorySink,
		ProvideCache,
		ProvideCandleSource,
		ProvideForecastClient,

		// pipeline
		ProvideAggregator,
		ProvideDetector,
		ProvideHub,
		ProvideRelay,
		ProvideCandlesUseCase,

		// surface
		ProvideHandler,
		ProvideApp,
	)
	return nil, nil
}
