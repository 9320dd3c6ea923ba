//go:build wireinject
// +build wireinject

package di

import (
	"GammaScalp/pkg/config"
	"GammaScalp/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Telemetry
		ProvideRegistry,
		ProvideMetrics,
		ProvideKafkaProducer,
		ProvideLogger,

		// Infrastructure
		ProvideStore,
		ProvideSession,
		ProvideClickHouseClient,
		ProvideJournal,

		// Repositories and events
		ProvideTradeRepository,
		ProvideDailyRepository,
		ProvidePatternRepository,
		ProvideLevelsRepository,
		ProvideBiasRepository,
		ProvideEventLog,
		ProvideEventBus,
		ProvideEventPublisher,

		// Domain services
		ProvideSnapshots,
		ProvideZones,
		ProvidePatterns,
		ProvideSignals,
		ProvideRiskGate,
		ProvideBroker,
		ProvideTradeManager,
		ProvideLevelsBook,
		ProvideBiasEngine,

		// Use cases
		ProvideEngine,
		ProvideMonitor,
		ProvideJobs,
		ProvideFeed,
		ProvideStatus,

		// Delivery
		ProvideHandler,
		ProvideHTTPServer,
		ProvideApp,
	)
	return &server.App{}, nil
}
