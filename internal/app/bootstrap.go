package app

import (
	"context"
	"log/slog"

	"liquibot/internal/domain"
	"liquibot/internal/engine"
	"liquibot/internal/infra"
	"liquibot/internal/infra/feed"
	"liquibot/internal/infra/oracle"
	"liquibot/internal/infra/registry"
	"liquibot/internal/infra/storage"
	"liquibot/internal/infra/submitter"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Notifier   *infra.Notifier
	Feed       *feed.Worker
	Controller *engine.Controller
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, logger, DB, wiring).
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping liquibot...")

	// 1. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage("")
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 4. Adapters
	b.Notifier = infra.NewNotifier(cfg.Notify.WebhookURL)
	b.Feed = feed.NewWorker(cfg.Feed.WSURL)
	oracleClient := oracle.NewClient(cfg.Oracle.URL, cfg.Oracle.TimeoutSec)
	registryClient := registry.NewClient(cfg.Registry.URL, cfg.Registry.APIKey)
	relayClient := submitter.NewClient(cfg.Relay.URL, cfg.Relay.APIKey)

	// 5. Trigger Controller
	b.Controller = engine.New(
		engine.Config{
			LiquidationThreshold: cfg.Risk.LiquidationThreshold,
			ProximityThreshold:   cfg.Risk.ProximityThreshold,
			PollInterval:         cfg.PollInterval(),
			SnapshotLimit:        cfg.Risk.SnapshotLimit,
			CallTimeout:          cfg.CallTimeout(),
			FullScan:             cfg.Risk.FullScan,
		},
		&priceSource{feed: b.Feed, oracle: oracleClient},
		&positionRegistry{feed: b.Feed, client: registryClient},
		relayClient,
		b.Notifier,
		store,
	)
	slog.Info("✅ Trigger controller wired")

	return nil
}

// priceSource glues the push feed and the pull oracle into domain.PriceSource.
type priceSource struct {
	feed   *feed.Worker
	oracle *oracle.Client
}

func (p *priceSource) SubscribePriceUpdated(onPrice func(domain.Price)) {
	p.feed.OnPriceUpdated(onPrice)
}

func (p *priceSource) FetchFallbackPrice(ctx context.Context) (domain.Price, error) {
	return p.oracle.FetchPrice(ctx)
}

// positionRegistry glues the feed's trove-set notifications and the indexer
// client into domain.PositionRegistry.
type positionRegistry struct {
	feed   *feed.Worker
	client *registry.Client
}

func (r *positionRegistry) SubscribePositionSetChanged(onChange func()) {
	r.feed.OnTroveSetChanged(onChange)
}

func (r *positionRegistry) FetchSnapshot(ctx context.Context, limit int) ([]domain.PositionID, error) {
	return r.client.FetchSnapshot(ctx, limit)
}

func (r *positionRegistry) CurrentRatio(ctx context.Context, id domain.PositionID, price domain.Price) (domain.Ratio, error) {
	return r.client.CurrentRatio(ctx, id, price)
}
