// Command tonearm runs the music library server core: the event store,
// projection pipeline, command service, and acquisition orchestration,
// with an embedded NATS server for event distribution.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/tonearm/tonearm/pkg/config"
	"github.com/tonearm/tonearm/pkg/download"
	"github.com/tonearm/tonearm/pkg/eventsourcing"
	"github.com/tonearm/tonearm/pkg/importer"
	"github.com/tonearm/tonearm/pkg/library"
	"github.com/tonearm/tonearm/pkg/messaging"
	"github.com/tonearm/tonearm/pkg/metadata"
	tonearmnats "github.com/tonearm/tonearm/pkg/nats"
	"github.com/tonearm/tonearm/pkg/observability"
	"github.com/tonearm/tonearm/pkg/projections"
	"github.com/tonearm/tonearm/pkg/providers"
	"github.com/tonearm/tonearm/pkg/runner"
	"github.com/tonearm/tonearm/pkg/sqlite"
	"github.com/tonearm/tonearm/pkg/status"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "tonearm:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)
	ctx := context.Background()

	// Storage. The event log, checkpoints, and projections share one
	// database so a projection batch and its checkpoint commit together.
	store, err := sqlite.NewEventStore(
		sqlite.WithDSN(cfg.Database.Path),
		sqlite.WithWALMode(cfg.Database.WALMode),
		sqlite.WithAutoMigrate(true),
	)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()

	db := store.DB()
	checkpoints, err := sqlite.NewCheckpointStore(db, sqlite.WithCheckpointAutoMigrate(true))
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	if err := projections.RunMigrations(db); err != nil {
		return fmt.Errorf("migrate projections: %w", err)
	}

	// Metrics.
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "tonearm"),
		)),
	)
	defer meterProvider.Shutdown(ctx)
	otel.SetMeterProvider(meterProvider)
	metrics, err := observability.NewMetrics(meterProvider.Meter("tonearm"))
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	pipeline := eventsourcing.NewPipeline(db, store, checkpoints,
		eventsourcing.WithPipelineLogger(logger),
		eventsourcing.WithPipelineMetrics(metrics))
	pipeline.Register(projections.NewLikedSongs())
	pipeline.Register(projections.NewServerLibrary())
	pipeline.Register(projections.NewPlaylists(logger))
	pipeline.Register(projections.NewPlayCounts())
	pipeline.Register(projections.NewUsers())

	// Replay anything the projections missed before serving commands.
	if err := pipeline.CatchUp(ctx); err != nil {
		return fmt.Errorf("replay projections: %w", err)
	}

	readers := library.Readers{
		Liked:     projections.NewLikedSongsReader(db),
		Library:   projections.NewServerLibraryReader(db),
		Playlists: projections.NewPlaylistsReader(db),
		Users:     projections.NewUsersReader(db),
	}

	// Event bus.
	var bus messaging.EventBus
	natsCfg := tonearmnats.DefaultConfig()
	natsCfg.StreamName = cfg.NATS.Stream
	if cfg.NATS.Embedded {
		srv, err := tonearmnats.StartEmbeddedServer(
			tonearmnats.WithStoreDir(cfg.NATS.StoreDir))
		if err != nil {
			return fmt.Errorf("start embedded NATS: %w", err)
		}
		defer srv.Shutdown()
		natsCfg.URL = srv.URL()
		logger.Info("embedded NATS server started", slog.String("url", srv.URL()))
	} else {
		natsCfg.URL = cfg.NATS.URL
	}
	bus, err = tonearmnats.NewEventBus(natsCfg)
	if err != nil {
		return fmt.Errorf("connect event bus: %w", err)
	}
	defer bus.Close()

	meta := metadata.NewMusicBrainzClient(cfg.Metadata.BaseURL,
		metadata.WithUserAgent(cfg.Metadata.UserAgent))

	broadcast := status.NewBroadcaster()
	queue := download.NewQueue()
	slots := download.NewSlotManager(cfg.Downloads.Slots)

	// The importer is wired into the command service through the
	// artist-added hook; declared first so the closure can capture it.
	var imp *importer.Importer

	service := library.NewCommandService(store, pipeline, readers, meta,
		library.WithEventBus(bus),
		library.WithCanceller(queue),
		library.WithServiceLogger(logger),
		library.WithServiceMetrics(metrics),
		library.WithLookupTimeout(cfg.Metadata.LookupTimeout),
		library.WithArtistAddedHook(func(artistID, name string) {
			go func() {
				if err := imp.ImportArtist(context.Background(), "", artistID); err != nil {
					logger.Warn("artist import failed",
						slog.String("artist_id", artistID),
						slog.String("error", err.Error()),
					)
				}
			}()
		}),
	)

	imp = importer.New(meta, service, broadcast,
		importer.WithParallelism(cfg.Import.Parallelism),
		importer.WithLogger(logger),
	)

	orchestrator := download.NewOrchestrator(
		queue, slots, meta, service, readers.Library, broadcast,
		buildProviders(cfg.Providers, logger),
		download.WithWorkDir(cfg.Downloads.WorkDir),
		download.WithFinalizer(download.NewLayoutFinalizer(cfg.Downloads.LibraryDir)),
		download.WithOrchestratorLogger(logger),
		download.WithMetrics(metrics),
		download.WithMetadataTimeout(cfg.Metadata.LookupTimeout),
		download.WithTransferAttempts(cfg.Downloads.TransferAttempts),
		download.WithQualityDefaults(cfg.Downloads.Format, cfg.Downloads.MinBitrateKbps),
	)

	services := []runner.Service{
		runner.NewBackground("acquisition-orchestrator", orchestrator.Run),
	}
	return runner.New(services,
		runner.WithLogger(runner.NewSlogLogger(logger)),
	).Run(ctx)
}

func newLogger(cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// buildProviders wires every backend with a configured URL, in a fixed
// order that doubles as the ranking tiebreak order.
func buildProviders(cfg config.Providers, logger *slog.Logger) []download.Provider {
	var list []download.Provider

	if cfg.Slskd.URL != "" {
		list = append(list, providers.NewSlskdClient(cfg.Slskd.URL, cfg.Slskd.APIKey))
	}

	var sab *providers.SABnzbdClient
	if cfg.SABnzbd.URL != "" {
		sab = providers.NewSABnzbdClient(
			cfg.SABnzbd.URL, cfg.SABnzbd.APIKey,
			cfg.SABnzbd.IndexerURL, cfg.SABnzbd.IndexerKey)
		list = append(list, sab)
	}

	var qbt *providers.QBittorrentClient
	if cfg.QBittorrent.URL != "" {
		qbt = providers.NewQBittorrentClient(
			cfg.QBittorrent.URL, cfg.QBittorrent.Username, cfg.QBittorrent.Password)
		list = append(list, qbt)
	}

	if cfg.Prowlarr.URL != "" {
		opts := []providers.ProwlarrOption{}
		if sab != nil {
			opts = append(opts, providers.WithDelegate("usenet", sab))
		}
		if qbt != nil {
			opts = append(opts, providers.WithDelegate("torrent", qbt))
		}
		if len(opts) == 0 {
			logger.Warn("prowlarr configured without a usenet or torrent download client; skipping")
		} else {
			list = append(list, providers.NewProwlarrClient(cfg.Prowlarr.URL, cfg.Prowlarr.APIKey, opts...))
		}
	}

	if len(list) == 0 {
		logger.Warn("no acquisition providers configured; downloads will find no candidates")
	}
	return list
}
