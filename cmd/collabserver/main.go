// Package main provides the collaboration server binary: a websocket endpoint
// that joins clients to shared canvases, relays their strokes, and persists
// canvas snapshots.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Prasannaverse13/ArtChainCollective/internal/config"
	"github.com/Prasannaverse13/ArtChainCollective/internal/liveness"
	"github.com/Prasannaverse13/ArtChainCollective/internal/observability"
	"github.com/Prasannaverse13/ArtChainCollective/internal/ops"
	"github.com/Prasannaverse13/ArtChainCollective/internal/protocol"
	"github.com/Prasannaverse13/ArtChainCollective/internal/room"
	"github.com/Prasannaverse13/ArtChainCollective/internal/router"
	"github.com/Prasannaverse13/ArtChainCollective/internal/server"
	"github.com/Prasannaverse13/ArtChainCollective/internal/snapshot"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage/memory"
	"github.com/Prasannaverse13/ArtChainCollective/internal/storage/postgres"
	"github.com/Prasannaverse13/ArtChainCollective/internal/transport/websocket"
)

// backend bundles the storage roles the server needs.
type backend interface {
	router.SnapshotStore
	router.RosterProvider
	snapshot.Store
	websocket.Pinger
}

// pgBackend joins the postgres repositories into one backend.
type pgBackend struct {
	*postgres.ArtworkRepository
	roster *postgres.CollaboratorRepository
	pool   *postgres.Pool
}

func (b pgBackend) ListMembers(ctx context.Context, roomID int64) ([]protocol.Participant, error) {
	return b.roster.ListMembers(ctx, roomID)
}

func (b pgBackend) Ping(ctx context.Context) error { return b.pool.Ping(ctx) }

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before configuration")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("no env file loaded from %s: %v", *envFile, err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("instance", cfg.Server.Name))

	logger.Info("starting collaboration server",
		zap.String("ws_addr", cfg.WebSocket.Addr()),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx := context.Background()
	metrics := observability.NewMetrics()

	var store backend
	var closeStore func()
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		store = pgBackend{
			ArtworkRepository: postgres.NewArtworkRepository(pool.DB()),
			roster:            postgres.NewCollaboratorRepository(pool.DB()),
			pool:              pool,
		}
		metrics.RegisterPoolStats(pool.Stats)
		closeStore = pool.Close
	default:
		mem := memory.New()
		if cfg.Storage.SeedFile != "" {
			mem, err = memory.LoadSeed(cfg.Storage.SeedFile)
			if err != nil {
				logger.Fatal("loading seed", zap.String("path", cfg.Storage.SeedFile), zap.Error(err))
			}
			logger.Info("memory store seeded", zap.String("path", cfg.Storage.SeedFile))
		}
		store = mem
		closeStore = func() {}
	}

	throttler := snapshot.NewThrottler(cfg.Snapshot, store, logger, metrics)
	rooms := room.NewRegistry(room.WithEmptyRoomHook(throttler.Forget))
	metrics.RegisterRoomStats(rooms.Stats)
	monitor := liveness.NewMonitor(cfg.Liveness.Interval, logger, metrics)
	rtr := router.New(rooms, store, store, throttler, monitor, logger, metrics)

	wsServer, err := websocket.NewServer(cfg.WebSocket, rtr, rooms, store, metrics, logger)
	if err != nil {
		logger.Fatal("creating websocket server", zap.Error(err))
	}

	lifecycle := server.NewLifecycle(logger)

	lifecycle.Add("snapshots", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			throttler.Start(ctx)
			<-ctx.Done()
			return nil
		},
		StopFn: throttler.Stop,
	})

	lifecycle.Add("liveness", &server.FuncService{
		StartFn: func(ctx context.Context) error {
			<-monitor.Start(ctx)
			return nil
		},
	})

	lifecycle.Add("websocket", &server.FuncService{
		StartFn: func(context.Context) error {
			return wsServer.ListenAndServe()
		},
		StopFn: wsServer.Stop,
	})

	if cfg.Ops.Enabled {
		lifecycle.Add("ops", ops.NewServer(cfg.Ops.Addr(), cfg.Ops.ProbeInterval, store, logger))
	}

	logger.Info("collaboration server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Bool("ops_enabled", cfg.Ops.Enabled),
	)

	err = lifecycle.Run(ctx)
	closeStore()
	if err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
