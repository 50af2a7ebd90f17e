package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	s3blob "github.com/alanyoungcy/matrixnet/internal/blob/s3"
	"github.com/alanyoungcy/matrixnet/internal/cache/redis"
	"github.com/alanyoungcy/matrixnet/internal/config"
	"github.com/alanyoungcy/matrixnet/internal/crypto"
	"github.com/alanyoungcy/matrixnet/internal/domain"
	"github.com/alanyoungcy/matrixnet/internal/metrics"
	"github.com/alanyoungcy/matrixnet/internal/notify"
	"github.com/alanyoungcy/matrixnet/internal/platform/wallet"
	"github.com/alanyoungcy/matrixnet/internal/server/handler"
	"github.com/alanyoungcy/matrixnet/internal/service"
	"github.com/alanyoungcy/matrixnet/internal/store/memory"
	"github.com/alanyoungcy/matrixnet/internal/store/postgres"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	BoardStore    domain.BoardStore
	MemberStore   domain.MemberStore
	InstanceStore domain.InstanceStore
	PositionStore domain.PositionStore
	LedgerStore   domain.LedgerStore
	AuditStore    domain.AuditStore

	// Coordination
	BoardCache  domain.BoardCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Cold storage; nil unless the mode archives.
	Archiver domain.Archiver

	// Settlement target; nil unless the mode settles.
	Wallet domain.Wallet

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	// Services
	Boards     *service.BoardService
	Commission *service.CommissionService
	Cycles     *service.CycleService
	Placement  *service.PlacementService
	Stats      *service.StatsService

	// HealthChecks are reported by /api/health, keyed by dependency name.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	deps.Registry = prometheus.NewRegistry()
	deps.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	deps.Metrics = metrics.New(deps.Registry)

	// --- Storage ---
	switch cfg.Storage.Driver {
	case "memory":
		logger.WarnContext(ctx, "wire: using in-process storage; state is lost on exit")
		st := memory.New()
		deps.BoardStore = st.Boards()
		deps.MemberStore = st.Members()
		deps.InstanceStore = st.Instances()
		deps.PositionStore = st.Positions()
		deps.LedgerStore = st.Ledger()
		deps.AuditStore = st.Audit()
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.BoardStore = postgres.NewBoardStore(pool)
		deps.MemberStore = postgres.NewMemberStore(pool)
		deps.InstanceStore = postgres.NewInstanceStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.LedgerStore = postgres.NewLedgerStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BoardCache = redis.NewBoardCache(redisClient, cfg.Matrix.BoardCacheTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "wire: redis disabled; locks and events are process-local")
		deps.RateLimiter = memory.NewRateLimiter()
		deps.LockManager = memory.NewLockManager()
		deps.SignalBus = memory.NewBus()
	}

	// --- S3 cold storage ---
	if cfg.NeedsArchive() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3Client, deps.LedgerStore, deps.InstanceStore, deps.PositionStore, deps.AuditStore)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Wallet ---
	if cfg.NeedsWallet() {
		secret, err := cfg.WalletSecret()
		if err != nil {
			return fail(fmt.Errorf("wire: %w", err))
		}
		deps.Wallet = wallet.New(wallet.Config{
			BaseURL:        cfg.Wallet.BaseURL,
			Timeout:        cfg.Wallet.Timeout.Duration,
			RequestsPerSec: cfg.Wallet.RequestsPerSec,
			Burst:          cfg.Wallet.Burst,
		}, &crypto.HMACAuth{Key: cfg.Wallet.APIKey, Secret: secret})
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL, "matrixnet"))
	}
	deps.Notifier = notify.NewNotifier(senders, notify.Options{
		Events:    cfg.Notify.Events,
		PerMinute: cfg.Notify.PerMinute,
	}, logger)

	wireServices(deps, cfg, logger)
	return deps, cleanup, nil
}

// wireServices builds the matrix services on top of the wired stores. The
// placement service binds itself as the cycle service's re-entry target.
func wireServices(deps *Dependencies, cfg *config.Config, logger *slog.Logger) {
	deps.Boards = service.NewBoardService(deps.BoardStore, deps.BoardCache, deps.SignalBus, deps.AuditStore, logger)
	deps.Commission = service.NewCommissionService(deps.MemberStore, deps.PositionStore, deps.LedgerStore, deps.SignalBus, deps.Metrics, logger)
	deps.Cycles = service.NewCycleService(
		deps.Boards, deps.InstanceStore, deps.PositionStore, deps.Commission,
		deps.SignalBus, deps.AuditStore, deps.Notifier, deps.Metrics, logger,
	)
	deps.Placement = service.NewPlacementService(
		deps.Boards, deps.MemberStore, deps.InstanceStore, deps.PositionStore,
		deps.LockManager, deps.Cycles, deps.Commission, deps.SignalBus, deps.AuditStore,
		deps.Metrics,
		service.PlacementConfig{
			MaxClaimRetries:   cfg.Matrix.MaxClaimRetries,
			AllocationLockTTL: cfg.Matrix.AllocationLockTTL.Duration,
			RetryBackoff:      cfg.Matrix.RetryBackoff.Duration,
		},
		logger,
	)
	deps.Stats = service.NewStatsService(deps.Boards, deps.InstanceStore, deps.PositionStore, deps.LedgerStore, logger)
}

// replayTimeout bounds the startup recovery sweep so a slow database does
// not hold the server back indefinitely.
const replayTimeout = 30 * time.Second
