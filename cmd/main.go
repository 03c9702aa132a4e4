/**
 * @description
 * This is the main entry point for the ledger-sync-service. It is responsible
 * for initializing all components of the service, including configuration,
 * database connection, the Plaid API client, the webhook verifier, the Redis
 * sync lock, the RabbitMQ producer, the catch-up scheduler, and the HTTP
 * server. It wires everything together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3: Catch-up sync scheduling.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/plaidclient: Client for the Plaid aggregator API.
 * - pkg/rabbitmq: Client for RabbitMQ.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/transfa/ledger-sync-service/internal/api"
	"github.com/transfa/ledger-sync-service/internal/app"
	"github.com/transfa/ledger-sync-service/internal/config"
	"github.com/transfa/ledger-sync-service/internal/store"
	"github.com/transfa/ledger-sync-service/pkg/plaidclient"
	lsrabbit "github.com/transfa/ledger-sync-service/pkg/rabbitmq"
)

func main() {
	// Load the optional .env file for local development before viper reads
	// the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}
	if cfg.IsProduction() && cfg.PlaidWebhookJWKSURL == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"webhook verification key must be configured in production\" env=PLAID_WEBHOOK_JWKS_URL")
	}

	log.Printf("level=info component=bootstrap msg=\"starting ledger-sync-service\" port=%s environment=%s", cfg.ServerPort, cfg.Environment)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer for notification events. The service
	// must keep reconciling even when the broker is down.
	var producer lsrabbit.Publisher
	rabbitProducer, err := lsrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &lsrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Redis-backed sync lock. Missing Redis degrades to
	// lock-free syncs, which stay correct by idempotence.
	var syncLock app.SyncLocker = app.NoopSyncLocker{}
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; sync lock disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; sync lock disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; sync lock disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				syncLock = app.NewRedisSyncLocker(redisClient, "ledgersync:sync_lock", time.Duration(cfg.SyncLockTTLSeconds)*time.Second)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
			cancelPing()
		}
	}

	// Initialize the Plaid API client and webhook verifier.
	plaidClient := plaidclient.NewClient(cfg.PlaidAPIBaseURL, cfg.PlaidClientID, cfg.PlaidSecret)
	verifier := api.NewJWKSVerifier(cfg.PlaidWebhookJWKSURL, cfg.IsProduction())

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	syncService := app.NewService(
		repository,
		plaidClient,
		producer,
		syncLock,
		cfg.LedgerEventExchange,
		cfg.SyncPageSize,
	)

	// Initialize the API handlers and routes.
	syncHandlers := api.NewSyncHandlers(syncService, verifier)
	router := chi.NewRouter()
	router.Mount("/", api.SyncRoutes(syncHandlers, cfg.InternalAPIKey))

	// Schedule the catch-up sweep so connections that missed webhooks still
	// converge within the staleness window.
	cronLogger := cron.PrintfLogger(log.Default())
	scheduler := cron.New(cron.WithChain(cron.Recover(cronLogger)))
	staleAfter := time.Duration(cfg.StaleSyncHours) * time.Hour
	if _, err := scheduler.AddFunc(cfg.CatchupSyncSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		syncService.CatchupStaleSyncs(sweepCtx, staleAfter)
	}); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"catch-up schedule invalid\" schedule=%q err=%v", cfg.CatchupSyncSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()
	log.Printf("level=info component=bootstrap msg=\"catch-up sweep scheduled\" schedule=%q stale_after=%s", cfg.CatchupSyncSchedule, staleAfter)

	// Start the HTTP server.
	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
