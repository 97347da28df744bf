/**
 * @description
 * This is the main entry point for the voucher-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection and migrations, external API clients, message brokers, repositories,
 * the core application service, and the HTTP server. It wires everything together
 * and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/golang-migrate/migrate/v4: Schema migrations run at boot.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/paystack, pkg/mailer, pkg/smsclient, pkg/rabbitmq: Clients for external services.
 */

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/alltekse/voucher-service/internal/api"
	"github.com/alltekse/voucher-service/internal/app"
	"github.com/alltekse/voucher-service/internal/config"
	"github.com/alltekse/voucher-service/internal/store"
	"github.com/alltekse/voucher-service/pkg/mailer"
	"github.com/alltekse/voucher-service/pkg/paystack"
	rmrabbit "github.com/alltekse/voucher-service/pkg/rabbitmq"
	"github.com/alltekse/voucher-service/pkg/smsclient"
)

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.PaystackSecretKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"paystack secret key must be configured\" env=PAYSTACK_SECRET_KEY")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Printf("level=warn component=bootstrap msg=\"internal api key not configured; admin endpoints disabled\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting voucher-service\" port=%s", cfg.ServerPort)

	// Run schema migrations before opening the pool.
	if err := runMigrations(cfg.DatabaseURL); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"migrations failed\" err=%v", err)
	}

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

	// Initialize the RabbitMQ producer used for voucher delivery events. A
	// broker outage degrades delivery to the retrieval endpoint, it does not
	// block sales.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the Paystack API client.
	paystackClient := paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey)

	// Redis backs the purchase rate limiter; missing Redis disables limiting.
	var rateLimiter *app.RedisPurchaseRateLimiter
	if cfg.PurchaseRateLimitPerMinute > 0 {
		if strings.TrimSpace(cfg.RedisURL) == "" {
			log.Println("level=warn component=bootstrap msg=\"redis url missing; purchase rate limiting disabled\" env=REDIS_URL")
		} else {
			redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
			if parseErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; purchase rate limiting disabled\" err=%v", parseErr)
			} else {
				redisClient := redis.NewClient(redisOptions)
				pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelPing()
				if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
					log.Printf("level=warn component=bootstrap msg=\"redis ping failed; purchase rate limiting disabled\" err=%v", pingErr)
					redisClient.Close()
				} else {
					defer redisClient.Close()
					rateLimiter = app.NewRedisPurchaseRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
					log.Println("level=info component=bootstrap msg=\"redis connected\"")
				}
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the core application service with its dependencies.
	voucherService := app.NewService(repository, paystackClient, producer, rateLimiter, app.ServiceOptions{
		VoucherPricePesewas:        cfg.VoucherPricePesewas,
		BaseURL:                    cfg.BaseURL,
		PurchaseRateLimitPerMinute: cfg.PurchaseRateLimitPerMinute,
		StuckProcessingCutoff:      time.Duration(cfg.StuckProcessingCutoffMin) * time.Minute,
	})

	// Initialize the API handlers and router.
	voucherHandlers := api.NewVoucherHandlers(voucherService, cfg.PaystackSecretKey)
	router := api.VoucherRoutes(voucherHandlers, cfg.InternalAPIKey)

	// Wire up the delivery worker: a RabbitMQ consumer bound to the voucher
	// delivery routing keys, sending through SMTP and the SMS gateway.
	var smsClient *smsclient.Client
	if strings.TrimSpace(cfg.SMSAPIKey) != "" {
		smsClient = smsclient.NewClient(cfg.SMSAPIBaseURL, cfg.SMSAPIKey, cfg.SMSSenderID)
	} else {
		log.Println("level=warn component=bootstrap msg=\"sms api key missing; sms delivery disabled\" env=SMS_API_KEY")
	}

	var mailClient *mailer.Mailer
	if strings.TrimSpace(cfg.EmailHost) != "" {
		mailClient = mailer.New(cfg.EmailHost, cfg.EmailPort, cfg.EmailUser, cfg.EmailPassword, cfg.EmailFrom)
	} else {
		log.Println("level=warn component=bootstrap msg=\"smtp host missing; email delivery disabled\" env=EMAIL_HOST")
	}

	deliveryWorker := app.NewDeliveryWorker(mailClient, smsClient, cfg.ResultCheckURL)

	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; delivery worker disabled\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()

		deliveryBindings := map[string]func([]byte) bool{
			rmrabbit.RoutingKeyDeliverySMS:   deliveryWorker.HandleSMSEvent,
			rmrabbit.RoutingKeyDeliveryEmail: deliveryWorker.HandleEmailEvent,
		}
		if err := rabbitConsumer.ConsumeWithBindings(rmrabbit.VoucherExchange, cfg.VoucherDeliveryQueue, deliveryBindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"delivery consumer start failed\" err=%v", err)
		}
		log.Println("level=info component=bootstrap msg=\"delivery worker started\"")
	}

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

// runMigrations applies any pending schema migrations from the migrations
// directory using a short-lived database/sql handle.
func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Println("level=info component=bootstrap msg=\"migrations applied\"")
	return nil
}
