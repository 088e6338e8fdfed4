package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"saferoute/config"
	"saferoute/database"
	"saferoute/handlers"
	"saferoute/metrics"
	"saferoute/openai"
	"saferoute/osm"
	"saferoute/rabbitmq"
	"saferoute/reputation"
	"saferoute/scoring"
	"saferoute/service"
	"saferoute/version"
	ws "saferoute/websocket"

	"github.com/apex/log"
	jsonhandler "github.com/apex/log/handlers/json"
	texthandler "github.com/apex/log/handlers/text"
	"github.com/gin-gonic/gin"
)

const purgeInterval = time.Hour

func setupLogging(cfg *config.Config) {
	if cfg.LogFormat == "json" {
		log.SetHandler(jsonhandler.New(os.Stderr))
	} else {
		log.SetHandler(texthandler.New(os.Stderr))
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
		log.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
	}
	log.SetLevel(level)
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
}

func geocodeCache(ctx context.Context, cfg *config.Config) osm.Cache {
	if cfg.RedisURL == "" {
		return osm.NewMemoryCache()
	}
	client, err := osm.ConnectRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, caching geocodes in memory")
		return osm.NewMemoryCache()
	}
	return osm.NewRedisCache(client)
}

func purgeExpired(ctx context.Context, db *database.Database) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PurgeExpired(ctx, time.Now().UTC())
			if err != nil {
				log.WithError(err).Error("Failed to purge expired reports")
				continue
			}
			if n > 0 {
				log.Infof("Purged %d expired rows", n)
			}
		}
	}
}

func main() {
	cfg := config.Load()
	setupLogging(cfg)
	metrics.Register()

	info := version.Get(handlers.ServiceName)
	log.WithFields(log.Fields{"version": info.Version, "git_sha": info.GitSHA}).Info("Starting the saferoute service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}

	geocoder := osm.NewCachedGeocoder(
		osm.NewClient(cfg.NominatimURL, cfg.NominatimPerSecond),
		geocodeCache(ctx, cfg),
		cfg.GeocodeCacheTTL,
	)

	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY is not set, text and image signals fall back to neutral defaults")
	}
	llm := openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	calculator := scoring.NewCalculator(llm, llm, cfg.SignalTimeout).OnFailure(func(signal string, _ error) {
		metrics.SignalFailures.WithLabelValues(signal).Inc()
	})

	hub := ws.NewHub()
	go hub.Run(ctx)

	deps := service.Dependencies{
		Calculator:  calculator,
		Ledger:      reputation.NewLedger(db),
		Reports:     db,
		Geocoder:    geocoder,
		Broadcaster: hub,
	}
	var bus handlers.BusStatus
	if cfg.AMQPURL != "" {
		publisher, err := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.ExchangeName, cfg.PublishRoutingKey)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer publisher.Close()
		deps.Publisher = publisher
		bus = publisher
	} else {
		log.Warn("AMQP_URL is not set, published reports are not sent to the message bus")
	}

	svc := service.NewService(cfg, deps)
	router := handlers.NewRouter(cfg, handlers.NewHandlers(svc, hub, bus))

	go purgeExpired(ctx, db)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Server exited")
}
