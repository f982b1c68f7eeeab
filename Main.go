package main

import (
	"bookmart/audit"
	"bookmart/cache"
	"bookmart/config"
	"bookmart/handlers"
	"bookmart/jwt"
	"bookmart/logger"
	"bookmart/mailer"
	"bookmart/metrics"
	"bookmart/payment"
	"bookmart/routers"
	"context"
	"errors"
	"flag"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const resetTokenTTL = 15 * time.Minute

func main() {
	configPath := flag.String("config", envOr("BOOKMART_CONFIG", "config/config.yaml"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Get().Fatal().Err(err).Str("path", *configPath).Msg("could not load config")
	}
	logger.Init(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	log := logger.Get()
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.SetupMySQLConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to MySQL")
	}
	defer func() {
		dbInstance, _ := db.DB()
		_ = dbInstance.Close()
	}()

	rdb, err := config.SetupRedisConnection(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("could not connect to Redis")
	}
	defer rdb.Close()

	tokens, err := jwt.NewManager(cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up token signing")
	}

	var recorder audit.Recorder = audit.LogRecorder{}
	if cfg.Audit.MongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		mongoRecorder, err := audit.NewMongoRecorder(connectCtx, cfg.Audit.MongoURI, cfg.Audit.Database, cfg.Audit.Collection)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("audit store unavailable, writing audit entries to the log")
		} else {
			recorder = mongoRecorder
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = mongoRecorder.Close(closeCtx)
			}()
		}
	}

	if cfg.Stripe.SecretKey == "" {
		log.Warn().Msg("stripe secret key not set, card payments are disabled")
	}

	h := &handlers.Handler{
		DB:       db,
		Redis:    rdb,
		Books:    cache.NewBookCache(rdb),
		Resets:   cache.NewResetTokens(rdb, resetTokenTTL),
		Tokens:   tokens,
		Payments: payment.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret),
		Mailer:   mailer.New(cfg.SMTP),
		Audit:    recorder,
		Metrics:  metrics.New(),
		Config:   cfg,
	}

	router, err := routers.SetupRouters(h)
	if err != nil {
		log.Fatal().Err(err).Msg("could not set up routes")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
