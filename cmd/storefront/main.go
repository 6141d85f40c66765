package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"finitefield.org/edu-storefront/internal/backend"
	"finitefield.org/edu-storefront/internal/challenges"
	"finitefield.org/edu-storefront/internal/checkout"
	"finitefield.org/edu-storefront/internal/i18n"
	"finitefield.org/edu-storefront/internal/plans"
	"finitefield.org/edu-storefront/internal/platform/config"
	"finitefield.org/edu-storefront/internal/platform/observability"
	"finitefield.org/edu-storefront/internal/platform/requestctx"
	"finitefield.org/edu-storefront/internal/resource"
	"finitefield.org/edu-storefront/internal/richtext"
	"finitefield.org/edu-storefront/internal/storefront"
	"finitefield.org/edu-storefront/locales"
)

const (
	flowCleanupInterval  = 5 * time.Minute
	flowCleanupBatchSize = 500
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = requestctx.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			logger.Fatal("invalid configuration", zap.Strings("fields", verr.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	bundle, err := loadBundle(cfg.Locale)
	if err != nil {
		logger.Fatal("failed to load message catalogs", zap.Error(err))
	}

	labels, err := plans.LoadLabelCatalog(cfg.Plans.LabelsFile)
	if err != nil {
		logger.Fatal("failed to load plan labels", zap.Error(err))
	}

	client, err := backend.NewClient(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout),
		backend.WithRateLimit(cfg.Backend.RatePerSec, cfg.Backend.Burst),
		backend.WithLogger(logger.Named("backend")),
	)
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}

	creator, err := newSessionCreator(cfg.Checkout, client)
	if err != nil {
		logger.Fatal("failed to initialise checkout provider", zap.Error(err))
	}
	checkoutService := checkout.NewService(creator,
		checkout.WithRedirects(cfg.Checkout.SuccessURL, cfg.Checkout.CancelURL),
	)

	flows := challenges.NewStore(cfg.Challenges.StateTTL)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(flowCleanupInterval)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("challenges")
		for {
			select {
			case <-cleanupTicker.C:
				if removed := flows.CleanupExpired(time.Now(), flowCleanupBatchSize); removed > 0 {
					cleanupLogger.Info("expired challenge flows removed", zap.Int("count", removed), zap.Int("remaining", flows.Len()))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	srv := storefront.New(storefront.Deps{
		Content:    client,
		Plans:      client,
		Challenges: client,
		Checkout:   checkoutService,
		Flows:      flows,
		Bundle:     bundle,
		Resources:  resource.NewResolver(client.BaseURL()),
		Labels:     labels,
		Renderer:   richtext.NewRenderer(),
		Logger:     logger,
		Limiter:    storefront.NewVisitorLimiter(cfg.Server.MutationLimit, cfg.Server.MutationWindow, nil),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(
		zap.String("addr", server.Addr),
		zap.String("backend", client.BaseURL()),
		zap.String("checkout_provider", cfg.Checkout.Provider),
	)
	go func() {
		serverLogger.Info("storefront listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func loadBundle(cfg config.LocaleConfig) (*i18n.Bundle, error) {
	if cfg.Dir != "" {
		return i18n.Load(cfg.Dir, cfg.Default, cfg.Supported)
	}
	return i18n.LoadFS(locales.FS, cfg.Default, cfg.Supported)
}

func newSessionCreator(cfg config.CheckoutConfig, client *backend.Client) (checkout.SessionCreator, error) {
	switch cfg.Provider {
	case config.CheckoutProviderStripe:
		creator, err := checkout.NewStripeCreator(checkout.StripeConfig{APIKey: cfg.StripeAPIKey})
		if err != nil {
			return nil, err
		}
		return creator, nil
	default:
		return checkout.NewBackendCreator(client), nil
	}
}
