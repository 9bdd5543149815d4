package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"

	"storefront-service/handlers"
	"storefront-service/internal/addresses"
	"storefront-service/internal/auth"
	"storefront-service/internal/catalog"
	"storefront-service/internal/checkout"
	"storefront-service/internal/config"
	"storefront-service/internal/consul"
	"storefront-service/internal/downloads"
	"storefront-service/internal/grpchealth"
	"storefront-service/internal/orders"
	"storefront-service/internal/payments"
	"storefront-service/internal/storage"
	"storefront-service/internal/stores/kafka"
	"storefront-service/internal/stores/postgres"
	"storefront-service/pkg/logkey"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			return serve(c.Context, cfg)
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "manage the database schema",
		Subcommands: []*cli.Command{
			{
				Name:  "up",
				Usage: "apply pending migrations",
				Action: func(c *cli.Context) error {
					return withDB(c, postgres.Migrate)
				},
			},
			{
				Name:  "status",
				Usage: "print the state of every migration",
				Action: func(c *cli.Context) error {
					return withDB(c, postgres.MigrationStatus)
				},
			},
		},
	}
}

func withDB(c *cli.Context, fn func(context.Context, *sqlx.DB) error) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	db, err := postgres.OpenDB(c.Context, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(c.Context, db)
}

func serve(ctx context.Context, cfg config.Config) error {
	db, err := postgres.OpenDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		slog.Info("migrations applied")
	}

	products, err := catalog.NewConf(db)
	if err != nil {
		return err
	}
	ledger, err := orders.NewConf(db)
	if err != nil {
		return err
	}
	book, err := addresses.NewConf(db)
	if err != nil {
		return err
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	taxRate, err := cfg.Tax()
	if err != nil {
		return err
	}

	stripeClient := payments.NewStripe(cfg.StripeSecretKey, payments.StripeOptions{
		Timeout:  cfg.OutboundTimeout,
		Currency: cfg.StripeCurrency,
	})

	signer, assets, err := newSigner(cfg)
	if err != nil {
		return err
	}

	var events *kafka.Conf
	if len(cfg.KafkaBrokers) > 0 {
		events, err = kafka.NewConf(cfg.KafkaBrokers)
		if err != nil {
			return err
		}
		defer events.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := events.Ping(pingCtx); err != nil {
			slog.Warn("kafka not reachable, events will be retried per publish", slog.String(logkey.ERROR, err.Error()))
		}
		cancel()
	}

	checkoutSvc := checkout.NewService(products, ledger, stripeClient, events, checkout.Options{
		TaxRate:           taxRate,
		RejectUnavailable: cfg.RejectUnavailable,
		Timeout:           cfg.OutboundTimeout,
	})
	releaser := downloads.NewReleaser(ledger, products, signer, downloads.Options{
		Scope:   orders.EntitlementScope(cfg.EntitlementScope),
		TTL:     cfg.DownloadURLTTL,
		Timeout: cfg.OutboundTimeout,
	})

	deps := handlers.Deps{
		Config:     cfg,
		Verifier:   verifier,
		Products:   products,
		Categories: products,
		Addresses:  book,
		Orders:     ledger,
		Checkout:   checkoutSvc,
		Releaser:   releaser,
		Webhooks:   payments.NewWebhookVerifier(cfg.StripeWebhookSecret),
		Assets:     assets,
	}
	if cfg.StripeSecretKey != "" {
		deps.Prices = stripeClient
	}
	if events != nil {
		deps.Events = events
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handlers.API(deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var health *grpchealth.Server
	if cfg.GRPCAddr != "" {
		health, err = grpchealth.Listen(cfg.GRPCAddr, cfg.ServiceName)
		if err != nil {
			return err
		}
		go func() {
			if err := health.Serve(); err != nil {
				slog.Error("grpc health server stopped", slog.String(logkey.ERROR, err.Error()))
			}
		}()
		slog.Info("grpc health listening", slog.String("Addr", health.Addr()))
	}

	if cfg.ConsulAddr != "" {
		deregister, err := registerService(cfg)
		if err != nil {
			return err
		}
		defer deregister()
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http listening", slog.String("Addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-shutdown:
		slog.Info("shutting down", slog.String("Signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if health != nil {
		health.Stop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func newVerifier(cfg config.Config) (auth.Verifier, error) {
	if cfg.JWTSecret != "" {
		return auth.NewKeys(cfg.JWTSecret)
	}
	client := &http.Client{Timeout: cfg.OutboundTimeout}
	return auth.NewSupabaseVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey, client), nil
}

// newSigner returns the download signer. The local signer is also the
// asset server, so it is returned a second time for the download route.
func newSigner(cfg config.Config) (storage.Signer, *storage.Local, error) {
	if cfg.Signer != config.SignerLocal {
		client := &http.Client{Timeout: cfg.OutboundTimeout}
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.StorageBucket, client), nil, nil
	}
	if cfg.AssetDir == "" || cfg.AssetSecret == "" {
		// Downloads answer 500 until both are set
		slog.Warn("local signer selected without ASSET_DIR and ASSET_SECRET")
		return storage.NewSupabase(cfg.SupabaseURL, cfg.SupabaseServiceRoleKey, cfg.StorageBucket, nil), nil, nil
	}
	local, err := storage.NewLocal(cfg.AssetDir, cfg.AssetSecret, publicBase(cfg)+cfg.EndpointPrefix+"/assets/download")
	if err != nil {
		return nil, nil, err
	}
	return local, local, nil
}

func publicBase(cfg config.Config) string {
	if cfg.AppURL != "" {
		return strings.TrimRight(cfg.AppURL, "/")
	}
	host, port, err := net.SplitHostPort(cfg.HTTPAddr)
	if err != nil {
		return "http://localhost"
	}
	if host == "" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func registerService(cfg config.Config) (func(), error) {
	client, err := consul.NewClient(cfg.ConsulAddr)
	if err != nil {
		return nil, err
	}
	reg, err := consul.RegistrationFor(cfg.ServiceName, cfg.HTTPAddr, cfg.AdvertiseHost, cfg.EndpointPrefix+"/ping")
	if err != nil {
		return nil, err
	}
	if err := consul.Register(client, reg); err != nil {
		return nil, err
	}
	slog.Info("registered with consul", slog.String("ServiceID", reg.ID))
	return func() {
		if err := consul.Deregister(client, reg.ID); err != nil {
			slog.Error("failed to deregister", slog.String(logkey.ERROR, err.Error()))
		}
	}, nil
}
