package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/dayboard/internal/avatar"
	"github.com/dukerupert/dayboard/internal/billing"
	"github.com/dukerupert/dayboard/internal/completion"
	"github.com/dukerupert/dayboard/internal/config"
	"github.com/dukerupert/dayboard/internal/database"
	"github.com/dukerupert/dayboard/internal/logging"
	"github.com/dukerupert/dayboard/internal/metrics"
	"github.com/dukerupert/dayboard/internal/permission"
	"github.com/dukerupert/dayboard/internal/server"
	"github.com/dukerupert/dayboard/internal/sso"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	catalog, err := permission.LoadDefault()
	if err != nil {
		logger.Error("load capability catalog", "error", err)
		os.Exit(1)
	}
	checklist, err := completion.FromNames(cfg.CompletionFields)
	if err != nil {
		logger.Error("completion checklist", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	opts := server.Options{
		BaseURL:          cfg.BaseURL,
		AccessTimeout:    cfg.AccessTimeout,
		SuperAdminEmails: cfg.SuperAdminEmails,
		SecureCookies:    cfg.SecureCookies,
		Catalog:          catalog,
		Checklist:        checklist,
		Metrics:          metrics.New(nil),
	}

	if cfg.OIDC.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		provider, err := sso.NewProvider(ctx, sso.Config{
			IssuerURL:    cfg.OIDC.IssuerURL,
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
		})
		cancel()
		if err != nil {
			logger.Error("oidc provider", "error", err)
			os.Exit(1)
		}
		opts.Identity = provider
	} else {
		logger.Warn("sign-in disabled: DAYBOARD_OIDC_ISSUER or DAYBOARD_OIDC_CLIENT_ID not set")
	}

	if cfg.Stripe.Enabled() {
		opts.Billing = billing.NewClient(billing.Config{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		})
	}

	if cfg.S3.Enabled() {
		opts.Avatars = avatar.NewStore(avatar.Config{
			Endpoint:  cfg.S3.Endpoint,
			Region:    cfg.S3.Region,
			Bucket:    cfg.S3.Bucket,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	}

	srv, err := server.New(db, opts, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					logger.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up expired sessions", "count", n)
				}
				if n, err := srv.InviteStore().DeleteExpired(); err != nil {
					logger.Error("cleanup expired invites", "error", err)
				} else if n > 0 {
					logger.Info("cleaned up expired invites", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	go func() {
		logger.Info("dayboard starting", "addr", cfg.Addr(), "base_url", cfg.BaseURL,
			"sign_in", cfg.OIDC.Enabled(), "billing", cfg.Stripe.Enabled(), "avatars", cfg.S3.Enabled())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cleanupCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
