package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/justestif/go-shorts-feed/internal/catalog"
	"github.com/justestif/go-shorts-feed/internal/config"
	"github.com/justestif/go-shorts-feed/internal/identity"
	"github.com/justestif/go-shorts-feed/internal/log"
	"github.com/justestif/go-shorts-feed/internal/maintenance"
	"github.com/justestif/go-shorts-feed/internal/progress"
	"github.com/justestif/go-shorts-feed/internal/reactions"
	"github.com/justestif/go-shorts-feed/internal/session"
	"github.com/justestif/go-shorts-feed/internal/store"
	"github.com/justestif/go-shorts-feed/internal/telemetry"
	"github.com/justestif/go-shorts-feed/internal/web"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the feed API",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	return cmd
}

// app holds the components shared by serve and prune.
type app struct {
	store       store.Store
	catalog     *catalog.FileCatalog
	sessions    *session.Manager
	reactions   *reactions.Synchronizer
	progress    *progress.Tracker
	maintenance *maintenance.Service
}

func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	cat := catalog.NewFileCatalog(cfg.Catalog.Path)
	sessions := session.NewManager(st)
	tracker := progress.NewTracker(st)
	return &app{
		store:     st,
		catalog:   cat,
		sessions:  sessions,
		reactions: reactions.NewSynchronizer(st),
		progress:  tracker,
		maintenance: maintenance.New(st, tracker, sessions, cat,
			maintenance.WithCooldown(cfg.Maintenance.Cooldown),
			maintenance.WithIdleTimeout(cfg.Maintenance.IdleTimeout),
		),
	}, nil
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (identity.Verifier, error) {
	if cfg.Issuer != "" {
		v, err := identity.NewOIDCVerifier(ctx, cfg.Issuer, cfg.ClientID)
		if err != nil {
			return nil, fmt.Errorf("creating OIDC verifier: %w", err)
		}
		return v, nil
	}
	user := cfg.DevUser
	if user == "" {
		user = identity.DevUserID
	}
	return identity.HeaderVerifier{Default: user}, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	ctx := cmd.Context()
	logger := log.WithComponent("serve")

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		SamplingRate:   cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown")
		}
	}()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing store")
		}
	}()

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	if cfg.Auth.Issuer == "" {
		logger.Warn().Msg("development identity enabled: X-User-ID headers are trusted")
	}

	srv, err := web.NewServer(web.ServerConfig{
		Addr:      cfg.Server.Addr,
		RateLimit: cfg.Server.RateLimit,
		Service:   cfg.Telemetry.ServiceName,
	}, web.Services{
		Store:     a.store,
		Sessions:  a.sessions,
		Reactions: a.reactions,
		Progress:  a.progress,
		Catalog:   a.catalog,
		Verifier:  verifier,
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	logger.Info().
		Str("version", version).
		Str("store", cfg.Store.Backend).
		Str("catalog", cfg.Catalog.Path).
		Bool("tracing", tp.Enabled()).
		Msg("starting shorts-feed")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return a.maintenance.Run(gctx, cfg.Maintenance.Schedule) })
	if cfg.Catalog.Watch {
		g.Go(func() error { return a.catalog.Watch(gctx, a.maintenance.OnCatalogChange(gctx)) })
	}
	return g.Wait()
}
