package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AdamBeresnev/parlor/internal/config"
	"github.com/AdamBeresnev/parlor/internal/db"
	"github.com/AdamBeresnev/parlor/internal/generation"
	"github.com/AdamBeresnev/parlor/internal/logger"
	"github.com/AdamBeresnev/parlor/internal/middleware"
	"github.com/AdamBeresnev/parlor/internal/pubsub"
	"github.com/AdamBeresnev/parlor/internal/service"
	"github.com/AdamBeresnev/parlor/internal/store"
	"github.com/AdamBeresnev/parlor/internal/telemetry"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTEL)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}()

	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.RunMigrations(database.DB, cfg.MigrationsDir); err != nil {
		return err
	}

	middleware.InitAuth(cfg.Discord, cfg.Google)

	sessionManager := scs.New()
	sessionManager.Lifetime = cfg.SessionLifetime
	sessionManager.Store = sqlite3store.New(database.DB)

	events := pubsub.New()
	if cfg.NATS.URL != "" {
		upstream, err := pubsub.NewNATSPubSub(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return err
		}
		defer upstream.Close()
		events = pubsub.NewWithUpstream(upstream)
		slog.Info("relaying events through NATS", "subject", cfg.NATS.Subject)
	}

	pending := generation.NewPendingTable()
	playerStore := store.NewPlayerStore(database, cfg.Betting.StartingBalance)
	matchStore := store.NewMatchStore(database)

	arenas := service.NewArenas(service.ArenaDeps{
		Ledger:    playerStore,
		Limits:    service.BetLimits{Min: cfg.Betting.Min, Max: cfg.Betting.Max},
		Presenter: newPresenter(cfg.Generation, pending),
		Events:    events,
		Archive:   matchStore,
		Records:   playerStore,
		Match: service.MatchOptions{
			Theme:          cfg.Tournament.Theme,
			BettingEnabled: cfg.Betting.Enabled,
			BettingWindow:  cfg.Betting.Window,
			FailurePolicy:  cfg.Tournament.FailurePolicy,
			Debug:          cfg.Debug,
		},
		Session: service.SessionOptions{
			Capacity:      cfg.Tournament.Size,
			AnnounceDelay: cfg.Tournament.AnnounceDelay,
			MatchCooldown: cfg.Tournament.MatchCooldown,
			RoundCooldown: cfg.Tournament.RoundCooldown,
			Debug:         cfg.Debug,
		},
	})
	defer arenas.ResetAll(context.Background())

	srv := &server{
		sessions: sessionManager,
		arenas:   arenas,
		players:  service.NewPlayerService(playerStore),
		matches:  matchStore,
		events:   events,
		pending:  pending,
		admins:   cfg.Admin.PlayerIDs,
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", cfg.Addr, "debug", cfg.Debug)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newPresenter wires the image chain, narrator and describer. Providers
// without credentials drop out of the chain on their own.
func newPresenter(cfg config.GenerationConfig, pending *generation.PendingTable) *generation.Presenter {
	primary := generation.NewSupermachine(generation.SupermachineConfig{
		APIKey:         cfg.SupermachineAPIKey,
		AuthURL:        cfg.SupermachineAuthURL,
		GenerateURL:    cfg.SupermachineGenerateURL,
		WebhookBaseURL: cfg.WebhookBaseURL,
		Racers:         cfg.Racers,
		Timeout:        cfg.PrimaryTimeout,
	}, pending, nil)
	standard := generation.NewPollinations(generation.PollinationsConfig{
		BaseURL:     cfg.PollinationsURL,
		MinInterval: cfg.PollinationsInterval,
	}, nil)
	terms := cfg.BlockedTerms
	if len(terms) == 0 {
		terms = generation.DefaultBlockedTerms
	}
	highFidelity := generation.NewFlux(generation.FluxConfig{
		APIKey: cfg.NvidiaAPIKey,
		URL:    cfg.FluxURL,
	}, generation.NewSanitizer(terms), nil)

	p := &generation.Presenter{
		Images:             generation.NewOrchestrator(highFidelity, primary, standard),
		Narrator:           generation.TemplateNarrator{},
		Style:              cfg.CollectionStyle,
		PreferHighFidelity: cfg.PreferHighFidelity,
	}
	if cfg.NvidiaAPIKey == "" {
		slog.Warn("no text model key, using template narration")
		return p
	}

	p.Narrator = &generation.ChatNarrator{
		Text: generation.NewChatText(generation.ChatConfig{
			APIKey:      cfg.NvidiaAPIKey,
			BaseURL:     cfg.TextBaseURL,
			Model:       cfg.TextModel,
			Temperature: 0.8,
			Timeout:     cfg.TextTimeout,
		}),
		Style: cfg.NarratorStyle,
	}
	p.Describer = generation.NewChatVision(generation.ChatConfig{
		APIKey:  cfg.NvidiaAPIKey,
		BaseURL: cfg.VisionBaseURL,
		Model:   cfg.VisionModel,
	})
	return p
}
