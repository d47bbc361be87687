package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tariel-x/callrelay/internal/auth"
	"github.com/tariel-x/callrelay/internal/config"
	"github.com/tariel-x/callrelay/internal/handlers"
	"github.com/tariel-x/callrelay/internal/history"
	"github.com/tariel-x/callrelay/internal/hub"
	"github.com/tariel-x/callrelay/internal/metrics"
	"github.com/tariel-x/callrelay/internal/models"
	"github.com/tariel-x/callrelay/internal/push"
	"github.com/tariel-x/callrelay/internal/session"
	"github.com/tariel-x/callrelay/internal/turn"
)

const AppVersion = "1.0.0"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	issueToken := flag.String("issue-token", "", "Print a signed access token for the given participant id and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	if err := cfg.EnsureSecrets(); err != nil {
		log.Fatal().Err(err).Msg("failed to prepare secrets")
	}
	authenticator := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.AllowAnonymous)

	if *issueToken != "" {
		token, err := authenticator.Issue(models.ParticipantID(*issueToken))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to issue token")
		}
		fmt.Println(token)
		return
	}

	log.Info().Str("version", AppVersion).Msg("callrelay server starting")
	if err := run(cfg, authenticator); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func run(cfg *config.Config, authenticator *auth.Authenticator) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.Register()

	var (
		sessionOpts []session.Option
		handlerOpts []handlers.Option
		store       *history.Store
	)

	if cfg.History.Enabled || cfg.Push.Enabled {
		db, err := history.Open(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}()
		store = history.NewStore(db)
		handlerOpts = append(handlerOpts, handlers.WithHistory(store))
		log.Info().Str("path", cfg.History.DBPath).Msg("history database opened")
	}

	// The writer outlives the registry so shutdown endings are persisted.
	writerCtx, stopWriter := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	if cfg.History.Enabled {
		writer := history.NewWriter(store, 0)
		sessionOpts = append(sessionOpts, session.WithRecorder(writer))
		go func() {
			defer close(writerDone)
			_ = writer.Run(writerCtx)
		}()
	} else {
		close(writerDone)
	}
	defer func() {
		stopWriter()
		<-writerDone
	}()

	if cfg.Push.Enabled {
		notifier := push.New(store, push.Options{
			VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
			Subject:         cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		})
		defer notifier.Wait()
		sessionOpts = append(sessionOpts, session.WithNotifier(notifier))
	}

	if cfg.TURN.Enabled {
		turnServer, err := turn.Start(turn.Config{
			Port:          cfg.TURN.Port,
			Realm:         cfg.TURN.Realm,
			PublicIP:      cfg.TURN.PublicIP,
			Secret:        cfg.TURN.Secret,
			CredentialTTL: cfg.TURN.CredentialTTL,
		})
		if err != nil {
			return err
		}
		defer turnServer.Close()
		handlerOpts = append(handlerOpts, handlers.WithTURN(turnServer.Issuer()))
	}

	hb := hub.New()
	core := session.New(hb, policyFrom(cfg.Session), sessionOpts...)
	h := handlers.New(cfg, core, hb, authenticator, handlerOpts...)
	servers, err := newServers(cfg, h.Router())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return core.Registry().Run(gctx)
	})
	for _, srv := range servers {
		srv := srv
		g.Go(srv.serve)
		if srv.background != nil {
			g.Go(func() error {
				srv.background(gctx)
				return nil
			})
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := core.Registry().Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("sessions did not stop in time")
		}
		hb.CloseAll()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func policyFrom(c config.SessionConfig) session.Policy {
	return session.Policy{
		RingTimeout:      c.RingTimeout,
		GracePeriod:      c.GracePeriod,
		IdleTimeout:      c.IdleTimeout,
		GCInterval:       c.GCInterval,
		TombstoneTTL:     c.TombstoneTTL,
		MaxQueuedSignals: c.MaxQueuedSignals,
		InboxSize:        c.InboxSize,
	}
}
