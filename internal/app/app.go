// Package app wires configuration into the long-running service and the
// one-shot CLI operations.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vault-riskbot/internal/alerting"
	"vault-riskbot/internal/config"
	"vault-riskbot/internal/predictor"
	"vault-riskbot/internal/scheduler"
	"vault-riskbot/internal/service"
	"vault-riskbot/internal/storage"
	"vault-riskbot/internal/trigger"
	"vault-riskbot/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) openMetricsStore(ctx context.Context) (*storage.MetricsStore, error) {
	client, err := storage.NewRedisClient(ctx, a.Config.Redis)
	if err != nil {
		return nil, err
	}
	return storage.NewMetricsStore(client), nil
}

func (a *App) openArchive(ctx context.Context) (*storage.ArchiveStore, error) {
	if a.Config.Database.DSN == "" {
		return nil, nil
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	archive := storage.NewArchiveStore(pool)
	if err := archive.EnsureSchema(ctx); err != nil {
		archive.Close()
		return nil, err
	}
	return archive, nil
}

func (a *App) newPredictor() *predictor.Client {
	cfg := a.Config.Predictor
	return predictor.NewClient(predictor.Options{
		Endpoint:       cfg.Endpoint,
		AttemptTimeout: cfg.AttemptTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		BaseBackoff:    cfg.BaseBackoff,
		UserAgent:      cfg.UserAgent,
		APIKey:         cfg.APIKey,
		MaxIdleConns:   cfg.MaxIdleConns,
	}, a.Logger)
}

func (a *App) newAlerter() service.Alerter {
	cfg := a.Config.Alerting
	if !cfg.Enabled || !cfg.Telegram.Enabled {
		return nil
	}
	notifier := alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger)
	return alerting.NewRiskAlerter(alerting.Options{Levels: cfg.Levels, Cooldown: cfg.Cooldown}, notifier, a.Logger)
}

func (a *App) newPipeline(store storage.MetricsWriter) (*service.Pipeline, error) {
	return service.New(service.Options{
		Predictor: a.newPredictor(),
		Store:     store,
		Alerter:   a.newAlerter(),
	}, a.Logger)
}

func (a *App) newArchiver(store storage.MetricsReader, archive *storage.ArchiveStore) (*service.Archiver, error) {
	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Archive.Interval,
		Lookback:     a.Config.Archive.Lookback,
		AlignToStart: true,
		StartupDelay: a.Config.Archive.StartupDelay,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	return service.NewArchiver(service.ArchiverOptions{LockKey: a.Config.Archive.AdvisoryLockKey}, store, archive, sched, a.Logger), nil
}

// Serve runs the HTTP trigger, the NATS consumer and the archiver, whichever
// are enabled, until SIGINT/SIGTERM or the first fatal error.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Config.RequirePipeline(); err != nil {
		return err
	}

	store, err := a.openMetricsStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline, err := a.newPipeline(store)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	components := 0

	if a.Config.HTTP.Enabled {
		srv := trigger.NewHTTPServer(trigger.HTTPOptions{
			ListenAddr:      a.Config.HTTP.ListenAddr,
			EventsPath:      a.Config.HTTP.EventsPath,
			ShutdownTimeout: a.Config.HTTP.ShutdownTimeout,
			MaxBodyBytes:    a.Config.HTTP.MaxBodyBytes,
			RequestTimeout:  a.Config.HTTP.RequestTimeout,
		}, pipeline, store, a.Logger)
		g.Go(func() error { return srv.Run(gctx) })
		components++
	}

	if a.Config.NATS.Enabled {
		cfg := a.Config.NATS
		consumer := trigger.NewNATSConsumer(trigger.NATSOptions{
			URL:        cfg.URL,
			Stream:     cfg.Stream,
			Subject:    cfg.Subject,
			Durable:    cfg.Durable,
			Workers:    cfg.Workers,
			FetchBatch: cfg.FetchBatch,
			FetchWait:  cfg.FetchWait,
			AckWait:    cfg.AckWait,
			MaxDeliver: cfg.MaxDeliver,
			NakDelay:   cfg.NakDelay,
		}, pipeline, a.Logger)
		if err := consumer.Connect(ctx); err != nil {
			return err
		}
		defer consumer.Close()
		g.Go(func() error { return consumer.Run(gctx) })
		components++
	}

	if a.Config.Archive.Enabled {
		archive, err := a.openArchive(ctx)
		if err != nil {
			return err
		}
		if archive == nil {
			a.Logger.Warn().Msg("archive enabled but database.dsn not configured; archiver disabled")
		} else {
			defer archive.Close()
			archiver, err := a.newArchiver(store, archive)
			if err != nil {
				return err
			}
			g.Go(func() error {
				if err := archiver.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
			components++
		}
	}

	if components == 0 {
		return fmt.Errorf("nothing to serve: enable http, nats or archive")
	}

	a.Logger.Info().Int("components", components).Str("version", version.String()).Msg("riskbot serving")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("serve terminated with error")
		return err
	}
	a.Logger.Info().Msg("riskbot stopped")
	return nil
}

// ProcessOptions configure a one-shot pipeline run.
type ProcessOptions struct {
	// File is the payload path; "" or "-" reads stdin.
	File  string
	In    io.Reader
	MsgID string
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Network string
	VaultID string
	Since   time.Duration
	Limit   int
	// Archived reads the Postgres archive instead of Redis.
	Archived bool
}

// ExportOptions hold parameters for exporting a vault's metrics history.
type ExportOptions struct {
	Network   string
	VaultID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ArchiveOptions bound a one-shot archive run.
type ArchiveOptions struct {
	From time.Time
	To   time.Time
}
