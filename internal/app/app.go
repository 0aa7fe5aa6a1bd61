package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"host-sentinel/internal/alerting"
	"host-sentinel/internal/anomaly"
	"host-sentinel/internal/api"
	"host-sentinel/internal/config"
	"host-sentinel/internal/forecast"
	"host-sentinel/internal/history"
	"host-sentinel/internal/metrics"
	"host-sentinel/internal/pipeline"
	"host-sentinel/internal/sampler"
	"host-sentinel/internal/scheduler"
	"host-sentinel/internal/smoother"
	"host-sentinel/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) hostname() string {
	if a.Config.App.Host != "" {
		return a.Config.App.Host
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := alerting.Multi{alerting.NewLogNotifier(a.Logger)}
	if cfg := a.Config.Alerting.Telegram; cfg.Enabled {
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, a.hostname(), cfg.Timeout, a.Logger))
	}
	return notifiers
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// newPipeline wires every stage from configuration around source.
func (a *App) newPipeline(source sampler.Source, async bool, recorder pipeline.Recorder) (*pipeline.Orchestrator, error) {
	cfg := a.Config

	ema, err := smoother.New(cfg.Smoothing.Alpha)
	if err != nil {
		return nil, err
	}
	evaluator, err := alerting.NewEvaluator(alerting.Options{
		Thresholds:  cfg.Alerting.Thresholds,
		Cooldown:    cfg.Alerting.Cooldown,
		LogCapacity: cfg.Alerting.LogCapacity,
	}, a.Logger)
	if err != nil {
		return nil, err
	}

	forecaster := forecast.NewEngine(forecast.Options{
		MinSamples: cfg.Models.ForecastMinimum,
		Horizon:    cfg.Models.ForecastHorizon,
		Interval:   cfg.Scheduler.Interval,
	})
	detector := anomaly.NewDetector(anomaly.Options{
		MinTrainSamples: cfg.Models.TrainMinimum,
		RetrainInterval: cfg.Models.RetrainInterval,
		Forest: anomaly.ForestOptions{
			Trees:         cfg.Models.Trees,
			MaxSamples:    cfg.Models.MaxSamples,
			Contamination: cfg.Models.Contamination,
			Seed:          cfg.Models.Seed,
		},
	}, a.Logger)

	return pipeline.New(pipeline.Options{
		Nominal: metrics.Sample{
			CPU:    cfg.Sampler.NominalCPU,
			Memory: cfg.Sampler.NominalMemory,
			Disk:   cfg.Sampler.NominalDisk,
		},
		Async:           async,
		FitTimeout:      cfg.Models.FitTimeout,
		RecentAnomalies: cfg.Models.RecentAnomalyCap,
	}, pipeline.Deps{
		Source:     source,
		Smoother:   ema,
		History:    history.New(cfg.History.MaxPoints),
		Evaluator:  evaluator,
		Notifier:   a.newNotifier(),
		Forecaster: forecaster,
		Detector:   detector,
		Recorder:   recorder,
	}, a.Logger)
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	var recorder pipeline.Recorder
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; audit persistence disabled")
	} else {
		rec := storage.NewRecorder(store, storage.RecorderOptions{
			Host:       a.hostname(),
			BufferSize: a.Config.Database.BufferSize,
			Retention:  a.Config.Database.Retention,
			LockKey:    a.Config.Database.AdvisoryLockKey,
		}, a.Logger)
		defer rec.Close()
		recorder = rec
	}

	source := sampler.New(sampler.Options{
		CPUReads:        a.Config.Sampler.CPUReads,
		CPUReadInterval: a.Config.Sampler.CPUReadInterval,
		DefaultVolume:   a.Config.Sampler.DefaultVolume,
		AlternateVolume: a.Config.Sampler.AlternateVolumes,
		Noise:           a.Config.Sampler.Noise,
	}, nil, a.Logger)

	orch, err := a.newPipeline(source, a.Config.Models.Async, recorder)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Jitter:       a.Config.Scheduler.Jitter,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return orch.Run(gctx, sched)
	})
	if a.Config.API.Enabled {
		server := api.New(api.Options{
			Listen:         a.Config.API.Listen,
			StreamInterval: a.Config.API.StreamInterval,
		}, orch, a.Logger)
		group.Go(func() error {
			return server.Run(gctx)
		})
	}

	a.Logger.Info().Str("host", a.hostname()).Msg("starting monitoring service")
	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit    int
	Verdicts bool
}
