// Package app composes the notifier: config, logging, storage, the Telegram
// adapter and the episode pipeline stages.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"podnotify/internal/audio"
	"podnotify/internal/config"
	"podnotify/internal/feed"
	"podnotify/internal/pipeline"
	"podnotify/internal/retry"
	"podnotify/internal/store"
	"podnotify/internal/transport/telegram"
	"podnotify/pkg/logx"
)

const (
	defaultPlatformLimit = 49 << 20 // Telegram bot API caps uploads at 50 MB
	defaultAbsoluteLimit = 2 << 30
	defaultPruneSchedule = "@every 1h"
	defaultPruneMaxAge   = 6 * time.Hour
	queueDepthLogEvery   = time.Minute
)

type App struct {
	cfgm *config.Manager

	logs *logx.Service
	log  logx.Logger

	store   store.Store
	storage *audio.Storage
	adapter *telegram.Adapter

	queues      *pipeline.Queues
	poller      *pipeline.Poller
	downloader  *pipeline.Downloader
	compressor  *pipeline.Compressor
	broadcaster *pipeline.Broadcaster

	cron *cron.Cron

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	cfgm.SetValidator(validate)

	a := &App{cfgm: cfgm, logs: logSvc, log: log}
	if err := a.build(cfg); err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	log := a.logs.Logger()

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return err
	}
	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "store")))
	if err != nil {
		return err
	}
	a.store = st

	downloadTimeout, err := config.ParseDurationOrDefault("audio.download_timeout", cfg.Audio.DownloadTimeout, 20*time.Minute)
	if err != nil {
		return err
	}
	uploadTimeout, err := config.ParseDurationOrDefault("audio.upload_timeout", cfg.Audio.UploadTimeout, 20*time.Minute)
	if err != nil {
		return err
	}
	storage, err := audio.NewStorage(audio.Config{
		Dir:             cfg.Audio.Dir,
		DownloadTimeout: downloadTimeout,
	}, log.With(logx.String("comp", "audio")))
	if err != nil {
		return err
	}
	a.storage = storage

	adapter, err := telegram.New(telegram.Config{
		Token:         cfg.Telegram.Token,
		UploadTimeout: uploadTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return err
	}
	a.adapter = adapter

	platformLimit := cfg.Audio.PlatformLimitBytes
	if platformLimit <= 0 {
		platformLimit = defaultPlatformLimit
	}
	absoluteLimit := cfg.Audio.AbsoluteLimitBytes
	if absoluteLimit <= 0 {
		absoluteLimit = defaultAbsoluteLimit
	}

	a.queues = pipeline.NewQueues(cfg.Broadcast.QueueSize)
	router := pipeline.NewRouter(pipeline.Limits{
		PlatformBytes: platformLimit,
		AbsoluteBytes: absoluteLimit,
	}, a.queues, log.With(logx.String("comp", "router")))

	pollerCfg, err := pollerConfig(cfg)
	if err != nil {
		return err
	}
	broadcasterCfg, err := broadcasterConfig(cfg)
	if err != nil {
		return err
	}

	fetcher := feed.NewClient(30 * time.Second)
	a.poller = pipeline.NewPoller(pollerCfg, st, fetcher, router,
		log.With(logx.String("comp", "poller")))

	a.downloader = pipeline.NewDownloader(storage, a.queues, pollerCfg.FetchRetry,
		log.With(logx.String("comp", "downloader")))
	a.compressor = pipeline.NewCompressor(storage, a.queues, platformLimit,
		log.With(logx.String("comp", "compressor")))
	a.broadcaster = pipeline.NewBroadcaster(broadcasterCfg, adapter, storage, a.queues,
		log.With(logx.String("comp", "broadcaster")))

	return a.schedulePrune(cfg)
}

func (a *App) schedulePrune(cfg *config.Config) error {
	schedule := cfg.Audio.PruneSchedule
	if schedule == "" {
		schedule = defaultPruneSchedule
	}
	maxAge, err := config.ParseDurationOrDefault("audio.prune_max_age", cfg.Audio.PruneMaxAge, defaultPruneMaxAge)
	if err != nil {
		return err
	}

	a.cron = cron.New()
	_, err = a.cron.AddFunc(schedule, func() {
		if _, err := a.storage.PruneOlderThan(maxAge); err != nil {
			a.log.Warn("audio prune failed", logx.Err(err))
		}
	})
	return err
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.runCancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.runCancel = cancel

	a.broadcaster.Start(runCtx)
	a.compressor.Start(runCtx)
	a.downloader.Start(runCtx)
	a.poller.Start(runCtx)
	a.cron.Start()

	a.runWG.Add(2)
	go func() {
		defer a.runWG.Done()
		if err := a.cfgm.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.runWG.Done()
		a.reloadLoop(runCtx)
	}()

	a.log.Info("notifier started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.runCancel
	a.runCancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}

	// Intake first, then the stages downstream of it.
	a.poller.Stop()
	a.downloader.Stop()
	a.compressor.Stop()
	a.broadcaster.Stop()
	<-a.cron.Stop().Done()

	cancel()
	a.runWG.Wait()

	err := a.store.Close()
	a.log.Info("notifier stopped")
	_ = a.logs.Close()
	return err
}

// reloadLoop applies config edits that are safe to change at runtime: the
// logging sinks plus the pipeline tunables (poll interval, retry policies,
// send rate). Everything structural (token, storage path, queue topology)
// needs a restart.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(1)
	defer a.cfgm.Unsubscribe(sub)

	ticker := time.NewTicker(queueDepthLogEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.applyRuntime(cfg)
		case <-ticker.C:
			d, c, bc := a.queues.Depths()
			a.log.Debug("queue depths",
				logx.Int("download", d),
				logx.Int("compress", c),
				logx.Int("broadcast", bc))
		}
	}
}

func (a *App) applyRuntime(cfg *config.Config) {
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})

	pollerCfg, err := pollerConfig(cfg)
	if err != nil {
		a.log.Warn("config change rejected", logx.Err(err))
		return
	}
	broadcasterCfg, err := broadcasterConfig(cfg)
	if err != nil {
		a.log.Warn("config change rejected", logx.Err(err))
		return
	}
	a.poller.Apply(pollerCfg)
	a.broadcaster.Apply(broadcasterCfg)
	a.log.Info("runtime tunables applied; structural changes take effect on restart")
}

func validate(cfg *config.Config) error {
	_, err := config.ParseDurationField("poller.interval", cfg.Poller.Interval)
	return err
}

func pollerConfig(cfg *config.Config) (pipeline.PollerConfig, error) {
	interval, err := config.ParseDurationOrDefault("poller.interval", cfg.Poller.Interval, time.Minute)
	if err != nil {
		return pipeline.PollerConfig{}, err
	}
	fetchRetry, err := retryPolicy("poller.fetch_retry", cfg.Poller.FetchRetry, retry.Policy{
		Attempts: 3,
		Base:     time.Second,
		MaxDelay: 30 * time.Second,
	})
	if err != nil {
		return pipeline.PollerConfig{}, err
	}
	return pipeline.PollerConfig{Interval: interval, FetchRetry: fetchRetry}, nil
}

func broadcasterConfig(cfg *config.Config) (pipeline.BroadcasterConfig, error) {
	sendRetry, err := retryPolicy("broadcast.send_retry", cfg.Broadcast.SendRetry, retry.Policy{
		Attempts: 10,
		Base:     time.Second,
		MaxDelay: time.Minute,
	})
	if err != nil {
		return pipeline.BroadcasterConfig{}, err
	}
	return pipeline.BroadcasterConfig{
		RatePerSec: cfg.Broadcast.RatePerSec,
		SendRetry:  sendRetry,
	}, nil
}

func retryPolicy(path string, rc config.RetryConfig, def retry.Policy) (retry.Policy, error) {
	base, err := config.ParseDurationOrDefault(path+".base", rc.Base, def.Base)
	if err != nil {
		return retry.Policy{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault(path+".max_delay", rc.MaxDelay, def.MaxDelay)
	if err != nil {
		return retry.Policy{}, err
	}
	attempts := rc.Attempts
	if attempts <= 0 {
		attempts = def.Attempts
	}
	return retry.Policy{Attempts: attempts, Base: base, MaxDelay: maxDelay}, nil
}
