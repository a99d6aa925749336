package pipeline

import (
	"context"
	"sync"
	"time"

	"podnotify/internal/feed"
	"podnotify/internal/retry"
	"podnotify/internal/store"
	"podnotify/pkg/logx"
)

type PollerConfig struct {
	// Interval between full poll cycles.
	Interval time.Duration
	// FetchRetry bounds retries of transient feed fetch failures within
	// one cycle. The cycle loop itself never gives up.
	FetchRetry retry.Policy
}

// Poller walks all tracked podcasts each cycle, detects new episodes and
// hands them to the router. Podcast-level failures are recorded and never
// abort the cycle.
type Poller struct {
	store   store.Store
	fetcher feed.Fetcher
	router  *Router
	log     logx.Logger

	cfgMu sync.Mutex
	cfg   PollerConfig

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewPoller(cfg PollerConfig, st store.Store, fetcher feed.Fetcher, router *Router, log logx.Logger) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{store: st, fetcher: fetcher, router: router, log: log}
	p.Apply(cfg)
	return p
}

// Apply swaps the poll interval and fetch retry policy at runtime. The new
// interval takes effect after the cycle in progress.
func (p *Poller) Apply(cfg PollerConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	p.cfgMu.Lock()
	p.cfg = cfg
	p.cfgMu.Unlock()
}

func (p *Poller) snapshot() PollerConfig {
	p.cfgMu.Lock()
	defer p.cfgMu.Unlock()
	return p.cfg
}

func (p *Poller) Start(ctx context.Context) {
	startStage(&p.mu, &p.stopCh, &p.wg, ctx, p.run)
}

func (p *Poller) Stop() {
	stopStage(&p.mu, &p.stopCh, &p.wg)
}

func (p *Poller) run(ctx context.Context) {
	// First cycle right away, then sleep-and-repeat. The timer is re-armed
	// each round so Apply can retune the interval.
	p.Cycle(ctx)
	t := time.NewTimer(p.snapshot().Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.Cycle(ctx)
			t.Reset(p.snapshot().Interval)
		}
	}
}

// Cycle runs one full pass over all tracked podcasts.
func (p *Poller) Cycle(ctx context.Context) {
	podcasts, err := p.store.ListPodcasts(ctx)
	if err != nil {
		p.log.Error("list podcasts", logx.Err(err))
		return
	}

	for i := range podcasts {
		if ctx.Err() != nil {
			return
		}
		p.checkPodcast(ctx, &podcasts[i])
	}
}

func (p *Poller) checkPodcast(ctx context.Context, pod *store.Podcast) {
	log := p.log.With(logx.Int64("podcast_id", pod.ID), logx.String("podcast", pod.Title))

	followers, err := p.store.Followers(ctx, pod.ID)
	if err != nil {
		log.Error("list followers", logx.Err(err))
		return
	}
	if len(followers) == 0 {
		// Nobody to notify, don't even fetch.
		log.Debug("no followers, skipping fetch")
		return
	}

	var f *feed.Feed
	fetchErr := retry.Do(ctx, p.snapshot().FetchRetry, feed.IsTransient, func(ctx context.Context) error {
		var err error
		f, err = p.fetcher.Fetch(ctx, pod.FeedURL)
		return err
	})

	// Check bookkeeping is recorded whatever the outcome.
	now := time.Now().UTC()
	if err := p.store.SaveCheck(ctx, pod.ID, now, fetchErr == nil); err != nil {
		log.Error("save check bookkeeping", logx.Err(err))
	}
	if fetchErr != nil {
		log.Warn("feed fetch failed", logx.Err(fetchErr))
		return
	}

	if patch := pod.DiffMeta(f.Title, f.Link, f.CoverURL, f.Description); !patch.IsZero() {
		if err := p.store.SaveMeta(ctx, pod.ID, patch); err != nil {
			log.Error("save metadata", logx.Err(err))
		}
	}

	ep := f.LatestEpisode
	if ep == nil {
		return
	}
	if pod.LatestEpisodeAt != nil && !ep.PublishedAt.After(*pod.LatestEpisodeAt) {
		return
	}

	// Persist the marker before broadcasting so a crash mid-delivery does
	// not re-deliver the episode on the next cycle.
	if err := p.store.SaveLatestEpisodeAt(ctx, pod.ID, ep.PublishedAt); err != nil {
		log.Error("save latest episode marker", logx.Err(err))
		return
	}

	if ep.Title == "" || ep.Audio == nil {
		log.Debug("episode lacks title or audio, not broadcastable")
		return
	}

	log.Info("new episode detected",
		logx.String("episode", ep.Title),
		logx.Time("published_at", ep.PublishedAt),
		logx.Int("followers", len(followers)))

	out := &Episode{
		PodcastID:      pod.ID,
		PodcastTitle:   f.Title,
		PodcastLink:    f.Link,
		PodcastSlug:    store.TitleSlug(f.Title),
		CoverURL:       f.CoverURL,
		Title:          ep.Title,
		Link:           ep.Link,
		Description:    ep.Description,
		PublishedAt:    ep.PublishedAt,
		AudioURL:       ep.Audio.URL,
		AudioSizeBytes: ep.Audio.SizeBytes,
		Followers:      followers,
	}
	if err := p.router.Route(ctx, out); err != nil {
		log.Error("route episode", logx.Err(err))
	}
}
