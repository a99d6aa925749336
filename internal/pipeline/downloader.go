package pipeline

import (
	"context"
	"sync"

	"podnotify/internal/audio"
	"podnotify/internal/retry"
	"podnotify/pkg/logx"
)

// Downloader pulls oversized episodes off the download queue, stages their
// audio on disk and forwards them to the compress stage. A failed download
// degrades the episode to text-only delivery instead of dropping it.
type Downloader struct {
	storage *audio.Storage
	queues  *Queues
	retry   retry.Policy
	log     logx.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewDownloader(storage *audio.Storage, queues *Queues, pol retry.Policy, log logx.Logger) *Downloader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Downloader{storage: storage, queues: queues, retry: pol, log: log}
}

func (d *Downloader) Start(ctx context.Context) {
	startStage(&d.mu, &d.stopCh, &d.wg, ctx, func(runCtx context.Context) {
		d.run(runCtx)
	})
}

func (d *Downloader) Stop() {
	stopStage(&d.mu, &d.stopCh, &d.wg)
}

func (d *Downloader) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ep := <-d.queues.Download:
			d.process(ctx, ep)
		}
	}
}

func (d *Downloader) process(ctx context.Context, ep *Episode) {
	log := d.log.With(logx.String("episode", ep.Title))

	var filename string
	err := retry.Do(ctx, d.retry, audio.IsTransient, func(ctx context.Context) error {
		var err error
		filename, err = d.storage.Download(ctx, ep.AudioURL)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Recipients still get the text notification with a direct link.
		log.Warn("download failed, degrading to text-only", logx.Err(err))
		ep.DeliverableAsAudio = false
		if err := enqueue(ctx, d.queues.Broadcast, ep); err != nil {
			log.Error("enqueue broadcast", logx.Err(err))
		}
		return
	}

	ep.LocalFile = filename
	log.Debug("episode audio staged", logx.String("file", filename))
	if err := enqueue(ctx, d.queues.Compress, ep); err != nil {
		log.Error("enqueue compress", logx.Err(err))
	}
}
