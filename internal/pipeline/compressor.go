package pipeline

import (
	"context"
	"sync"

	"podnotify/internal/audio"
	"podnotify/pkg/logx"
)

// Compressor transcodes staged audio down to the platform limit before it
// reaches the broadcaster. Transcoding failures degrade to text-only.
type Compressor struct {
	storage *audio.Storage
	queues  *Queues
	target  int64
	log     logx.Logger

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewCompressor(storage *audio.Storage, queues *Queues, targetBytes int64, log logx.Logger) *Compressor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Compressor{storage: storage, queues: queues, target: targetBytes, log: log}
}

func (c *Compressor) Start(ctx context.Context) {
	startStage(&c.mu, &c.stopCh, &c.wg, ctx, c.run)
}

func (c *Compressor) Stop() {
	stopStage(&c.mu, &c.stopCh, &c.wg)
}

func (c *Compressor) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ep := <-c.queues.Compress:
			c.process(ctx, ep)
		}
	}
}

func (c *Compressor) process(ctx context.Context, ep *Episode) {
	log := c.log.With(logx.String("episode", ep.Title))

	out, err := c.storage.Compress(ctx, ep.LocalFile, c.target)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn("compression failed, degrading to text-only", logx.Err(err))
		ep.DeliverableAsAudio = false
		if rmErr := c.storage.Remove(ep.LocalFile); rmErr != nil {
			log.Warn("remove staged file", logx.Err(rmErr))
		}
		ep.LocalFile = ""
	} else {
		ep.CompressedFile = out
		log.Debug("episode audio compressed", logx.String("file", out))
	}

	if err := enqueue(ctx, c.queues.Broadcast, ep); err != nil {
		log.Error("enqueue broadcast", logx.Err(err))
	}
}
