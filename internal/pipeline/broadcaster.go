package pipeline

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"podnotify/internal/audio"
	"podnotify/internal/retry"
	"podnotify/internal/transport"
	"podnotify/pkg/logx"
)

type BroadcasterConfig struct {
	// RatePerSec caps outbound platform calls across all recipients.
	RatePerSec int
	// SendRetry bounds retries of transient platform errors per call.
	SendRetry retry.Policy
}

// Broadcaster delivers one episode to every follower, each recipient fully
// isolated from the others.
type Broadcaster struct {
	sender  transport.Sender
	storage *audio.Storage
	queues  *Queues
	limiter *rate.Limiter
	log     logx.Logger

	cfgMu sync.Mutex
	cfg   BroadcasterConfig

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewBroadcaster(cfg BroadcasterConfig, sender transport.Sender, storage *audio.Storage, queues *Queues, log logx.Logger) *Broadcaster {
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Broadcaster{
		sender:  sender,
		storage: storage,
		queues:  queues,
		limiter: rate.NewLimiter(rate.Limit(1), 1),
		log:     log,
	}
	b.Apply(cfg)
	return b
}

// Apply retunes the outbound rate and the send retry policy at runtime.
// Token bucket burst tracks the per-second rate so short spikes don't block
// too hard.
func (b *Broadcaster) Apply(cfg BroadcasterConfig) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	b.cfgMu.Lock()
	b.cfg = cfg
	b.cfgMu.Unlock()
	b.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	b.limiter.SetBurst(cfg.RatePerSec)
}

func (b *Broadcaster) sendRetry() retry.Policy {
	b.cfgMu.Lock()
	defer b.cfgMu.Unlock()
	return b.cfg.SendRetry
}

func (b *Broadcaster) Start(ctx context.Context) {
	startStage(&b.mu, &b.stopCh, &b.wg, ctx, b.run)
}

func (b *Broadcaster) Stop() {
	stopStage(&b.mu, &b.stopCh, &b.wg)
}

func (b *Broadcaster) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ep := <-b.queues.Broadcast:
			b.broadcast(ctx, ep)
			b.cleanup(ep)
		}
	}
}

// broadcast walks the follower list once. Every recipient ends up delivered,
// skipped as forbidden, or skipped on error; there is no second pass.
func (b *Broadcaster) broadcast(ctx context.Context, ep *Episode) {
	log := b.log.With(
		logx.String("podcast", ep.PodcastTitle),
		logx.String("episode", ep.Title))
	log.Info("broadcast started", logx.Int("recipients", len(ep.Followers)))

	text := notificationText(ep)
	var delivered, forbidden, failed int

	for _, userID := range ep.Followers {
		if ctx.Err() != nil {
			return
		}
		switch b.deliver(ctx, ep, userID, text) {
		case deliverOK:
			delivered++
		case deliverForbidden:
			forbidden++
		default:
			failed++
		}
	}

	log.Info("broadcast finished",
		logx.Int("delivered", delivered),
		logx.Int("forbidden", forbidden),
		logx.Int("failed", failed))
}

type deliverResult int

const (
	deliverOK deliverResult = iota
	deliverForbidden
	deliverFailed
)

func (b *Broadcaster) deliver(ctx context.Context, ep *Episode, userID int64, text string) deliverResult {
	log := b.log.With(logx.Int64("user_id", userID), logx.String("episode", ep.Title))

	_, err := b.withRetry(ctx, func(ctx context.Context) (transport.MessageRef, error) {
		return b.sender.SendText(ctx, userID, text, &transport.SendOptions{
			ParseMode:      "HTML",
			DisablePreview: true,
		})
	})
	if err != nil {
		if transport.IsForbidden(err) {
			// The recipient blocked the bot; no audio attempt either.
			log.Info("recipient has blocked the bot, skipping")
			return deliverForbidden
		}
		log.Warn("text notification failed, skipping recipient", logx.Err(err))
		return deliverFailed
	}

	if !ep.DeliverableAsAudio {
		return deliverOK
	}

	// Presence hint is cosmetic; ignore failures.
	_ = retry.Do(ctx, b.sendRetry(), transport.IsTransient, func(ctx context.Context) error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		return b.sender.SendChatAction(ctx, userID, transport.ActionUploadingAudio)
	})

	ref, err := b.withRetry(ctx, func(ctx context.Context) (transport.MessageRef, error) {
		return b.sender.SendAudio(ctx, userID, b.audioSource(ep), transport.AudioMeta{
			Title:        ep.Title,
			Performer:    ep.PodcastTitle,
			FileName:     ep.Title + ".mp3",
			ThumbnailURL: ep.CoverURL,
		})
	})
	if err != nil {
		if transport.IsForbidden(err) {
			log.Info("recipient has blocked the bot, skipping")
			return deliverForbidden
		}
		log.Warn("audio send failed", logx.Err(err))
		return deliverFailed
	}

	// Cache the platform handle so later recipients skip the upload.
	if ep.FileID == "" && ref.AudioFileID != "" {
		ep.FileID = ref.AudioFileID
		log.Debug("cached platform file id")
	}
	return deliverOK
}

func (b *Broadcaster) withRetry(ctx context.Context, send func(ctx context.Context) (transport.MessageRef, error)) (transport.MessageRef, error) {
	var ref transport.MessageRef
	err := retry.Do(ctx, b.sendRetry(), transport.IsTransient, func(ctx context.Context) error {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		ref, err = send(ctx)
		return err
	})
	return ref, err
}

// audioSource prefers the cheapest handle: a cached platform file id, then a
// compressed local copy, then the raw local copy, then the remote URL.
func (b *Broadcaster) audioSource(ep *Episode) transport.AudioSource {
	switch {
	case ep.FileID != "":
		return transport.AudioSource{FileID: ep.FileID}
	case ep.CompressedFile != "":
		return transport.AudioSource{LocalPath: b.storage.Path(ep.CompressedFile)}
	case ep.LocalFile != "":
		return transport.AudioSource{LocalPath: b.storage.Path(ep.LocalFile)}
	default:
		return transport.AudioSource{RemoteURL: ep.AudioURL}
	}
}

// cleanup drops staged files once every recipient has been attempted.
func (b *Broadcaster) cleanup(ep *Episode) {
	for _, f := range []string{ep.LocalFile, ep.CompressedFile} {
		if f == "" {
			continue
		}
		if err := b.storage.Remove(f); err != nil {
			b.log.Warn("remove staged file", logx.String("file", f), logx.Err(err))
		}
	}
	ep.LocalFile = ""
	ep.CompressedFile = ""
}
