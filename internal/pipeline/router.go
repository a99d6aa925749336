package pipeline

import (
	"context"

	"podnotify/pkg/logx"
)

// Limits are the two size thresholds that decide an episode's path.
type Limits struct {
	// PlatformBytes is the largest audio the platform accepts natively.
	PlatformBytes int64
	// AbsoluteBytes is the largest audio this process will download at all.
	AbsoluteBytes int64
}

// Router places a freshly detected episode on the right queue by audio size.
type Router struct {
	limits Limits
	queues *Queues
	log    logx.Logger
}

func NewRouter(limits Limits, queues *Queues, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{limits: limits, queues: queues, log: log}
}

func (r *Router) Route(ctx context.Context, ep *Episode) error {
	size := ep.AudioSizeBytes
	switch {
	case size <= r.limits.PlatformBytes:
		// Small enough to hand the platform the remote URL directly.
		ep.DeliverableAsAudio = true
		r.log.Debug("episode routed to broadcast",
			logx.String("episode", ep.Title), logx.Int64("size", size))
		return enqueue(ctx, r.queues.Broadcast, ep)

	case size <= r.limits.AbsoluteBytes:
		ep.DeliverableAsAudio = true
		r.log.Debug("episode routed to download",
			logx.String("episode", ep.Title), logx.Int64("size", size))
		return enqueue(ctx, r.queues.Download, ep)

	default:
		// Too big to ever process; recipients get text with a link.
		ep.DeliverableAsAudio = false
		r.log.Info("episode audio exceeds absolute limit, text-only delivery",
			logx.String("episode", ep.Title), logx.Int64("size", size))
		return enqueue(ctx, r.queues.Broadcast, ep)
	}
}
