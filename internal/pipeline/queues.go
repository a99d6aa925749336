package pipeline

import "context"

// Queues are the bounded channels between stages. A full queue blocks the
// producer, which backpressures all the way up to the poller.
type Queues struct {
	Download  chan *Episode
	Compress  chan *Episode
	Broadcast chan *Episode
}

func NewQueues(size int) *Queues {
	if size <= 0 {
		size = 64
	}
	return &Queues{
		Download:  make(chan *Episode, size),
		Compress:  make(chan *Episode, size),
		Broadcast: make(chan *Episode, size),
	}
}

// Depths reports current occupancy, for debug logging.
func (q *Queues) Depths() (download, compress, broadcast int) {
	return len(q.Download), len(q.Compress), len(q.Broadcast)
}

func enqueue(ctx context.Context, ch chan<- *Episode, ep *Episode) error {
	select {
	case ch <- ep:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
