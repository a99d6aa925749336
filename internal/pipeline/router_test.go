package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podnotify/pkg/logx"
)

func TestRouteBySize(t *testing.T) {
	t.Parallel()

	const (
		platform = 100
		absolute = 1000
	)

	tests := []struct {
		name        string
		size        int64
		wantQueue   string
		deliverable bool
	}{
		{name: "within platform limit", size: 100, wantQueue: "broadcast", deliverable: true},
		{name: "needs download", size: 101, wantQueue: "download", deliverable: true},
		{name: "at absolute limit", size: 1000, wantQueue: "download", deliverable: true},
		{name: "over absolute limit", size: 1001, wantQueue: "broadcast", deliverable: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			queues := NewQueues(1)
			r := NewRouter(Limits{PlatformBytes: platform, AbsoluteBytes: absolute}, queues, logx.Nop())

			ep := &Episode{Title: "ep", AudioSizeBytes: tt.size}
			require.NoError(t, r.Route(context.Background(), ep))

			var got *Episode
			switch tt.wantQueue {
			case "broadcast":
				require.Len(t, queues.Broadcast, 1)
				assert.Empty(t, queues.Download)
				got = <-queues.Broadcast
			case "download":
				require.Len(t, queues.Download, 1)
				assert.Empty(t, queues.Broadcast)
				got = <-queues.Download
			}
			assert.Equal(t, tt.deliverable, got.DeliverableAsAudio)
		})
	}
}

func TestEnqueueBlocksUntilCancelled(t *testing.T) {
	t.Parallel()

	queues := NewQueues(1)
	queues.Broadcast <- &Episode{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := enqueue(ctx, queues.Broadcast, &Episode{})
	assert.ErrorIs(t, err, context.Canceled)
}
