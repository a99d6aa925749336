package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podnotify/internal/audio"
	"podnotify/internal/retry"
	"podnotify/internal/transport"
	"podnotify/pkg/logx"
)

func newTestBroadcaster(t *testing.T, sender *fakeSender) (*Broadcaster, *audio.Storage) {
	t.Helper()
	storage, err := audio.NewStorage(audio.Config{Dir: t.TempDir()}, logx.Nop())
	require.NoError(t, err)
	b := NewBroadcaster(BroadcasterConfig{
		RatePerSec: 1000,
		SendRetry:  retry.Policy{Attempts: 2, Base: time.Millisecond, MaxDelay: time.Millisecond},
	}, sender, storage, NewQueues(1), logx.Nop())
	return b, storage
}

func deliverableEpisode(followers ...int64) *Episode {
	return &Episode{
		PodcastTitle:       "Show",
		Title:              "Ep",
		AudioURL:           "https://example.org/ep.mp3",
		AudioSizeBytes:     1000,
		Followers:          followers,
		DeliverableAsAudio: true,
	}
}

func TestBroadcastDeliversToAllRecipients(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	b, _ := newTestBroadcaster(t, sender)

	b.broadcast(context.Background(), deliverableEpisode(10, 20, 30))

	assert.Equal(t, []int64{10, 20, 30}, sender.texts)
	require.Len(t, sender.audios, 3)
}

func TestBroadcastForbiddenRecipientSkipsAudio(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	sender.textErrs[10] = transport.ErrForbidden
	b, _ := newTestBroadcaster(t, sender)

	b.broadcast(context.Background(), deliverableEpisode(10, 20))

	// The blocked recipient never gets an audio attempt; the next one does.
	assert.Equal(t, []int64{20}, sender.texts)
	require.Len(t, sender.audios, 1)
	assert.Equal(t, int64(20), sender.audios[0].userID)
}

func TestBroadcastReusesFileID(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	b, _ := newTestBroadcaster(t, sender)

	b.broadcast(context.Background(), deliverableEpisode(10, 20, 30))

	require.Len(t, sender.audios, 3)
	// First upload goes by URL, later ones reuse the platform handle.
	assert.Empty(t, sender.audios[0].src.FileID)
	assert.Equal(t, "https://example.org/ep.mp3", sender.audios[0].src.RemoteURL)
	assert.Equal(t, "file-id-1", sender.audios[1].src.FileID)
	assert.Equal(t, "file-id-1", sender.audios[2].src.FileID)
}

func TestBroadcastTextOnlyEpisodeSendsNoAudio(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	b, _ := newTestBroadcaster(t, sender)

	ep := deliverableEpisode(10, 20)
	ep.DeliverableAsAudio = false
	b.broadcast(context.Background(), ep)

	assert.Equal(t, []int64{10, 20}, sender.texts)
	assert.Empty(t, sender.audios)
	assert.Empty(t, sender.actions)
}

func TestBroadcastRetriesTransientTextError(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	sender.textFailOnce = transport.Transient(errors.New("flood"))
	b, _ := newTestBroadcaster(t, sender)

	b.broadcast(context.Background(), deliverableEpisode(10))

	assert.Equal(t, []int64{10}, sender.texts)
	assert.Len(t, sender.audios, 1)
}

func TestBroadcastAudioFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	sender.audioErrs[10] = errors.New("file too big")
	b, _ := newTestBroadcaster(t, sender)

	b.broadcast(context.Background(), deliverableEpisode(10, 20))

	assert.Equal(t, []int64{10, 20}, sender.texts)
	require.Len(t, sender.audios, 1)
	assert.Equal(t, int64(20), sender.audios[0].userID)
}

func TestBroadcastPrefersCompressedFile(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	sender.fileID = "" // platform issues no handle, force path reuse
	b, storage := newTestBroadcaster(t, sender)

	ep := deliverableEpisode(10)
	ep.LocalFile = "abcdefg.mp3"
	ep.CompressedFile = "abcdefg_compressed.mp3"
	b.broadcast(context.Background(), ep)

	require.Len(t, sender.audios, 1)
	assert.Equal(t, storage.Path("abcdefg_compressed.mp3"), sender.audios[0].src.LocalPath)
}

func TestBroadcasterApplyRetunesAtRuntime(t *testing.T) {
	t.Parallel()

	b, _ := newTestBroadcaster(t, newFakeSender())

	pol := retry.Policy{Attempts: 4, Base: 2 * time.Second, MaxDelay: 30 * time.Second}
	b.Apply(BroadcasterConfig{RatePerSec: 7, SendRetry: pol})
	assert.Equal(t, float64(7), float64(b.limiter.Limit()))
	assert.Equal(t, 7, b.limiter.Burst())
	assert.Equal(t, pol, b.sendRetry())

	// A zero rate falls back to the default instead of blocking sends.
	b.Apply(BroadcasterConfig{})
	assert.Equal(t, float64(3), float64(b.limiter.Limit()))
}

func TestCleanupRemovesStagedFiles(t *testing.T) {
	t.Parallel()

	sender := newFakeSender()
	b, storage := newTestBroadcaster(t, sender)

	require.NoError(t, os.WriteFile(storage.Path("abcdefg.mp3"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(storage.Path("abcdefg_compressed.mp3"), []byte("x"), 0o644))

	ep := deliverableEpisode(10)
	ep.LocalFile = "abcdefg.mp3"
	ep.CompressedFile = "abcdefg_compressed.mp3"
	b.cleanup(ep)

	assert.NoFileExists(t, storage.Path("abcdefg.mp3"))
	assert.NoFileExists(t, storage.Path("abcdefg_compressed.mp3"))
	assert.Empty(t, ep.LocalFile)
	assert.Empty(t, ep.CompressedFile)
}
