package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"podnotify/internal/feed"
	"podnotify/internal/retry"
	"podnotify/internal/store"
	"podnotify/pkg/logx"
)

const (
	testPlatformLimit = 49 << 20
	testAbsoluteLimit = 2 << 30
)

func newTestPoller(st *fakeStore, fetcher *fakeFetcher) (*Poller, *Queues) {
	queues := NewQueues(8)
	router := NewRouter(Limits{PlatformBytes: testPlatformLimit, AbsoluteBytes: testAbsoluteLimit}, queues, logx.Nop())
	p := NewPoller(PollerConfig{
		Interval:   time.Minute,
		FetchRetry: retry.Policy{Attempts: 2, Base: time.Millisecond, MaxDelay: time.Millisecond},
	}, st, fetcher, router, logx.Nop())
	return p, queues
}

func testFeed(publishedAt time.Time, sizeBytes int64) *feed.Feed {
	return &feed.Feed{
		Title: "My Show",
		Link:  "https://example.org",
		LatestEpisode: &feed.Episode{
			Title:       "Episode 1",
			Link:        "https://example.org/ep1",
			PublishedAt: publishedAt,
			Audio:       &feed.Enclosure{URL: "https://example.org/ep1.mp3", SizeBytes: sizeBytes},
		},
	}
}

func TestCycleSkipsPodcastsWithoutFollowers(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.podcasts = []store.Podcast{{ID: 1, FeedURL: "https://a.example/feed.xml"}}
	fetcher := newFakeFetcher()

	p, queues := newTestPoller(st, fetcher)
	p.Cycle(context.Background())

	assert.Empty(t, fetcher.calls)
	assert.Empty(t, st.checks)
	assert.Empty(t, queues.Broadcast)
}

func TestCycleDetectsNewEpisode(t *testing.T) {
	t.Parallel()

	oldMarker := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	published := oldMarker.Add(24 * time.Hour)

	st := newFakeStore()
	st.podcasts = []store.Podcast{{ID: 1, FeedURL: "https://a.example/feed.xml", LatestEpisodeAt: &oldMarker}}
	st.followers[1] = []int64{10, 20}
	fetcher := newFakeFetcher()
	fetcher.feeds["https://a.example/feed.xml"] = testFeed(published, 1000)

	p, queues := newTestPoller(st, fetcher)
	p.Cycle(context.Background())

	// Marker advanced immediately, independent of broadcast outcome.
	assert.Equal(t, published, st.markers[1])
	require.Len(t, st.checks, 1)
	assert.True(t, st.checks[0].ok)

	require.Len(t, queues.Broadcast, 1)
	ep := <-queues.Broadcast
	assert.Equal(t, "Episode 1", ep.Title)
	assert.Equal(t, []int64{10, 20}, ep.Followers)
	assert.True(t, ep.DeliverableAsAudio)
}

func TestCycleAbsentMarkerCountsAsNew(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.podcasts = []store.Podcast{{ID: 1, FeedURL: "https://a.example/feed.xml"}}
	st.followers[1] = []int64{10}
	fetcher := newFakeFetcher()
	fetcher.feeds["https://a.example/feed.xml"] = testFeed(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 1000)

	p, queues := newTestPoller(st, fetcher)
	p.Cycle(context.Background())

	assert.Len(t, queues.Broadcast, 1)
}

func TestCycleIgnoresStaleEpisode(t *testing.T) {
	t.Parallel()

	marker := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	st := newFakeStore()
	st.podcasts = []store.Podcast{{ID: 1, FeedURL: "https://a.example/feed.xml", LatestEpisodeAt: &marker}}
	st.followers[1] = []int64{10}
	fetcher := newFakeFetcher()
	fetcher.feeds["https://a.example/feed.xml"] = testFeed(marker, 1000) // same timestamp, not strictly newer

	p, queues := newTestPoller(st, fetcher)
	p.Cycle(context.Background())

	assert.Empty(t, queues.Broadcast)
	assert.Empty(t, st.markers)
}

func TestCycleDiscardsEpisodeWithoutAudio(t *testing.T) {
	t.Parallel()

	published := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	f := testFeed(published, 1000)
	f.LatestEpisode.Audio = nil

	st := newFakeStore()
	st.podcasts = []store.Podcast{{ID: 1, FeedURL: "https://a.example/feed.xml"}}
	st.followers[1] = []int64{10}
	fetcher := newFakeFetcher()
	fetcher.feeds["https://a.example/feed.xml"] = f

	p, queues := newTestPoller(st, fetcher)
	p.Cycle(context.Background())

	// Marker still advances so the episode is not re-detected forever.
	assert.Equal(t, published, st.markers[1])
	assert.Empty(t, queues.Broadcast)
}

func TestCycleRecordsFailureAndContinues(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.podcasts = []store.Podcast{
		{ID: 1, FeedURL: "https://broken.example/feed.xml", Title: "Broken"},
		{ID: 2, FeedURL: "https://ok.example/feed.xml"},
	}
	st.followers[1] = []int64{10}
	st.followers[2] = []int64{20}

	fetcher := newFakeFetcher()
	fetcher.errs["https://broken.example/feed.xml"] = &feed.FetchError{
		Kind: feed.KindValidation, URL: "https://broken.example/feed.xml",
	}
	fetcher.feeds["https://ok.example/feed.xml"] = testFeed(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 1000)

	p, queues := newTestPoller(st, fetcher)
	p.Cycle(context.Background())

	require.Len(t, st.checks, 2)
	assert.Equal(t, checkRec{podcastID: 1, ok: false}, st.checks[0])
	assert.Equal(t, checkRec{podcastID: 2, ok: true}, st.checks[1])
	// Validation errors are permanent; no retry.
	assert.Len(t, fetcher.calls, 2)
	// Metadata of the broken podcast untouched.
	assert.Len(t, st.patches, 1)
	assert.Len(t, queues.Broadcast, 1)
}

func TestPollerApplyRetunesAtRuntime(t *testing.T) {
	t.Parallel()

	p, _ := newTestPoller(newFakeStore(), newFakeFetcher())

	p.Apply(PollerConfig{
		Interval:   5 * time.Second,
		FetchRetry: retry.Policy{Attempts: 7, Base: 2 * time.Second, MaxDelay: 20 * time.Second},
	})
	got := p.snapshot()
	assert.Equal(t, 5*time.Second, got.Interval)
	assert.Equal(t, 7, got.FetchRetry.Attempts)

	// A zero interval falls back to the default rather than spinning.
	p.Apply(PollerConfig{})
	assert.Equal(t, time.Minute, p.snapshot().Interval)
}

func TestCycleUpdatesMetadata(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	st.podcasts = []store.Podcast{{ID: 1, FeedURL: "https://a.example/feed.xml", Title: "Stale Title"}}
	st.followers[1] = []int64{10}
	fetcher := newFakeFetcher()
	f := testFeed(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), 1000)
	f.LatestEpisode = nil
	fetcher.feeds["https://a.example/feed.xml"] = f

	p, _ := newTestPoller(st, fetcher)
	p.Cycle(context.Background())

	require.Len(t, st.patches, 1)
	require.NotNil(t, st.patches[0].Title)
	assert.Equal(t, "My Show", *st.patches[0].Title)
}
