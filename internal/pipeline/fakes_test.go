package pipeline

import (
	"context"
	"sync"
	"time"

	"podnotify/internal/feed"
	"podnotify/internal/store"
	"podnotify/internal/transport"
)

type checkRec struct {
	podcastID int64
	ok        bool
}

type fakeStore struct {
	mu        sync.Mutex
	podcasts  []store.Podcast
	followers map[int64][]int64
	checks    []checkRec
	patches   []store.MetaPatch
	markers   map[int64]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		followers: map[int64][]int64{},
		markers:   map[int64]time.Time{},
	}
}

func (f *fakeStore) ListPodcasts(ctx context.Context) ([]store.Podcast, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Podcast(nil), f.podcasts...), nil
}

func (f *fakeStore) Followers(ctx context.Context, podcastID int64) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.followers[podcastID], nil
}

func (f *fakeStore) SaveCheck(ctx context.Context, podcastID int64, at time.Time, ok bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks = append(f.checks, checkRec{podcastID: podcastID, ok: ok})
	return nil
}

func (f *fakeStore) SaveMeta(ctx context.Context, podcastID int64, patch store.MetaPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, patch)
	return nil
}

func (f *fakeStore) SaveLatestEpisodeAt(ctx context.Context, podcastID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.markers[podcastID]; !ok || at.After(cur) {
		f.markers[podcastID] = at
	}
	return nil
}

func (f *fakeStore) Close() error { return nil }

type fakeFetcher struct {
	mu    sync.Mutex
	feeds map[string]*feed.Feed
	errs  map[string]error
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{feeds: map[string]*feed.Feed{}, errs: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*feed.Feed, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.feeds[url], nil
}

type sentAudio struct {
	userID int64
	src    transport.AudioSource
}

// fakeSender scripts per-user failures and records every call.
type fakeSender struct {
	mu sync.Mutex

	textErrs  map[int64]error
	audioErrs map[int64]error
	// textFailOnce makes the first text send to any user fail with this
	// error, succeeding afterwards.
	textFailOnce error

	fileID string

	texts   []int64
	actions []int64
	audios  []sentAudio
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		textErrs:  map[int64]error{},
		audioErrs: map[int64]error{},
		fileID:    "file-id-1",
	}
}

func (f *fakeSender) SendText(ctx context.Context, userID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textFailOnce != nil {
		err := f.textFailOnce
		f.textFailOnce = nil
		return transport.MessageRef{}, err
	}
	if err := f.textErrs[userID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.texts = append(f.texts, userID)
	return transport.MessageRef{MessageID: len(f.texts)}, nil
}

func (f *fakeSender) SendChatAction(ctx context.Context, userID int64, action transport.ChatAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, userID)
	return nil
}

func (f *fakeSender) SendAudio(ctx context.Context, userID int64, src transport.AudioSource, meta transport.AudioMeta) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.audioErrs[userID]; err != nil {
		return transport.MessageRef{}, err
	}
	f.audios = append(f.audios, sentAudio{userID: userID, src: src})
	return transport.MessageRef{MessageID: 100 + len(f.audios), AudioFileID: f.fileID}, nil
}
