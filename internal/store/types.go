package store

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

var ErrNotFound = errors.New("podcast not found")

// Podcast is the tracked-feed document. The bot frontend owns creation and
// deletion; the notifier only reads rows and patches poll bookkeeping.
type Podcast struct {
	ID          int64
	FeedURL     string
	Title       string
	TitleSlug   string
	Link        string
	CoverURL    string
	Description string

	LastCheckAt time.Time
	LastCheckOK bool

	// LatestEpisodeAt is the publication time of the most recent episode
	// already processed; nil until the first episode is seen. Monotonically
	// non-decreasing per podcast.
	LatestEpisodeAt *time.Time
}

// MetaPatch carries only the metadata fields that actually changed.
// Nil pointer = leave as-is.
type MetaPatch struct {
	Title       *string
	TitleSlug   *string
	Link        *string
	CoverURL    *string
	Description *string
}

func (p MetaPatch) IsZero() bool {
	return p.Title == nil && p.Link == nil && p.CoverURL == nil && p.Description == nil
}

// DiffMeta compares stored metadata against freshly fetched values and
// returns a patch of the differing fields. A title change also refreshes
// the slug.
func (p *Podcast) DiffMeta(title, link, coverURL, description string) MetaPatch {
	var patch MetaPatch
	if title != "" && title != p.Title {
		patch.Title = &title
		slug := TitleSlug(title)
		patch.TitleSlug = &slug
	}
	if link != p.Link {
		patch.Link = &link
	}
	if coverURL != p.CoverURL {
		patch.CoverURL = &coverURL
	}
	if description != p.Description {
		patch.Description = &description
	}
	return patch
}

// TitleSlug lowercases a title and strips whitespace and punctuation,
// giving a compact search key ("Accidental Tech Podcast" -> "accidentaltechpodcast").
func TitleSlug(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Store is the persistence API the pipeline consumes.
type Store interface {
	ListPodcasts(ctx context.Context) ([]Podcast, error)
	// Followers returns the user ids subscribed to a podcast.
	Followers(ctx context.Context, podcastID int64) ([]int64, error)
	// SaveCheck records poll bookkeeping regardless of outcome.
	SaveCheck(ctx context.Context, podcastID int64, at time.Time, ok bool) error
	// SaveMeta applies a metadata patch; a zero patch is a no-op.
	SaveMeta(ctx context.Context, podcastID int64, patch MetaPatch) error
	// SaveLatestEpisodeAt advances the latest-episode marker. Writes that
	// would move the marker backwards are ignored.
	SaveLatestEpisodeAt(ctx context.Context, podcastID int64, at time.Time) error
	Close() error
}
