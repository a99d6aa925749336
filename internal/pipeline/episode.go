// Package pipeline wires episode detection to delivery: a poller feeds
// download, compress and broadcast stages connected by bounded queues.
package pipeline

import "time"

// Episode is the unit of work flowing through the stages. It is owned by
// exactly one stage at a time, so fields are mutated without locking.
type Episode struct {
	PodcastID    int64
	PodcastTitle string
	PodcastLink  string
	PodcastSlug  string
	CoverURL     string

	Title       string
	Link        string
	Description string
	PublishedAt time.Time

	AudioURL       string
	AudioSizeBytes int64

	Followers []int64

	// DeliverableAsAudio is cleared when the audio exceeds the absolute
	// limit or a download/compress step fails; recipients then get text
	// with a direct link only.
	DeliverableAsAudio bool

	// LocalFile and CompressedFile are staged filenames, set by the
	// download and compress stages respectively.
	LocalFile      string
	CompressedFile string

	// FileID is the platform handle cached after the first successful
	// audio upload and reused for the remaining recipients. Scoped to
	// this episode instance only.
	FileID string
}
