package transport

import "context"

// AudioSource selects where the platform should take the audio payload from.
// Exactly one field is expected to be set; preference when several are set is
// FileID > LocalPath > RemoteURL (a file id re-send is free, an upload is not).
type AudioSource struct {
	FileID    string // platform file identifier from a previous upload
	LocalPath string // file on local disk
	RemoteURL string // let the platform fetch the file itself
}

// AudioMeta is presentation metadata attached to an audio send.
type AudioMeta struct {
	Title        string
	Performer    string
	FileName     string
	ThumbnailURL string
}

type MessageRef struct {
	MessageID int
	// AudioFileID is the platform-issued handle for the uploaded audio,
	// empty for text messages.
	AudioFileID string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// ChatAction is a best-effort presence hint shown to the recipient.
type ChatAction string

const (
	ActionUploadingAudio ChatAction = "uploading_audio"
)

// Sender is the messaging-platform surface the pipeline needs.
type Sender interface {
	SendText(ctx context.Context, userID int64, text string, opt *SendOptions) (MessageRef, error)
	SendChatAction(ctx context.Context, userID int64, action ChatAction) error
	SendAudio(ctx context.Context, userID int64, src AudioSource, meta AudioMeta) (MessageRef, error)
}
