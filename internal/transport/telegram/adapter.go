package telegram

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"podnotify/internal/transport"
	"podnotify/pkg/logx"
)

type Config struct {
	Token string
	// UploadTimeout bounds a single API call including file transfer.
	// Audio uploads can legitimately take many minutes.
	UploadTimeout time.Duration
}

// Adapter implements transport.Sender on top of the Telegram bot API.
// It is send-only: the notifier never consumes updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: timeout},
		// No poller: this process only sends.
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) SendText(ctx context.Context, userID int64, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	m, err := a.bot.Send(tele.ChatID(userID), text, sendOptions(opt))
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	return transport.MessageRef{MessageID: m.ID}, nil
}

func (a *Adapter) SendChatAction(ctx context.Context, userID int64, action transport.ChatAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.Notify(tele.ChatID(userID), chatAction(action)); err != nil {
		return classify(err)
	}
	return nil
}

func (a *Adapter) SendAudio(ctx context.Context, userID int64, src transport.AudioSource, meta transport.AudioMeta) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}

	audio := &tele.Audio{
		File:      audioFile(src),
		Title:     meta.Title,
		Performer: meta.Performer,
		FileName:  meta.FileName,
		MIME:      "audio/mpeg",
	}
	if meta.ThumbnailURL != "" {
		audio.Thumbnail = &tele.Photo{File: tele.FromURL(meta.ThumbnailURL)}
	}

	m, err := a.bot.Send(tele.ChatID(userID), audio)
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	ref := transport.MessageRef{MessageID: m.ID}
	if m.Audio != nil {
		ref.AudioFileID = m.Audio.FileID
	}
	return ref, nil
}

func audioFile(src transport.AudioSource) tele.File {
	switch {
	case src.FileID != "":
		return tele.File{FileID: src.FileID}
	case src.LocalPath != "":
		return tele.FromDisk(src.LocalPath)
	default:
		return tele.FromURL(src.RemoteURL)
	}
}

func sendOptions(opt *transport.SendOptions) *tele.SendOptions {
	out := &tele.SendOptions{}
	if opt == nil {
		return out
	}
	out.ParseMode = opt.ParseMode
	out.DisableWebPagePreview = opt.DisablePreview
	return out
}

func chatAction(a transport.ChatAction) tele.ChatAction {
	switch a {
	case transport.ActionUploadingAudio:
		return tele.UploadingAudio
	default:
		return tele.Typing
	}
}

// classify maps raw telebot/network errors onto the transport taxonomy so the
// pipeline can switch on tags instead of platform error types.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrUserIsDeactivated) ||
		errors.Is(err, tele.ErrChatNotFound) {
		return errors.Join(transport.ErrForbidden, err)
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.Transient(err)
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusForbidden:
			return errors.Join(transport.ErrForbidden, err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return transport.Transient(err)
		default:
			// 4xx other than forbidden/flood: permanent for this send.
			return err
		}
	}

	// Anything below the API layer (DNS, reset connections, timeouts) is
	// worth another try.
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return transport.Transient(err)
	}
	return transport.Transient(err)
}
