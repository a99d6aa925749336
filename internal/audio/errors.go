package audio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// DownloadError wraps a failed enclosure fetch. Transient is set for network
// level failures and retryable HTTP statuses.
type DownloadError struct {
	URL       string
	Transient bool
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// CompressError wraps a failed ffprobe/ffmpeg invocation. Never transient:
// a file that fails to transcode will fail again.
type CompressError struct {
	Path string
	Err  error
}

func (e *CompressError) Error() string {
	return fmt.Sprintf("compress %s: %v", e.Path, e.Err)
}

func (e *CompressError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a download failure worth retrying.
func IsTransient(err error) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Transient
}

func transientNetErr(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}
