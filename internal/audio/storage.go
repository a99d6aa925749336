// Package audio stages episode files on disk: downloading enclosures,
// transcoding them under the platform upload limit, and pruning leftovers.
package audio

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"podnotify/pkg/logx"
)

type Config struct {
	// Dir is the scratch directory for staged files.
	Dir string
	// DownloadTimeout bounds a single enclosure download.
	DownloadTimeout time.Duration
}

type Storage struct {
	dir  string
	http *http.Client
	log  logx.Logger
}

func NewStorage(cfg Config, log logx.Logger) (*Storage, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("audio dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	timeout := cfg.DownloadTimeout
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Storage{
		dir:  cfg.Dir,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}, nil
}

// Path resolves a staged filename to its absolute location.
func (s *Storage) Path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// Download streams the enclosure at url into the scratch directory and
// returns the generated filename.
func (s *Storage) Download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &DownloadError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "podnotify/1.0")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", &DownloadError{URL: url, Transient: transientNetErr(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{
			URL:       url,
			Transient: resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			Err:       fmt.Errorf("status %s", resp.Status),
		}
	}

	name := randomFilename()
	f, err := os.Create(s.Path(name))
	if err != nil {
		return "", &DownloadError{URL: url, Err: err}
	}

	written, err := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(s.Path(name))
		return "", &DownloadError{URL: url, Transient: transientNetErr(err), Err: err}
	}

	s.log.Debug("enclosure downloaded",
		logx.String("file", name),
		logx.Int64("bytes", written))
	return name, nil
}

// Remove deletes a staged file. Missing files are not an error.
func (s *Storage) Remove(filename string) error {
	err := os.Remove(s.Path(filename))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// PruneOlderThan removes staged files whose modification time is older than
// maxAge and returns how many were deleted. Crash-orphaned downloads are the
// usual catch.
func (s *Storage) PruneOlderThan(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)

	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.log.Info("pruned stale audio files", logx.Int("count", removed))
	}
	return removed, nil
}

const filenameAlphabet = "abcdefghijklmnopqrstuvwxyz"

func randomFilename() string {
	b := make([]byte, 7)
	for i := range b {
		b[i] = filenameAlphabet[rand.Intn(len(filenameAlphabet))]
	}
	return string(b) + ".mp3"
}
