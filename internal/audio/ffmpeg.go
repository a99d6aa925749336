package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"podnotify/pkg/logx"
)

// Swapped out in tests.
var execCommand = exec.CommandContext

// Compress transcodes a staged file down to a constant bitrate chosen so the
// result fits within targetBytes, writing "<name>_compressed.mp3" next to the
// input. The input file is left in place.
func (s *Storage) Compress(ctx context.Context, filename string, targetBytes int64) (string, error) {
	in := s.Path(filename)

	dur, err := s.probeDuration(ctx, in)
	if err != nil {
		return "", &CompressError{Path: in, Err: err}
	}
	kbps := bitrateKbps(targetBytes, dur)
	if kbps <= 0 {
		return "", &CompressError{Path: in, Err: fmt.Errorf("computed bitrate %d kbps for %ds", kbps, dur)}
	}

	out := compressedName(filename)
	cmd := execCommand(ctx, "ffmpeg",
		"-y",
		"-i", in,
		"-b:a", fmt.Sprintf("%dk", kbps),
		s.Path(out),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		_ = s.Remove(out)
		return "", &CompressError{Path: in, Err: fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String()))}
	}

	s.log.Debug("audio compressed",
		logx.String("file", filename),
		logx.String("out", out),
		logx.Int("bitrate_kbps", kbps))
	return out, nil
}

func (s *Storage) probeDuration(ctx context.Context, path string) (int64, error) {
	cmd := execCommand(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	raw, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", strings.TrimSpace(string(raw)), err)
	}
	if sec <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", sec)
	}
	return int64(sec), nil
}

// bitrateKbps picks the constant bitrate that fills targetBytes over the
// given duration: floor(bytes*8 / seconds / 1000).
func bitrateKbps(targetBytes, durationSec int64) int {
	if durationSec <= 0 {
		return 0
	}
	return int(targetBytes * 8 / durationSec / 1000)
}

func compressedName(filename string) string {
	ext := ".mp3"
	base := strings.TrimSuffix(filename, ext)
	return base + "_compressed" + ext
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	const max = 300
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
