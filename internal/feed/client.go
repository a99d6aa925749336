// Package feed fetches a podcast feed URL and normalizes it down to what the
// notifier cares about: current metadata and the single newest episode.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Audio enclosure mime types we can deliver. Everything else (video, torrents,
// octet-stream mirrors) is treated as "no audio".
var supportedEnclosureTypes = map[string]bool{
	"audio/mpeg": true,
	"audio/mp3":  true,
}

type Enclosure struct {
	URL       string
	SizeBytes int64
}

type Episode struct {
	Title       string
	Link        string
	Description string
	PublishedAt time.Time
	Audio       *Enclosure
}

// Feed is the normalized view of a podcast feed. Title is the only required
// field; LatestEpisode is nil for feeds with no dated items.
type Feed struct {
	Title         string
	Link          string
	Description   string
	CoverURL      string
	LatestEpisode *Episode
}

// Fetcher is the seam the poller depends on (mockable in tests).
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Feed, error)
}

type Client struct {
	http   *http.Client
	parser *gofeed.Parser
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		parser: gofeed.NewParser(),
	}
}

func (c *Client) Fetch(ctx context.Context, url string) (*Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindFormat, URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "podnotify/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &FetchError{Kind: KindTransient, URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{Kind: KindTransient, URL: url, Err: fmt.Errorf("status %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return nil, &FetchError{Kind: KindFormat, URL: url, Err: fmt.Errorf("status %s", resp.Status)}
	}

	parsed, err := c.parser.Parse(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: KindFormat, URL: url, Err: err}
	}

	return normalize(url, parsed)
}

func normalize(url string, in *gofeed.Feed) (*Feed, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, &FetchError{Kind: KindValidation, URL: url, Err: errors.New("feed has no title")}
	}

	out := &Feed{
		Title:       title,
		Link:        in.Link,
		Description: in.Description,
	}
	if in.Image != nil {
		out.CoverURL = in.Image.URL
	}
	out.LatestEpisode = latestEpisode(in.Items)
	return out, nil
}

// latestEpisode picks the newest dated item. Feeds are not required to be
// ordered, so scan all items. Items without a publication date cannot take
// part in new-episode detection and are skipped.
func latestEpisode(items []*gofeed.Item) *Episode {
	var newest *gofeed.Item
	for _, it := range items {
		if it == nil || it.PublishedParsed == nil {
			continue
		}
		if newest == nil || it.PublishedParsed.After(*newest.PublishedParsed) {
			newest = it
		}
	}
	if newest == nil {
		return nil
	}

	ep := &Episode{
		Title:       strings.TrimSpace(newest.Title),
		Link:        newest.Link,
		Description: newest.Description,
		PublishedAt: newest.PublishedParsed.UTC(),
	}
	ep.Audio = firstAudioEnclosure(newest.Enclosures)
	return ep
}

func firstAudioEnclosure(encs []*gofeed.Enclosure) *Enclosure {
	for _, enc := range encs {
		if enc == nil || enc.URL == "" {
			continue
		}
		if !supportedEnclosureTypes[strings.ToLower(enc.Type)] {
			continue
		}
		size, err := strconv.ParseInt(enc.Length, 10, 64)
		if err != nil || size <= 0 {
			continue
		}
		return &Enclosure{URL: enc.URL, SizeBytes: size}
	}
	return nil
}
