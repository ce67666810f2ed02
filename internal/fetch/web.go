package fetch

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL   = "https://t.me"
	defaultUserAgent = "channelwatch-scraper/1.0"
	requestTimeout   = 15 * time.Second

	// maxPages bounds how far back the pagination walks for one window.
	maxPages = 50
)

// WebFetcher reads public channel history from the t.me/s/<channel>
// web preview pages. It needs no platform credentials but only sees
// what the preview exposes: message id, date, text and view counter.
type WebFetcher struct {
	client  *http.Client
	baseURL string
}

// NewWebFetcher creates a fetcher with a default HTTP client.
func NewWebFetcher() *WebFetcher {
	return &WebFetcher{
		client:  &http.Client{Timeout: requestTimeout},
		baseURL: defaultBaseURL,
	}
}

// NewWebFetcherWithBase creates a fetcher against a custom base URL.
// Used by tests to point at a local server.
func NewWebFetcherWithBase(client *http.Client, baseURL string) *WebFetcher {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &WebFetcher{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchWindow pages backwards through the channel preview until it
// passes the start of the window, then returns the in-window posts in
// chronological order.
func (f *WebFetcher) FetchWindow(ctx context.Context, channel string, start, end time.Time) ([]RawPost, error) {
	var collected []RawPost
	before := int64(0)

	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return collected, err
		}

		posts, err := f.fetchPage(ctx, channel, before)
		if err != nil {
			return nil, err
		}
		if len(posts) == 0 {
			break
		}

		reachedStart := false
		minID := int64(math.MaxInt64)
		for _, p := range posts {
			if p.MessageID > 0 && p.MessageID < minID {
				minID = p.MessageID
			}
			if !p.PostedAt.IsZero() && p.PostedAt.Before(start) {
				reachedStart = true
				continue
			}
			if !p.PostedAt.IsZero() && !p.PostedAt.Before(end) {
				continue
			}
			collected = append(collected, p)
		}

		if reachedStart || minID == math.MaxInt64 || minID <= 1 {
			break
		}
		before = minID
	}

	sort.Slice(collected, func(i, j int) bool {
		return collected[i].MessageID < collected[j].MessageID
	})

	log.Debug().
		Str("channel", channel).
		Int("posts", len(collected)).
		Time("start", start).
		Time("end", end).
		Msg("Fetched channel window")

	return collected, nil
}

// fetchPage retrieves and parses one preview page. A before of 0 means
// the most recent page.
func (f *WebFetcher) fetchPage(ctx context.Context, channel string, before int64) ([]RawPost, error) {
	pageURL := fmt.Sprintf("%s/s/%s", f.baseURL, url.PathEscape(channel))
	if before > 0 {
		pageURL += fmt.Sprintf("?before=%d", before)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &ChannelUnavailableError{Channel: channel, Err: err}
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &ChannelUnavailableError{Channel: channel, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ChannelUnavailableError{
			Channel: channel,
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &ChannelUnavailableError{Channel: channel, Err: err}
	}

	// Private or nonexistent channels render a landing page without a
	// history container.
	if doc.Find(".tgme_channel_history").Length() == 0 {
		return nil, &ChannelUnavailableError{
			Channel: channel,
			Err:     fmt.Errorf("no public history"),
		}
	}

	var posts []RawPost
	doc.Find(".tgme_widget_message").Each(func(_ int, s *goquery.Selection) {
		posts = append(posts, parseMessage(channel, s))
	})
	return posts, nil
}

// parseMessage extracts one raw post from a message widget. Missing
// attributes leave zero values for the normalizer to reject.
func parseMessage(channel string, s *goquery.Selection) RawPost {
	var raw RawPost

	if dataPost, ok := s.Attr("data-post"); ok {
		if idx := strings.LastIndex(dataPost, "/"); idx >= 0 {
			if id, err := strconv.ParseInt(dataPost[idx+1:], 10, 64); err == nil {
				raw.MessageID = id
			}
		}
	}

	if datetime, ok := s.Find(".tgme_widget_message_date time").Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, datetime); err == nil {
			raw.PostedAt = ts.UTC()
		}
	}

	raw.Text = s.Find(".tgme_widget_message_text").Text()

	viewsText := strings.TrimSpace(s.Find(".tgme_widget_message_views").Text())
	if viewsText != "" {
		if views, err := parseCompactCount(viewsText); err == nil {
			raw.Views = &views
		} else {
			log.Debug().Str("channel", channel).Str("views", viewsText).Msg("Unparseable view counter")
		}
	}

	return raw
}

// parseCompactCount parses the preview's abbreviated counters, e.g.
// "927", "1.2K", "3.4M".
func parseCompactCount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1e3
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1e6
		s = strings.TrimSuffix(s, "M")
	}

	value, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid counter %q: %w", s, err)
	}
	return int64(value * multiplier), nil
}
