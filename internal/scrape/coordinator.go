package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"channelwatch/scraper/internal/fetch"
	"channelwatch/scraper/internal/ingest"
	"channelwatch/scraper/internal/models"
	"channelwatch/scraper/internal/storage"
)

// ChannelReport aggregates the outcome of one channel's pass.
type ChannelReport struct {
	Fetched  int      `json:"fetched"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Failed   bool     `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

// Report aggregates one full ingestion pass.
type Report struct {
	PerChannel map[string]*ChannelReport `json:"per_channel"`
	Cancelled  bool                      `json:"cancelled"`
}

// ChannelsOK counts channels that completed without a channel-level
// failure.
func (r *Report) ChannelsOK() int {
	ok := 0
	for _, cr := range r.PerChannel {
		if !cr.Failed {
			ok++
		}
	}
	return ok
}

// TotalFetched sums processed posts across channels.
func (r *Report) TotalFetched() int {
	total := 0
	for _, cr := range r.PerChannel {
		total += cr.Fetched
	}
	return total
}

// Coordinator orchestrates one ingestion pass: fan-out across channels
// with a bounded worker pool, normalize, upsert, aggregate outcomes.
// Channels are isolated: one channel's failure never aborts another's
// batch.
type Coordinator struct {
	fetcher     fetch.Fetcher
	normalizer  *ingest.Normalizer
	repo        storage.PostRepository
	workerCount int
}

// NewCoordinator creates a coordinator. workerCount bounds concurrent
// channel fetches; values below 1 fall back to 1.
func NewCoordinator(fetcher fetch.Fetcher, normalizer *ingest.Normalizer, repo storage.PostRepository, workerCount int) *Coordinator {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Coordinator{
		fetcher:     fetcher,
		normalizer:  normalizer,
		repo:        repo,
		workerCount: workerCount,
	}
}

// Run executes one ingestion pass over the given channels for the
// lookback window [now - lookbackDays, now). Partial failures are
// recorded in the report; only invalid input returns an error.
func (c *Coordinator) Run(ctx context.Context, channels []string, lookbackDays int, now time.Time) (*Report, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: channel list is empty", models.ErrInvalidParameter)
	}
	if lookbackDays < 1 {
		return nil, fmt.Errorf("%w: lookback must be at least 1 day, got %d", models.ErrInvalidParameter, lookbackDays)
	}

	start := now.Add(-time.Duration(lookbackDays) * 24 * time.Hour)
	report := &Report{PerChannel: make(map[string]*ChannelReport, len(channels))}

	log.Info().
		Int("channels", len(channels)).
		Int("lookback_days", lookbackDays).
		Time("window_start", start).
		Time("window_end", now).
		Msg("Starting scrape pass")

	jobs := make(chan string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := c.workerCount
	if workers > len(channels) {
		workers = len(channels)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for channel := range jobs {
				cr := c.runChannel(ctx, channel, start, now)
				mu.Lock()
				report.PerChannel[channel] = cr
				if ctx.Err() != nil {
					report.Cancelled = true
				}
				mu.Unlock()
			}
		}()
	}

queueLoop:
	for _, channel := range channels {
		select {
		case jobs <- channel:
		case <-ctx.Done():
			// Workers may still be writing the report.
			mu.Lock()
			report.Cancelled = true
			mu.Unlock()
			break queueLoop
		}
	}
	close(jobs)
	wg.Wait()

	// Channels that were never dispatched still appear in the report.
	for _, channel := range channels {
		if _, ok := report.PerChannel[channel]; !ok {
			report.PerChannel[channel] = &ChannelReport{}
		}
	}

	log.Info().
		Int("channels_ok", report.ChannelsOK()).
		Int("posts", report.TotalFetched()).
		Bool("cancelled", report.Cancelled).
		Msg("Scrape pass finished")

	return report, nil
}

// runChannel processes a single channel's window. A channel-level fetch
// failure aborts only this channel; per-post failures are recorded and
// skipped.
func (c *Coordinator) runChannel(ctx context.Context, channel string, start, end time.Time) *ChannelReport {
	cr := &ChannelReport{}

	rawPosts, err := c.fetcher.FetchWindow(ctx, channel, start, end)
	if err != nil {
		var unavailable *fetch.ChannelUnavailableError
		if errors.As(err, &unavailable) {
			log.Warn().Str("channel", channel).Err(err).Msg("Channel unavailable, skipping")
		} else {
			log.Error().Str("channel", channel).Err(err).Msg("Channel fetch failed")
		}
		cr.Failed = true
		cr.Errors = append(cr.Errors, err.Error())
		return cr
	}

	ids := make([]int64, 0, len(rawPosts))
	for _, raw := range rawPosts {
		if raw.MessageID > 0 {
			ids = append(ids, raw.MessageID)
		}
	}
	known, err := c.repo.ExistingMessageIDs(ctx, channel, ids)
	if err != nil {
		// Purely an observability aid; upserts stay idempotent without it.
		log.Warn().Str("channel", channel).Err(err).Msg("Existence check failed")
		known = map[int64]struct{}{}
	}
	log.Debug().
		Str("channel", channel).
		Int("fetched", len(rawPosts)).
		Int("known", len(known)).
		Msg("Channel window fetched")

	// Posts arrive oldest-first so the first observation of a key fixes
	// its posted_at.
	for _, raw := range rawPosts {
		if ctx.Err() != nil {
			log.Info().Str("channel", channel).Msg("Cancellation requested, stopping channel mid-batch")
			return cr
		}

		post, err := c.normalizer.Normalize(channel, raw)
		if err != nil {
			var malformed *ingest.MalformedPostError
			if errors.As(err, &malformed) {
				log.Warn().Str("channel", channel).Int64("message_id", raw.MessageID).Err(err).Msg("Skipping malformed post")
				cr.Skipped++
				cr.Errors = append(cr.Errors, err.Error())
				continue
			}
			cr.Errors = append(cr.Errors, err.Error())
			continue
		}

		result, err := c.repo.UpsertPost(ctx, post)
		if err != nil {
			var conflict *storage.ConflictError
			if errors.As(err, &conflict) {
				// Invariant violation, not a transient condition.
				log.Error().Str("channel", channel).Int64("message_id", post.MessageID).Msg("Store conflict despite key serialization")
			}
			cr.Errors = append(cr.Errors, err.Error())
			continue
		}

		cr.Fetched++
		if result == models.UpsertInserted {
			cr.Inserted++
		} else {
			cr.Updated++
		}
	}

	log.Info().
		Str("channel", channel).
		Int("fetched", cr.Fetched).
		Int("inserted", cr.Inserted).
		Int("updated", cr.Updated).
		Int("skipped", cr.Skipped).
		Msg("Channel processed")

	return cr
}
