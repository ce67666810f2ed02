package ranking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"channelwatch/scraper/internal/models"
	"channelwatch/scraper/internal/storage"
)

// Window is the query shape for a ranked report: the time range, the
// maximum result size, and the link category a post must carry to be
// eligible.
type Window struct {
	Start            time.Time
	End              time.Time
	Limit            int
	RequiredCategory models.Category
}

// WindowForLookback builds a ranking window covering the last
// lookbackDays before now.
func WindowForLookback(now time.Time, lookbackDays, limit int) Window {
	return Window{
		Start:            now.Add(-time.Duration(lookbackDays) * 24 * time.Hour),
		End:              now,
		Limit:            limit,
		RequiredCategory: models.CategoryGitHub,
	}
}

// Engine computes ranked top-post reports from the ingestion store.
type Engine struct {
	repo storage.PostRepository
}

// NewEngine creates a ranking engine backed by the given repository.
func NewEngine(repo storage.PostRepository) *Engine {
	return &Engine{repo: repo}
}

// Top returns at most window.Limit posts from the given channels,
// restricted to posts carrying at least one link of the required
// category, ordered by popularity descending with deterministic
// tie-breaks. Invalid parameters fail before any store access.
func (e *Engine) Top(ctx context.Context, channels []string, window Window) ([]models.Post, error) {
	if window.Limit < 1 {
		return nil, fmt.Errorf("%w: limit must be at least 1, got %d", models.ErrInvalidParameter, window.Limit)
	}
	if !window.Start.Before(window.End) {
		return nil, fmt.Errorf("%w: window start %v is not before end %v", models.ErrInvalidParameter, window.Start, window.End)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: channel list is empty", models.ErrInvalidParameter)
	}

	required := window.RequiredCategory
	if required == "" {
		required = models.CategoryGitHub
	}

	posts, err := e.repo.FetchWindow(ctx, channels, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ranking window: %w", err)
	}

	eligible := posts[:0]
	for _, p := range posts {
		if p.HasLink(required) {
			eligible = append(eligible, p)
		}
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := &eligible[i], &eligible[j]
		if a.Popularity() != b.Popularity() {
			return a.Popularity() > b.Popularity()
		}
		if !a.PostedAt.Equal(b.PostedAt) {
			return a.PostedAt.After(b.PostedAt)
		}
		if a.Channel != b.Channel {
			return a.Channel < b.Channel
		}
		return a.MessageID < b.MessageID
	})

	if len(eligible) > window.Limit {
		eligible = eligible[:window.Limit]
	}

	log.Debug().
		Int("candidates", len(posts)).
		Int("ranked", len(eligible)).
		Str("required_category", string(required)).
		Msg("Ranking computed")

	return eligible, nil
}
