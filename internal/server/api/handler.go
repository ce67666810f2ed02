package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/hlog"

	"channelwatch/scraper/internal/models"
	"channelwatch/scraper/internal/ranking"
	"channelwatch/scraper/internal/server/pagination"
	"channelwatch/scraper/internal/storage"
)

const defaultLimit = 100
const maxLimit = 1000
const maxLookbackDays = 90

// PostsResponse is the payload for the raw posts endpoint.
type PostsResponse struct {
	Posts      []models.Post `json:"posts"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// TopResponse is the payload for the ranked posts endpoint.
type TopResponse struct {
	Posts        []models.Post `json:"posts"`
	LookbackDays int           `json:"lookback_days"`
}

// PostsHandler serves the stored posts with cursor pagination.
type PostsHandler struct {
	repo storage.PostRepository
}

// NewPostsHandler creates a new handler instance.
func NewPostsHandler(repo storage.PostRepository) *PostsHandler {
	return &PostsHandler{repo: repo}
}

// GetPosts handles requests to page through stored posts by ingestion time.
func (h *PostsHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing posts request")

	query := r.URL.Query()
	limitStr := query.Get("limit")
	sinceStr := query.Get("since")
	cursorStr := query.Get("cursor")

	limit := defaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	var since *time.Time
	var cursorTimestamp *time.Time
	var cursorID *int64

	if cursorStr != "" {
		ts, id, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		cursorTimestamp = &ts
		cursorID = &id
	} else if sinceStr != "" {
		parsedSince, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			log.Warn().Err(err).Str("since", sinceStr).Msg("Invalid 'since' parameter format")
			http.Error(w, "Invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)", http.StatusBadRequest)
			return
		}
		utcSince := parsedSince.UTC()
		since = &utcSince
	} else {
		log.Warn().Msg("Missing required parameter: 'since' or 'cursor'")
		http.Error(w, "Missing required parameter: 'since' or 'cursor'", http.StatusBadRequest)
		return
	}

	// Fetch one extra row to detect whether another page exists.
	posts, err := h.repo.FetchPostsAfter(r.Context(), limit+1, since, cursorTimestamp, cursorID)
	if err != nil {
		errLogEvent := log.Error().Err(err)
		if since != nil {
			errLogEvent = errLogEvent.Time("since", *since)
		}
		errLogEvent.Str("cursor", cursorStr).Msg("Error fetching posts from repository")

		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var nextCursorStr *string
	actualPosts := posts
	if len(posts) > limit {
		actualPosts = posts[:limit]
		lastPost := actualPosts[len(actualPosts)-1]
		cursor := pagination.EncodeCursor(lastPost.CreatedAt.UTC(), lastPost.RowID)
		nextCursorStr = &cursor
	}

	writeJSON(w, r, PostsResponse{Posts: actualPosts, NextCursor: nextCursorStr})
}

// TopHandler serves the ranked view over the configured channels.
type TopHandler struct {
	engine          *ranking.Engine
	channels        []string
	defaultDays     int
	defaultLimit    int
	defaultCategory models.Category
}

// NewTopHandler creates a handler bound to a channel list and defaults.
func NewTopHandler(engine *ranking.Engine, channels []string, defaultDays, defaultLimit int) *TopHandler {
	return &TopHandler{
		engine:          engine,
		channels:        channels,
		defaultDays:     defaultDays,
		defaultLimit:    defaultLimit,
		defaultCategory: models.CategoryGitHub,
	}
}

// GetTop handles requests for the ranked posts over a lookback window.
func (h *TopHandler) GetTop(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing top posts request")

	query := r.URL.Query()

	limit := h.defaultLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	days := h.defaultDays
	if daysStr := query.Get("days"); daysStr != "" {
		parsedDays, err := strconv.Atoi(daysStr)
		if err != nil || parsedDays <= 0 || parsedDays > maxLookbackDays {
			log.Warn().Err(err).Str("days", daysStr).Msg("Invalid 'days' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'days' parameter: must be between 1 and %d", maxLookbackDays), http.StatusBadRequest)
			return
		}
		days = parsedDays
	}

	channels := h.channels
	if channelsStr := query.Get("channels"); channelsStr != "" {
		channels = splitChannels(channelsStr)
	}

	window := ranking.WindowForLookback(time.Now().UTC(), days, limit)
	posts, err := h.engine.Top(r.Context(), channels, window)
	if err != nil {
		if errors.Is(err, models.ErrInvalidParameter) {
			log.Warn().Err(err).Msg("Invalid ranking parameters")
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Error().Err(err).Msg("Error ranking posts")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, TopResponse{Posts: posts, LookbackDays: days})
}

func splitChannels(s string) []string {
	var channels []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "@"))
		if part != "" {
			channels = append(channels, part)
		}
	}
	return channels
}

func writeJSON(w http.ResponseWriter, r *http.Request, payload any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
