package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"channelwatch/scraper/internal/models"
	"channelwatch/scraper/internal/ranking"
)

type stubRepo struct {
	posts []models.Post
}

func (s *stubRepo) UpsertPost(ctx context.Context, post *models.Post) (models.UpsertResult, error) {
	return models.UpsertInserted, nil
}

func (s *stubRepo) FetchWindow(ctx context.Context, channels []string, start, end time.Time) ([]models.Post, error) {
	return s.posts, nil
}

func (s *stubRepo) ExistingMessageIDs(ctx context.Context, channel string, ids []int64) (map[int64]struct{}, error) {
	return nil, nil
}

func (s *stubRepo) FetchPostsAfter(ctx context.Context, limit int, since, cursorTimestamp *time.Time, cursorID *int64) ([]models.Post, error) {
	if limit > len(s.posts) {
		limit = len(s.posts)
	}
	return s.posts[:limit], nil
}

func makePosts(n int) []models.Post {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	posts := make([]models.Post, n)
	for i := range posts {
		posts[i] = models.Post{
			RowID:     int64(i + 1),
			Channel:   "mlnews",
			MessageID: int64(i + 1),
			PostedAt:  base.Add(time.Duration(i) * time.Hour),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Views:     sql.NullInt64{Int64: int64(100 * (i + 1)), Valid: true},
			Links: []models.Link{
				{URL: "https://github.com/org/repo", Category: models.CategoryGitHub},
			},
		}
	}
	return posts
}

func TestGetPostsRequiresSinceOrCursor(t *testing.T) {
	handler := NewPostsHandler(&stubRepo{})

	req := httptest.NewRequest(http.MethodGet, "/v1/posts", nil)
	rec := httptest.NewRecorder()
	handler.GetPosts(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetPostsRejectsBadParams(t *testing.T) {
	handler := NewPostsHandler(&stubRepo{})

	testCases := []struct {
		name  string
		query string
	}{
		{"limit zero", "?since=2025-06-01T00:00:00Z&limit=0"},
		{"limit not a number", "?since=2025-06-01T00:00:00Z&limit=many"},
		{"limit too large", "?since=2025-06-01T00:00:00Z&limit=99999"},
		{"since not a timestamp", "?since=yesterday"},
		{"cursor garbage", "?cursor=!!!"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/posts"+tc.query, nil)
			rec := httptest.NewRecorder()
			handler.GetPosts(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestGetPostsPaginates(t *testing.T) {
	handler := NewPostsHandler(&stubRepo{posts: makePosts(5)})

	req := httptest.NewRequest(http.MethodGet, "/v1/posts?since=2025-06-01T00:00:00Z&limit=3", nil)
	rec := httptest.NewRecorder()
	handler.GetPosts(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp PostsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not parseable: %v", err)
	}
	if len(resp.Posts) != 3 {
		t.Errorf("returned %d posts, want 3", len(resp.Posts))
	}
	if resp.NextCursor == nil || *resp.NextCursor == "" {
		t.Error("expected a next_cursor when more rows exist")
	}
}

func TestGetPostsLastPageOmitsCursor(t *testing.T) {
	handler := NewPostsHandler(&stubRepo{posts: makePosts(2)})

	req := httptest.NewRequest(http.MethodGet, "/v1/posts?since=2025-06-01T00:00:00Z&limit=10", nil)
	rec := httptest.NewRecorder()
	handler.GetPosts(rec, req)

	var resp PostsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not parseable: %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Errorf("returned %d posts, want 2", len(resp.Posts))
	}
	if resp.NextCursor != nil {
		t.Errorf("unexpected next_cursor on final page: %q", *resp.NextCursor)
	}
}

func TestGetTopReturnsRankedPosts(t *testing.T) {
	engine := ranking.NewEngine(&stubRepo{posts: makePosts(4)})
	handler := NewTopHandler(engine, []string{"mlnews"}, 7, 20)

	req := httptest.NewRequest(http.MethodGet, "/v1/top?limit=2&days=7", nil)
	rec := httptest.NewRecorder()
	handler.GetTop(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rec.Code, rec.Body.String())
	}

	var resp TopResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response not parseable: %v", err)
	}
	if len(resp.Posts) != 2 {
		t.Fatalf("returned %d posts, want 2", len(resp.Posts))
	}
	// Highest view count first.
	if resp.Posts[0].Views.Int64 != 400 {
		t.Errorf("first post views = %d, want 400", resp.Posts[0].Views.Int64)
	}
	if resp.LookbackDays != 7 {
		t.Errorf("lookback_days = %d, want 7", resp.LookbackDays)
	}
}

func TestGetTopRejectsBadParams(t *testing.T) {
	engine := ranking.NewEngine(&stubRepo{})
	handler := NewTopHandler(engine, []string{"mlnews"}, 7, 20)

	for _, query := range []string{"?limit=0", "?days=-1", "?days=365"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/top"+query, nil)
		rec := httptest.NewRecorder()
		handler.GetTop(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want %d", query, rec.Code, http.StatusBadRequest)
		}
	}
}
