package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"channelwatch/scraper/internal/database"
	"channelwatch/scraper/internal/models"
)

func setupTestRepo(t *testing.T) PostRepository {
	t.Helper()

	cfg := database.NewConfig(filepath.Join(t.TempDir(), "test.db"))
	db, err := database.NewDB(cfg)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewRepository(db)
}

func testPost(channel string, id int64, postedAt time.Time, views int64) *models.Post {
	return &models.Post{
		Channel:   channel,
		MessageID: id,
		PostedAt:  postedAt,
		Text:      "some text",
		Views:     sql.NullInt64{Int64: views, Valid: true},
		Links: []models.Link{
			{Channel: channel, MessageID: id, URL: "https://github.com/a/b", Category: models.CategoryGitHub},
		},
	}
}

func TestUpsertInsertThenUpdate(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	postedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	post := testPost("mlnews", 1, postedAt, 100)

	result, err := repo.UpsertPost(ctx, post)
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if result != models.UpsertInserted {
		t.Errorf("first upsert = %v, want inserted", result)
	}

	// Second write observes the same key with new counters and a
	// different (bogus) timestamp; posted_at must keep the first value.
	second := testPost("mlnews", 1, postedAt.Add(48*time.Hour), 250)
	second.Text = "edited text"
	second.Links = []models.Link{
		{Channel: "mlnews", MessageID: 1, URL: "https://arxiv.org/abs/1", Category: models.CategoryResearch},
	}

	result, err = repo.UpsertPost(ctx, second)
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if result != models.UpsertUpdated {
		t.Errorf("second upsert = %v, want updated", result)
	}

	posts, err := repo.FetchWindow(ctx, []string{"mlnews"}, postedAt.Add(-time.Hour), postedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}

	got := posts[0]
	if !got.PostedAt.Equal(postedAt) {
		t.Errorf("posted_at changed on update: got %v, want %v", got.PostedAt, postedAt)
	}
	if got.Views.Int64 != 250 {
		t.Errorf("views = %d, want 250 (last writer wins)", got.Views.Int64)
	}
	if got.Text != "edited text" {
		t.Errorf("text = %q, want updated text", got.Text)
	}
	if len(got.Links) != 1 || got.Links[0].Category != models.CategoryResearch {
		t.Errorf("links not replaced on update: %+v", got.Links)
	}
}

func TestFetchWindowBoundaries(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	inWindow := []time.Time{start, start.Add(12 * time.Hour), end.Add(-time.Second)}
	outOfWindow := []time.Time{start.Add(-time.Second), end, end.Add(time.Hour)}

	id := int64(1)
	for _, ts := range append(inWindow, outOfWindow...) {
		if _, err := repo.UpsertPost(ctx, testPost("mlnews", id, ts, 10)); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
		id++
	}
	// A post from a channel outside the requested set.
	if _, err := repo.UpsertPost(ctx, testPost("othernews", 1, start.Add(time.Hour), 10)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	posts, err := repo.FetchWindow(ctx, []string{"mlnews"}, start, end)
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}
	if len(posts) != len(inWindow) {
		t.Errorf("expected %d posts in [start, end), got %d", len(inWindow), len(posts))
	}
	for _, p := range posts {
		if p.Channel != "mlnews" {
			t.Errorf("unexpected channel %q in result", p.Channel)
		}
		if len(p.Links) != 1 {
			t.Errorf("post %d missing links", p.MessageID)
		}
	}
}

func TestFetchWindowAttachesOnlyOwnLinks(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	// Two posts inside the window and one outside, each with its own
	// distinct URL set.
	inA := testPost("mlnews", 1, start.Add(time.Hour), 10)
	inA.Links = []models.Link{
		{Channel: "mlnews", MessageID: 1, URL: "https://github.com/a/a", Category: models.CategoryGitHub},
		{Channel: "mlnews", MessageID: 1, URL: "https://arxiv.org/abs/1", Category: models.CategoryResearch},
	}
	inB := testPost("mlnews", 2, start.Add(2*time.Hour), 10)
	inB.Links = []models.Link{
		{Channel: "mlnews", MessageID: 2, URL: "https://github.com/b/b", Category: models.CategoryGitHub},
	}
	out := testPost("mlnews", 3, end.Add(time.Hour), 10)
	out.Links = []models.Link{
		{Channel: "mlnews", MessageID: 3, URL: "https://example.com/outside", Category: models.CategoryArticle},
	}

	for _, p := range []*models.Post{inA, inB, out} {
		if _, err := repo.UpsertPost(ctx, p); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	posts, err := repo.FetchWindow(ctx, []string{"mlnews"}, start, end)
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}

	want := map[int64][]string{
		1: {"https://arxiv.org/abs/1", "https://github.com/a/a"},
		2: {"https://github.com/b/b"},
	}
	for _, p := range posts {
		urls := make([]string, 0, len(p.Links))
		for _, l := range p.Links {
			urls = append(urls, l.URL)
		}
		expected := want[p.MessageID]
		if len(urls) != len(expected) {
			t.Fatalf("post %d has %d links, want %d: %v", p.MessageID, len(urls), len(expected), urls)
		}
		for i := range expected {
			if urls[i] != expected[i] {
				t.Errorf("post %d link %d = %q, want %q", p.MessageID, i, urls[i], expected[i])
			}
		}
	}
}

func TestExistingMessageIDs(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	postedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for _, id := range []int64{1, 2, 5} {
		if _, err := repo.UpsertPost(ctx, testPost("mlnews", id, postedAt, 1)); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	existing, err := repo.ExistingMessageIDs(ctx, "mlnews", []int64{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("ExistingMessageIDs failed: %v", err)
	}
	for _, id := range []int64{1, 2, 5} {
		if _, ok := existing[id]; !ok {
			t.Errorf("expected id %d to exist", id)
		}
	}
	for _, id := range []int64{3, 4} {
		if _, ok := existing[id]; ok {
			t.Errorf("id %d should not exist", id)
		}
	}

	empty, err := repo.ExistingMessageIDs(ctx, "mlnews", nil)
	if err != nil {
		t.Fatalf("ExistingMessageIDs with empty set failed: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty result, got %v", empty)
	}
}

func TestUpsertSameKeyConcurrent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	postedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(views int64) {
			defer wg.Done()
			if _, err := repo.UpsertPost(ctx, testPost("mlnews", 1, postedAt, views)); err != nil {
				t.Errorf("concurrent upsert failed: %v", err)
			}
		}(int64(i))
	}
	wg.Wait()

	posts, err := repo.FetchWindow(ctx, []string{"mlnews"}, postedAt.Add(-time.Hour), postedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("FetchWindow failed: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("concurrent upserts duplicated the row: got %d posts", len(posts))
	}
	if !posts[0].PostedAt.Equal(postedAt) {
		t.Errorf("posted_at drifted under concurrency: %v", posts[0].PostedAt)
	}
}

func TestFetchPostsAfterPagination(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	postedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for id := int64(1); id <= 5; id++ {
		if _, err := repo.UpsertPost(ctx, testPost("mlnews", id, postedAt.Add(time.Duration(id)*time.Minute), 1)); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	since := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	firstPage, err := repo.FetchPostsAfter(ctx, 3, &since, nil, nil)
	if err != nil {
		t.Fatalf("FetchPostsAfter failed: %v", err)
	}
	if len(firstPage) != 3 {
		t.Fatalf("expected 3 posts on first page, got %d", len(firstPage))
	}

	last := firstPage[len(firstPage)-1]
	cursorTS := last.CreatedAt
	cursorID := last.RowID
	secondPage, err := repo.FetchPostsAfter(ctx, 3, nil, &cursorTS, &cursorID)
	if err != nil {
		t.Fatalf("FetchPostsAfter with cursor failed: %v", err)
	}
	if len(secondPage) != 2 {
		t.Fatalf("expected 2 posts on second page, got %d", len(secondPage))
	}

	seen := make(map[int64]bool)
	for _, p := range append(firstPage, secondPage...) {
		if seen[p.MessageID] {
			t.Errorf("post %d returned twice across pages", p.MessageID)
		}
		seen[p.MessageID] = true
	}
}
