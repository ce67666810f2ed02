package report

import (
	"database/sql"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"channelwatch/scraper/internal/models"
)

func samplePosts() []models.Post {
	postedAt := time.Date(2025, 6, 5, 14, 30, 0, 0, time.UTC)
	return []models.Post{
		{
			Channel:   "mlnews",
			MessageID: 42,
			PostedAt:  postedAt,
			Text:      "new release out, see the repo",
			Views:     sql.NullInt64{Int64: 1200, Valid: true},
			Links: []models.Link{
				{Channel: "mlnews", MessageID: 42, URL: "https://github.com/org/repo", Category: models.CategoryGitHub},
				{Channel: "mlnews", MessageID: 42, URL: "https://arxiv.org/abs/1234", Category: models.CategoryResearch},
			},
		},
	}
}

func TestRenderIncludesRankAndLinks(t *testing.T) {
	out := Render(samplePosts(), 7)

	for _, want := range []string{
		"1. mlnews #42",
		"views=1200",
		"https://t.me/mlnews/42",
		"research: https://arxiv.org/abs/1234",
		"github: https://github.com/org/repo",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered report missing %q:\n%s", want, out)
		}
	}
}

func TestRenderEmpty(t *testing.T) {
	out := Render(nil, 3)
	if !strings.Contains(out, "No qualifying posts") {
		t.Errorf("unexpected empty-report output: %q", out)
	}
}

func TestSnippet(t *testing.T) {
	testCases := []struct {
		name     string
		text     string
		maxLen   int
		expected string
	}{
		{"short text unchanged", "short", 20, "short"},
		{"newlines flattened", "line one\nline two", 40, "line one line two"},
		{"long text truncated", strings.Repeat("a", 50), 10, strings.Repeat("a", 7) + "..."},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Snippet(tc.text, tc.maxLen); got != tc.expected {
				t.Errorf("Snippet = %q, want %q", got, tc.expected)
			}
		})
	}
}

func TestExportWritesAllFormats(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	paths, err := Export(samplePosts(), dir, now)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	jsonData, err := os.ReadFile(paths.JSON)
	if err != nil {
		t.Fatalf("JSON export not written: %v", err)
	}
	var decoded []models.Post
	if err := json.Unmarshal(jsonData, &decoded); err != nil {
		t.Fatalf("JSON export not parseable: %v", err)
	}
	if len(decoded) != 1 || decoded[0].Channel != "mlnews" {
		t.Errorf("JSON export content wrong: %+v", decoded)
	}

	mdData, err := os.ReadFile(paths.Markdown)
	if err != nil {
		t.Fatalf("Markdown export not written: %v", err)
	}
	if !strings.Contains(string(mdData), "## 1. mlnews / post 42") {
		t.Errorf("Markdown export missing heading:\n%s", mdData)
	}

	rssData, err := os.ReadFile(paths.RSS)
	if err != nil {
		t.Fatalf("RSS export not written: %v", err)
	}
	rss := string(rssData)
	if !strings.Contains(rss, "<rss") || !strings.Contains(rss, "https://t.me/mlnews/42") {
		t.Errorf("RSS export content wrong:\n%s", rss)
	}
}
