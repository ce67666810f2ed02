package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"channelwatch/scraper/internal/models"
)

// ExportPaths names the files produced by one export run.
type ExportPaths struct {
	JSON     string
	Markdown string
	RSS      string
}

// Export writes the ranked posts to timestamped JSON, Markdown and RSS
// files under outDir, creating it if needed.
func Export(posts []models.Post, outDir string, now time.Time) (*ExportPaths, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	stamp := now.Format("20060102_150405")
	paths := &ExportPaths{
		JSON:     filepath.Join(outDir, fmt.Sprintf("top_posts_%s.json", stamp)),
		Markdown: filepath.Join(outDir, fmt.Sprintf("top_posts_%s.md", stamp)),
		RSS:      filepath.Join(outDir, fmt.Sprintf("top_posts_%s.xml", stamp)),
	}

	if err := writeJSON(posts, paths.JSON); err != nil {
		return nil, err
	}
	if err := writeMarkdown(posts, paths.Markdown); err != nil {
		return nil, err
	}
	if err := writeRSS(posts, paths.RSS, now); err != nil {
		return nil, err
	}

	log.Info().
		Int("posts", len(posts)).
		Str("dir", outDir).
		Msg("Exported top posts")

	return paths, nil
}

func writeJSON(posts []models.Post, path string) error {
	data, err := json.MarshalIndent(posts, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal posts: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write JSON export: %w", err)
	}
	return nil
}

func writeMarkdown(posts []models.Post, path string) error {
	var b strings.Builder
	b.WriteString("# Top Channel Posts\n\n")

	for idx, post := range posts {
		fmt.Fprintf(&b, "## %d. %s / post %d\n", idx+1, post.Channel, post.MessageID)
		fmt.Fprintf(&b, "- Views: %d\n", post.Popularity())
		if post.Forwards.Valid {
			fmt.Fprintf(&b, "- Forwards: %d\n", post.Forwards.Int64)
		}
		fmt.Fprintf(&b, "- Date: %s\n", post.PostedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "- URL: %s\n", post.URL())
		writeMarkdownLinks(&b, "Research links", post.LinksByCategory(models.CategoryResearch))
		writeMarkdownLinks(&b, "Article links", post.LinksByCategory(models.CategoryArticle))
		writeMarkdownLinks(&b, "GitHub links", post.LinksByCategory(models.CategoryGitHub))
		if post.Text != "" {
			fmt.Fprintf(&b, "- Text: %s\n", Snippet(post.Text, 280))
		}
		b.WriteString("\n")
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write Markdown export: %w", err)
	}
	return nil
}

func writeMarkdownLinks(b *strings.Builder, heading string, urls []string) {
	if len(urls) == 0 {
		return
	}
	fmt.Fprintf(b, "- %s:\n", heading)
	for _, url := range urls {
		fmt.Fprintf(b, "  - %s\n", url)
	}
}
