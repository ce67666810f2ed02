package report

import (
	"fmt"
	"strings"

	"channelwatch/scraper/internal/models"
)

// Render formats ranked posts as a plain-text report: rank, identity,
// popularity, date, post URL and categorized link lines.
func Render(posts []models.Post, lookbackDays int) string {
	if len(posts) == 0 {
		return fmt.Sprintf("No qualifying posts in the last %d days.", lookbackDays)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top posts, last %d days:\n\n", lookbackDays)

	for idx, post := range posts {
		fmt.Fprintf(&b, "%d. %s #%d | views=%d\n", idx+1, post.Channel, post.MessageID, post.Popularity())
		fmt.Fprintf(&b, "   date: %s\n", post.PostedAt.Format("2006-01-02 15:04 MST"))
		fmt.Fprintf(&b, "   post: %s\n", post.URL())
		for _, url := range post.LinksByCategory(models.CategoryResearch) {
			fmt.Fprintf(&b, "   research: %s\n", url)
		}
		for _, url := range post.LinksByCategory(models.CategoryArticle) {
			fmt.Fprintf(&b, "   article: %s\n", url)
		}
		for _, url := range post.LinksByCategory(models.CategoryGitHub) {
			fmt.Fprintf(&b, "   github: %s\n", url)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// Snippet returns a single-line preview of post text, truncated to
// maxLen runes.
func Snippet(text string, maxLen int) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= maxLen {
		return flat
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
