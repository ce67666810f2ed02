package report

import (
	"fmt"
	"os"
	"time"

	"github.com/gorilla/feeds"

	"channelwatch/scraper/internal/models"
)

// BuildFeed converts ranked posts into an RSS feed. Each item carries
// the post snippet and its categorized links in the description.
func BuildFeed(posts []models.Post, now time.Time) *feeds.Feed {
	feed := &feeds.Feed{
		Title:       "Top Channel Posts",
		Link:        &feeds.Link{Href: "https://t.me"},
		Description: "Ranked channel posts carrying GitHub links",
		Created:     now,
	}

	for _, post := range posts {
		desc := Snippet(post.Text, 280)
		for _, category := range []models.Category{models.CategoryGitHub, models.CategoryResearch, models.CategoryArticle} {
			for _, url := range post.LinksByCategory(category) {
				desc += fmt.Sprintf("<br/>[%s] %s", category, url)
			}
		}

		feed.Items = append(feed.Items, &feeds.Item{
			Title:       fmt.Sprintf("%s #%d (views: %d)", post.Channel, post.MessageID, post.Popularity()),
			Link:        &feeds.Link{Href: post.URL()},
			Description: desc,
			Created:     post.PostedAt,
			Id:          post.URL(),
		})
	}

	return feed
}

func writeRSS(posts []models.Post, path string, now time.Time) error {
	rss, err := BuildFeed(posts, now).ToRss()
	if err != nil {
		return fmt.Errorf("failed to render RSS feed: %w", err)
	}
	if err := os.WriteFile(path, []byte(rss), 0644); err != nil {
		return fmt.Errorf("failed to write RSS export: %w", err)
	}
	return nil
}
