package models

// Category is the semantic class assigned to an extracted URL.
type Category string

const (
	CategoryGitHub   Category = "github"
	CategoryResearch Category = "research"
	CategoryArticle  Category = "article"
	CategoryOther    Category = "other"
)

// Link represents one classified URL extracted from a post's text.
type Link struct {
	Channel   string   `db:"channel" json:"-"`
	MessageID int64    `db:"message_id" json:"-"`
	URL       string   `db:"url" json:"url"`
	Category  Category `db:"category" json:"category"`
}
