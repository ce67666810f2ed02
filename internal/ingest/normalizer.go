package ingest

import (
	"fmt"
	"strings"

	"channelwatch/scraper/internal/fetch"
	"channelwatch/scraper/internal/links"
	"channelwatch/scraper/internal/models"
)

// MalformedPostError reports a fetched record that cannot be turned
// into a canonical post. It is recorded in the channel report and never
// aborts a batch.
type MalformedPostError struct {
	Channel   string
	MessageID int64
	Reason    string
}

func (e *MalformedPostError) Error() string {
	return fmt.Sprintf("malformed post %s/%d: %s", e.Channel, e.MessageID, e.Reason)
}

// Normalizer converts raw fetched posts into canonical records,
// extracting and classifying every embedded link. Nothing upstream of
// this boundary reaches the store.
type Normalizer struct {
	classifier *links.Classifier
}

// NewNormalizer creates a normalizer using the given link classifier.
func NewNormalizer(classifier *links.Classifier) *Normalizer {
	return &Normalizer{classifier: classifier}
}

// Normalize validates the raw record's identity triple and builds a
// Post with its classified link set. URL dedup is exact-string; host
// matching inside classification is case-insensitive.
func (n *Normalizer) Normalize(channel string, raw fetch.RawPost) (*models.Post, error) {
	if channel == "" {
		return nil, &MalformedPostError{Channel: channel, MessageID: raw.MessageID, Reason: "missing channel"}
	}
	if raw.MessageID <= 0 {
		return nil, &MalformedPostError{Channel: channel, MessageID: raw.MessageID, Reason: "missing message id"}
	}
	if raw.PostedAt.IsZero() {
		return nil, &MalformedPostError{Channel: channel, MessageID: raw.MessageID, Reason: "missing timestamp"}
	}

	post := &models.Post{
		Channel:   channel,
		MessageID: raw.MessageID,
		PostedAt:  raw.PostedAt.UTC(),
		Text:      normalizeWhitespace(raw.Text),
	}
	if raw.Views != nil {
		post.Views.Int64 = *raw.Views
		post.Views.Valid = true
	}
	if raw.Forwards != nil {
		post.Forwards.Int64 = *raw.Forwards
		post.Forwards.Valid = true
	}

	for _, u := range links.ExtractURLs(raw.Text) {
		category, ok := n.classifier.Classify(u)
		if !ok {
			continue
		}
		post.Links = append(post.Links, models.Link{
			Channel:   channel,
			MessageID: raw.MessageID,
			URL:       u,
			Category:  category,
		})
	}

	return post, nil
}

// normalizeWhitespace collapses runs of spaces and tabs within lines
// and trims surrounding blank space, preserving line structure.
func normalizeWhitespace(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
