package links

import (
	"net/url"
	"regexp"
	"sort"
	"strings"

	"channelwatch/scraper/internal/models"
)

// urlPattern finds http(s) URL candidates in free-form text. The
// excluded trailing characters keep markdown link targets and
// parenthesized URLs from swallowing closing punctuation.
var urlPattern = regexp.MustCompile(`https?://[^\s<>)\]"']+`)

// trailingPunct is prose punctuation that commonly sticks to the end of
// a pasted URL.
const trailingPunct = ".,;:!?"

var githubHosts = []string{
	"github.com",
	"raw.githubusercontent.com",
	"gist.github.com",
}

// Classifier maps URLs to semantic categories. The research allow-list
// is loaded once at construction and never mutated.
type Classifier struct {
	researchHosts []string
}

// NewClassifier creates a classifier with the given research host
// allow-list. Hosts are matched case-insensitively against the URL
// host and its parent-domain suffixes.
func NewClassifier(researchHosts []string) *Classifier {
	c := &Classifier{
		researchHosts: make([]string, 0, len(researchHosts)),
	}
	for _, h := range researchHosts {
		c.researchHosts = append(c.researchHosts, strings.ToLower(h))
	}
	return c
}

// Classify maps a URL string to its category. The second return value
// is false when the URL is not a well-formed absolute http(s) URL and
// must be discarded.
func (c *Classifier) Classify(rawURL string) (models.Category, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}

	if hostMatches(host, githubHosts) {
		return models.CategoryGitHub, true
	}
	if hostMatches(host, telegramHosts) {
		return models.CategoryOther, true
	}
	if hostMatches(host, c.researchHosts) {
		return models.CategoryResearch, true
	}

	// Anything else well-formed is an article.
	return models.CategoryArticle, true
}

// telegramHosts are platform-internal destinations, not outbound
// content links.
var telegramHosts = []string{
	"t.me",
	"telegram.me",
	"telegram.dog",
	"telegram.org",
}

func hostMatches(host string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// ExtractURLs scans text for http(s) URL candidates, trims trailing
// prose punctuation, and returns the deduplicated set in sorted order.
func ExtractURLs(text string) []string {
	seen := make(map[string]struct{})
	for _, match := range urlPattern.FindAllString(text, -1) {
		trimmed := strings.TrimRight(match, trailingPunct)
		if trimmed == "" {
			continue
		}
		seen[trimmed] = struct{}{}
	}

	urls := make([]string, 0, len(seen))
	for u := range seen {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}
