package models

import (
	"database/sql"
	"fmt"
	"time"
)

// Post represents one ingested channel message. Identity is
// (Channel, MessageID); PostedAt is authoritative from first write.
type Post struct {
	RowID     int64         `db:"rowid" json:"-"`
	Channel   string        `db:"channel" json:"channel"`
	MessageID int64         `db:"message_id" json:"message_id"`
	PostedAt  time.Time     `db:"posted_at" json:"posted_at"`
	Text      string        `db:"text" json:"text"`
	Views     sql.NullInt64 `db:"views" json:"views"`
	Forwards  sql.NullInt64 `db:"forwards" json:"forwards"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"-"`

	Links []Link `db:"-" json:"links"`
}

// URL returns the public address of the post on the platform.
func (p *Post) URL() string {
	return fmt.Sprintf("https://t.me/%s/%d", p.Channel, p.MessageID)
}

// Popularity is the ranking metric: the view count, or 0 when the
// platform omitted it.
func (p *Post) Popularity() int64 {
	if p.Views.Valid {
		return p.Views.Int64
	}
	return 0
}

// HasLink reports whether the post carries at least one link of the
// given category.
func (p *Post) HasLink(c Category) bool {
	for _, l := range p.Links {
		if l.Category == c {
			return true
		}
	}
	return false
}

// LinksByCategory returns the post's links of the given category, in
// stored order.
func (p *Post) LinksByCategory(c Category) []string {
	var urls []string
	for _, l := range p.Links {
		if l.Category == c {
			urls = append(urls, l.URL)
		}
	}
	return urls
}

// UpsertResult reports whether an upsert inserted a new row or updated
// an existing one.
type UpsertResult int

const (
	UpsertInserted UpsertResult = iota
	UpsertUpdated
)

func (r UpsertResult) String() string {
	if r == UpsertInserted {
		return "inserted"
	}
	return "updated"
}
