package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"channelwatch/scraper/internal/database"
	"channelwatch/scraper/internal/models"
)

// ConflictError reports a same-key write race that the serialization
// discipline should have made impossible. It propagates as fatal.
type ConflictError struct {
	Channel   string
	MessageID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store conflict on %s/%d", e.Channel, e.MessageID)
}

// PostRepository defines the persistence operations of the ingestion
// pipeline and its read surfaces.
type PostRepository interface {
	// UpsertPost inserts or updates a post by (channel, message_id).
	// Mutable fields (text, views, forwards, links) take the new values;
	// posted_at is immutable after first write.
	UpsertPost(ctx context.Context, post *models.Post) (models.UpsertResult, error)

	// FetchWindow returns all posts with posted_at in [start, end)
	// across the given channels, links attached, in storage order.
	FetchWindow(ctx context.Context, channels []string, start, end time.Time) ([]models.Post, error)

	// ExistingMessageIDs returns which of the given message ids are
	// already stored for the channel.
	ExistingMessageIDs(ctx context.Context, channel string, ids []int64) (map[int64]struct{}, error)

	// FetchPostsAfter retrieves posts for cursor pagination, ordered by
	// (created_at, rowid) ascending.
	FetchPostsAfter(ctx context.Context, limit int, since *time.Time, cursorTimestamp *time.Time, cursorID *int64) ([]models.Post, error)
}

// sqlxRepository implements PostRepository using sqlx.
type sqlxRepository struct {
	db *database.DB

	// Upserts to distinct keys run concurrently; upserts to the same key
	// serialize through a hashed lock stripe so last-writer-wins holds.
	keyLocks [64]sync.Mutex
}

// NewRepository creates a new repository instance.
func NewRepository(db *database.DB) PostRepository {
	return &sqlxRepository{db: db}
}

func (r *sqlxRepository) lockKey(channel string, messageID int64) *sync.Mutex {
	h := fnv.New32a()
	fmt.Fprintf(h, "%s/%d", channel, messageID)
	return &r.keyLocks[h.Sum32()%uint32(len(r.keyLocks))]
}

func (r *sqlxRepository) UpsertPost(ctx context.Context, post *models.Post) (models.UpsertResult, error) {
	mu := r.lockKey(post.Channel, post.MessageID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM posts WHERE channel = ? AND message_id = ?)`,
		post.Channel, post.MessageID)
	if err != nil {
		return 0, fmt.Errorf("failed to check post existence: %w", err)
	}

	now := time.Now().UTC()
	result := models.UpsertInserted
	if exists {
		result = models.UpsertUpdated
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO posts (channel, message_id, posted_at, text, views, forwards, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel, message_id) DO UPDATE SET
			text = excluded.text,
			views = excluded.views,
			forwards = excluded.forwards,
			updated_at = excluded.updated_at`,
		post.Channel, post.MessageID, post.PostedAt.UTC(), post.Text,
		post.Views, post.Forwards, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert post %s/%d: %w", post.Channel, post.MessageID, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		// The row neither inserted nor updated under our key lock.
		return 0, &ConflictError{Channel: post.Channel, MessageID: post.MessageID}
	}

	// Links are derived from text, so the stored set is replaced
	// wholesale on every write.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM links WHERE channel = ? AND message_id = ?`,
		post.Channel, post.MessageID); err != nil {
		return 0, fmt.Errorf("failed to clear links for %s/%d: %w", post.Channel, post.MessageID, err)
	}
	for _, link := range post.Links {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO links (channel, message_id, url, category)
			VALUES (?, ?, ?, ?)`,
			post.Channel, post.MessageID, link.URL, link.Category); err != nil {
			return 0, fmt.Errorf("failed to insert link %q for %s/%d: %w", link.URL, post.Channel, post.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit upsert for %s/%d: %w", post.Channel, post.MessageID, err)
	}
	return result, nil
}

func (r *sqlxRepository) FetchWindow(ctx context.Context, channels []string, start, end time.Time) ([]models.Post, error) {
	if len(channels) == 0 {
		return []models.Post{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT rowid, * FROM posts
		WHERE channel IN (?) AND posted_at >= ? AND posted_at < ?`,
		channels, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to build window query: %w", err)
	}

	var posts []models.Post
	if err := r.db.SelectContext(ctx, &posts, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.Post{}, nil
		}
		return nil, fmt.Errorf("window query failed: %w", err)
	}

	if err := r.attachLinks(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// attachLinks loads the link sets for the given posts in one query.
func (r *sqlxRepository) attachLinks(ctx context.Context, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}

	// sqlx.In does not expand tuples, so the (channel, message_id)
	// row-value list is built by hand. Placeholders only, no literals.
	pairs := make([]string, 0, len(posts))
	args := make([]any, 0, len(posts)*2)
	for _, p := range posts {
		pairs = append(pairs, "(?, ?)")
		args = append(args, p.Channel, p.MessageID)
	}
	query := `SELECT channel, message_id, url, category FROM links
		WHERE (channel, message_id) IN (VALUES ` + strings.Join(pairs, ", ") + `)
		ORDER BY url ASC`

	var links []models.Link
	if err := r.db.SelectContext(ctx, &links, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("links query failed: %w", err)
	}

	type key struct {
		channel   string
		messageID int64
	}
	byPost := make(map[key][]models.Link, len(posts))
	for _, l := range links {
		k := key{l.Channel, l.MessageID}
		byPost[k] = append(byPost[k], l)
	}
	for i := range posts {
		posts[i].Links = byPost[key{posts[i].Channel, posts[i].MessageID}]
	}
	return nil
}

func (r *sqlxRepository) ExistingMessageIDs(ctx context.Context, channel string, ids []int64) (map[int64]struct{}, error) {
	existing := make(map[int64]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	query, args, err := sqlx.In(
		`SELECT message_id FROM posts WHERE channel = ? AND message_id IN (?)`,
		channel, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build existence query: %w", err)
	}

	var found []int64
	if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("existence query failed: %w", err)
	}
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

func (r *sqlxRepository) FetchPostsAfter(ctx context.Context, limit int, since *time.Time, cursorTimestamp *time.Time, cursorID *int64) ([]models.Post, error) {
	var posts []models.Post
	var query string
	var args []any

	// Ordering must stay consistent for cursor pagination to work.
	const baseQuery = `SELECT rowid, * FROM posts `
	const orderBy = ` ORDER BY created_at ASC, rowid ASC LIMIT ?`

	if cursorTimestamp != nil && cursorID != nil {
		query = baseQuery + `WHERE (created_at > ?) OR (created_at = ? AND rowid > ?)` + orderBy
		args = append(args, cursorTimestamp.UTC(), cursorTimestamp.UTC(), *cursorID, limit)
	} else if since != nil {
		query = baseQuery + `WHERE created_at > ?` + orderBy
		args = append(args, since.UTC(), limit)
	} else {
		return nil, fmt.Errorf("either 'since' or cursor parameters must be provided")
	}

	err := r.db.SelectContext(ctx, &posts, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.Post{}, nil
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	if err := r.attachLinks(ctx, posts); err != nil {
		return nil, err
	}
	return posts, nil
}
