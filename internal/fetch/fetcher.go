package fetch

import (
	"context"
	"fmt"
	"time"
)

// RawPost is one message record as produced by the platform, before
// normalization. Fields the platform omitted stay nil/zero; the
// normalizer decides whether the record is usable.
type RawPost struct {
	MessageID int64
	PostedAt  time.Time
	Text      string
	Views     *int64
	Forwards  *int64
}

// Fetcher produces raw posts for a channel within a time window.
//
// Implementations return posts in chronological order (oldest first).
// Records that could only be partially parsed are still returned; the
// normalization boundary rejects them individually so one bad post
// never costs the batch. A channel-level failure (unknown channel,
// access denied, transport error) is returned as ChannelUnavailableError.
type Fetcher interface {
	FetchWindow(ctx context.Context, channel string, start, end time.Time) ([]RawPost, error)
}

// ChannelUnavailableError reports that a whole channel could not be
// fetched. The coordinator records it and moves on to other channels.
type ChannelUnavailableError struct {
	Channel string
	Err     error
}

func (e *ChannelUnavailableError) Error() string {
	return fmt.Sprintf("channel %q unavailable: %v", e.Channel, e.Err)
}

func (e *ChannelUnavailableError) Unwrap() error {
	return e.Err
}
