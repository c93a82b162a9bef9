package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Intent is one notification the workflow decided to send.
type Intent struct {
	ID            string
	EventType     string
	RequestID     string
	RequestNumber string
	RecipientID   string
	RecipientRole string
	Message       string
	CreatedAt     time.Time
}

// StreamSink appends intents to a Redis stream. Delivery workers read the
// stream through a consumer group.
type StreamSink struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

// NewStreamSink builds a sink writing to stream, trimmed to roughly maxLen entries.
func NewStreamSink(client redis.Cmdable, stream string, maxLen int64) *StreamSink {
	return &StreamSink{client: client, stream: stream, maxLen: maxLen}
}

// Deliver appends the intent to the stream.
func (s *StreamSink) Deliver(ctx context.Context, intent Intent) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notification stream not configured")
	}
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"id":             intent.ID,
			"event_type":     intent.EventType,
			"request_id":     intent.RequestID,
			"request_number": intent.RequestNumber,
			"recipient_id":   intent.RecipientID,
			"recipient_role": intent.RecipientRole,
			"message":        intent.Message,
			"created_at":     intent.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// ParseIntent decodes a stream entry written by Deliver.
func ParseIntent(values map[string]any) (Intent, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return v
	}
	intent := Intent{
		ID:            str("id"),
		EventType:     str("event_type"),
		RequestID:     str("request_id"),
		RequestNumber: str("request_number"),
		RecipientID:   str("recipient_id"),
		RecipientRole: str("recipient_role"),
		Message:       str("message"),
	}
	if intent.ID == "" || intent.EventType == "" {
		return Intent{}, fmt.Errorf("stream entry missing id or event_type")
	}
	if raw := str("created_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Intent{}, fmt.Errorf("parse created_at: %w", err)
		}
		intent.CreatedAt = ts
	}
	return intent, nil
}
