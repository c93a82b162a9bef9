package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/travel-workflow/internal/notify"
)

// StreamClient is the slice of go-redis the worker needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Deliverer hands an intent to its channel (mail, chat, push).
type Deliverer interface {
	Deliver(ctx context.Context, intent notify.Intent) error
}

// LogDeliverer only logs intents. It is the default until a real channel is configured.
type LogDeliverer struct {
	Logger *zap.Logger
}

// Deliver logs the intent.
func (d LogDeliverer) Deliver(_ context.Context, intent notify.Intent) error {
	d.Logger.Info("notification",
		zap.String("event_type", intent.EventType),
		zap.String("request_number", intent.RequestNumber),
		zap.String("recipient_id", intent.RecipientID),
		zap.String("recipient_role", intent.RecipientRole),
		zap.String("message", intent.Message))
	return nil
}

// NotificationWorker drains the notification stream through a consumer group.
type NotificationWorker struct {
	client    StreamClient
	stream    string
	group     string
	consumer  string
	deliverer Deliverer
	logger    *zap.Logger
	batch     int64
	block     time.Duration
}

// NewNotificationWorker constructs worker.
func NewNotificationWorker(client StreamClient, stream, group, consumer string, deliverer Deliverer, logger *zap.Logger) *NotificationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deliverer == nil {
		deliverer = LogDeliverer{Logger: logger}
	}
	return &NotificationWorker{
		client:    client,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		deliverer: deliverer,
		logger:    logger.With(zap.String("stream", stream), zap.String("group", group)),
		batch:     32,
		block:     5 * time.Second,
	}
}

// Run consumes until ctx is cancelled. Entries that fail delivery are left
// pending and are retried on the next start.
func (w *NotificationWorker) Run(ctx context.Context) error {
	if err := w.ensureGroup(ctx); err != nil {
		return err
	}
	w.logger.Info("notification worker started", zap.String("consumer", w.consumer))

	// drain our own pending entries first, then switch to new ones
	cursor := "0"
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := w.Poll(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("read notification stream", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if cursor == "0" && n == 0 {
			cursor = ">"
		}
	}
}

// Poll reads one batch starting at cursor and delivers it. It returns the
// number of entries read.
func (w *NotificationWorker) Poll(ctx context.Context, cursor string) (int, error) {
	block := w.block
	if cursor != ">" {
		block = -1
	}
	streams, err := w.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    w.group,
		Consumer: w.consumer,
		Streams:  []string{w.stream, cursor},
		Count:    w.batch,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	read := 0
	for _, s := range streams {
		for _, msg := range s.Messages {
			read++
			w.handle(ctx, msg)
		}
	}
	return read, nil
}

func (w *NotificationWorker) handle(ctx context.Context, msg redis.XMessage) {
	intent, err := notify.ParseIntent(msg.Values)
	if err != nil {
		// malformed entries never become deliverable
		w.logger.Warn("dropping malformed notification", zap.String("entry", msg.ID), zap.Error(err))
		w.ack(ctx, msg.ID)
		return
	}
	if err := w.deliverer.Deliver(ctx, intent); err != nil {
		w.logger.Warn("notification delivery failed",
			zap.String("entry", msg.ID),
			zap.String("intent", intent.ID),
			zap.Error(err))
		return
	}
	w.ack(ctx, msg.ID)
}

func (w *NotificationWorker) ack(ctx context.Context, id string) {
	if err := w.client.XAck(ctx, w.stream, w.group, id).Err(); err != nil {
		w.logger.Warn("ack notification", zap.String("entry", id), zap.Error(err))
	}
}

func (w *NotificationWorker) ensureGroup(ctx context.Context) error {
	err := w.client.XGroupCreateMkStream(ctx, w.stream, w.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}
