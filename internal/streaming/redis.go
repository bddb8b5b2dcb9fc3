package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/stepflow/internal/metrics"
)

const (
	streamKeyPrefix = "stepflow:events:"
	streamMaxLen    = 1000
)

// RedisManager publishes session events to per-session Redis Streams
// so subscribers in other processes can follow and replay a run.
type RedisManager struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisManager creates a Redis Streams event manager.
func NewRedisManager(client redis.UniversalClient, logger *zap.Logger) *RedisManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisManager{client: client, logger: logger}
}

func streamKey(sessionID string) string { return streamKeyPrefix + sessionID }

// Publish appends the event to the session's stream. Failures are
// logged, not surfaced; event delivery is best-effort by design of the
// broadcast collaborators.
func (m *RedisManager) Publish(sessionID string, evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	evt.SessionID = sessionID

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(sessionID),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"event": string(evt.Marshal())},
	}).Err()
	if err != nil {
		m.logger.Warn("Failed to publish event",
			zap.String("session_id", sessionID),
			zap.String("type", evt.Type),
			zap.Error(err),
		)
		return
	}
	metrics.EventsPublished.WithLabelValues(evt.Type).Inc()
}

// Subscribe follows the session's stream from the entry after seq and
// forwards decoded events to ch until ctx is done. The caller owns ch.
// Sequence numbers are positional within the stream, so a Seq obtained
// here resumes correctly through ReplaySince and vice versa.
func (m *RedisManager) Subscribe(ctx context.Context, sessionID string, since uint64, ch chan<- Event) error {
	lastID := "0"
	pos := uint64(0)
	if since > 0 {
		if id, ok := m.idForSeq(ctx, sessionID, since); ok {
			lastID = id
			pos = since
		}
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := m.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{streamKey(sessionID), lastID},
			Block:   time.Second,
			Count:   64,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				pos++
				if evt, ok := decodeStreamEvent(msg); ok {
					evt.Seq = pos
					select {
					case ch <- evt:
					case <-ctx.Done():
						return nil
					}
				}
			}
		}
	}
}

// ReplaySince returns the session's retained events with Seq > since.
// Sequence numbers are assigned from stream position, starting at 1.
func (m *RedisManager) ReplaySince(sessionID string, since uint64) []Event {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	msgs, err := m.client.XRange(ctx, streamKey(sessionID), "-", "+").Result()
	if err != nil {
		m.logger.Warn("Failed to replay events",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil
	}
	out := make([]Event, 0, len(msgs))
	for i, msg := range msgs {
		seq := uint64(i + 1)
		if seq <= since {
			continue
		}
		if evt, ok := decodeStreamEvent(msg); ok {
			evt.Seq = seq
			out = append(out, evt)
		}
	}
	return out
}

// idForSeq maps a positional sequence number back to a stream entry id.
func (m *RedisManager) idForSeq(ctx context.Context, sessionID string, seq uint64) (string, bool) {
	msgs, err := m.client.XRange(ctx, streamKey(sessionID), "-", "+").Result()
	if err != nil || uint64(len(msgs)) < seq {
		return "", false
	}
	return msgs[seq-1].ID, true
}

func decodeStreamEvent(msg redis.XMessage) (Event, bool) {
	raw, ok := msg.Values["event"].(string)
	if !ok {
		return Event{}, false
	}
	var evt Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		return Event{}, false
	}
	return evt, true
}
