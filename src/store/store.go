// Package store defines the delivery journal: an append-only record of the
// messages a subscriber has consumed.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"topicbus/src/broker"
)

// DefaultRecentLimit is used by Recent when limit is not positive.
const DefaultRecentLimit = 50

// Delivery is one consumed message as recorded in the journal.
type Delivery struct {
	ID         int64
	GroupID    string
	Topic      string
	Partition  int32
	Offset     int64
	Key        string
	Value      json.RawMessage
	ReceivedAt time.Time
}

// Journal persists deliveries.
type Journal interface {
	// Append records one delivery.
	Append(ctx context.Context, d Delivery) error

	// Recent returns up to limit deliveries for topic, newest first. An
	// empty topic matches every topic.
	Recent(ctx context.Context, topic string, limit int) ([]Delivery, error)

	// Close closes the journal connection
	Close() error
}

// ErrInvalidPayload is returned when a delivery value is not JSON.
var ErrInvalidPayload = errors.New("delivery value is not valid JSON")

// Handler adapts j into a broker.Handler that journals every message for
// groupID. Bodies that are not JSON are rejected with a
// *broker.MessageDecodeError so the subscriber drops them the same way the
// cache does.
func Handler(j Journal, groupID string) broker.Handler {
	return broker.HandlerFunc(func(ctx context.Context, msg broker.Message) error {
		if !json.Valid(msg.Value) {
			return &broker.MessageDecodeError{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Err:       ErrInvalidPayload,
			}
		}
		return j.Append(ctx, Delivery{
			GroupID:    groupID,
			Topic:      msg.Topic,
			Partition:  msg.Partition,
			Offset:     msg.Offset,
			Key:        string(msg.Key),
			Value:      append(json.RawMessage(nil), msg.Value...),
			ReceivedAt: time.Now().UTC(),
		})
	})
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}
