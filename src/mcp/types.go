// Package mcp exposes the topic cache and publishers as MCP tools so an LLM
// client can read the latest value of a topic and publish to it.
package mcp

import (
	"encoding/json"
	"time"
)

// TopicSummary is one row of list_topics.
type TopicSummary struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatestValue is the get_latest response.
type LatestValue struct {
	TopicSummary
	Value json.RawMessage `json:"value"`
}

// PublishResult is the publish response.
type PublishResult struct {
	Topic     string `json:"topic"`
	Published bool   `json:"published"`
}

// DeliveryItem is one row of recent_deliveries.
type DeliveryItem struct {
	GroupID    string          `json:"group_id"`
	Partition  int32           `json:"partition"`
	Offset     int64           `json:"offset"`
	Key        string          `json:"key,omitempty"`
	Value      json.RawMessage `json:"value"`
	ReceivedAt time.Time       `json:"received_at"`
}
