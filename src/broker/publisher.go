package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"topicbus/src/logger"
	"topicbus/src/metrics"
)

// Publisher sends JSON payloads to one topic over its own producer connection.
// It is safe for concurrent use; each Publish waits for the broker's ack.
type Publisher struct {
	topic   string
	logger  logger.Logger
	metrics *metrics.BusMetrics

	mu     sync.RWMutex
	handle *Handle
}

// Topic returns the topic the publisher is bound to.
func (p *Publisher) Topic() string {
	return p.topic
}

// Publish JSON-encodes payload and sends it.
func (p *Publisher) Publish(ctx context.Context, payload any) error {
	if p == nil {
		return &PublishError{Err: ErrNotConnected}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &PublishError{Topic: p.topic, Err: fmt.Errorf("encode payload: %w", err)}
	}
	return p.PublishRaw(ctx, nil, data)
}

// PublishRaw sends an already encoded value with an optional partition key.
func (p *Publisher) PublishRaw(ctx context.Context, key, value []byte) error {
	if p == nil {
		return &PublishError{Err: ErrNotConnected}
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.handle == nil {
		return &PublishError{Topic: p.topic, Err: ErrNotConnected}
	}
	conn := p.handle.Conn()
	if conn == nil {
		return &PublishError{Topic: p.topic, Err: ErrNotConnected}
	}

	start := time.Now()
	err := conn.Produce(ctx, p.topic, key, value)
	p.metrics.PublishDuration.WithLabelValues(p.topic).Observe(time.Since(start).Seconds())
	if err != nil {
		p.metrics.PublishTotal.WithLabelValues(p.topic, "error").Inc()
		p.logger.Error("[Publisher] Failed to publish to '%s': %v", p.topic, err)
		return &PublishError{Topic: p.topic, Err: err}
	}

	p.metrics.PublishTotal.WithLabelValues(p.topic, "ok").Inc()
	p.logger.Debug("[Publisher] Published %d bytes to '%s'", len(value), p.topic)
	return nil
}

// Shutdown releases the producer connection. Later calls are no-ops.
func (p *Publisher) Shutdown() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle == nil {
		return nil
	}
	p.handle.Close()
	p.handle = nil
	p.logger.Info("[Publisher] Producer for '%s' disconnected", p.topic)
	return nil
}
