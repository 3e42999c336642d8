package mcp

import (
	"context"
	"sync"

	"topicbus/src/broker"
)

// PublisherFactory creates connected publishers. *broker.Bus satisfies it.
type PublisherFactory interface {
	NewPublisher(ctx context.Context, topic, clientID string) (*broker.Publisher, error)
}

// PublisherPool keeps one publisher per topic, created on first use.
type PublisherPool struct {
	factory  PublisherFactory
	clientID string

	mu         sync.Mutex
	publishers map[string]*broker.Publisher
}

// NewPublisherPool creates a pool whose publishers connect as clientID.
func NewPublisherPool(factory PublisherFactory, clientID string) *PublisherPool {
	return &PublisherPool{
		factory:    factory,
		clientID:   clientID,
		publishers: make(map[string]*broker.Publisher),
	}
}

// Get returns the publisher for topic, creating it if needed. Creation holds
// the pool lock, so concurrent first publishes to a topic connect once.
func (p *PublisherPool) Get(ctx context.Context, topic string) (*broker.Publisher, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pub, ok := p.publishers[topic]; ok {
		return pub, nil
	}
	pub, err := p.factory.NewPublisher(ctx, topic, p.clientID)
	if err != nil {
		return nil, err
	}
	p.publishers[topic] = pub
	return pub, nil
}

// Len returns how many publishers are open.
func (p *PublisherPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.publishers)
}

// Shutdown closes every publisher in the pool.
func (p *PublisherPool) Shutdown() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	parts := make([]broker.Shutdowner, 0, len(p.publishers))
	for topic, pub := range p.publishers {
		parts = append(parts, pub)
		delete(p.publishers, topic)
	}
	return broker.ShutdownAll(parts...)
}
