package broker

import (
	"context"
	"errors"
	"fmt"

	"topicbus/src/logger"
	"topicbus/src/metrics"
)

// BusConfig lists every option the Bus recognises. Zero fields take defaults
// once, in NewBus.
type BusConfig struct {
	Retry      RetryPolicy
	Topics     TopicPolicy
	Classifier Classifier
	Logger     logger.Logger
	Metrics    *metrics.BusMetrics
}

func (c BusConfig) withDefaults() BusConfig {
	c.Retry = c.Retry.withDefaults()
	if c.Topics.Partitions == 0 && c.Topics.ReplicationFactor == 0 {
		c.Topics = DefaultTopicPolicy()
	}
	if c.Classifier == nil {
		c.Classifier = DefaultClassifier
	}
	if c.Logger == nil {
		c.Logger = logger.NewSilentLogger()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Discard()
	}
	return c
}

// Bus creates publishers and subscribers that share one Dialer and policy.
// Every publisher and subscriber still owns its own connection.
type Bus struct {
	cfg       BusConfig
	connector *Connector
}

// NewBus creates a Bus over d.
func NewBus(d Dialer, cfg BusConfig) *Bus {
	cfg = cfg.withDefaults()
	return &Bus{
		cfg: cfg,
		connector: NewConnector(d,
			WithRetryPolicy(cfg.Retry),
			WithClassifier(cfg.Classifier),
			WithLogger(cfg.Logger),
			WithMetrics(cfg.Metrics),
		),
	}
}

// Connector exposes the underlying connection manager.
func (b *Bus) Connector() *Connector {
	return b.connector
}

// Provisioner returns a topic provisioner that connects as clientID.
func (b *Bus) Provisioner(clientID string) *Provisioner {
	return NewProvisioner(b.connector, clientID, b.cfg.Topics, b.cfg.Logger)
}

// NewPublisher provisions topic, then connects a producer bound to it.
func (b *Bus) NewPublisher(ctx context.Context, topic, clientID string) (*Publisher, error) {
	if topic == "" {
		return nil, &PublishError{Err: errors.New("topic is required")}
	}
	if clientID == "" {
		return nil, &ConnectError{Role: RoleProducer, Fatal: true,
			Err: errors.Join(ErrInvalidDialSpec, errors.New("client id is required"))}
	}

	if err := b.Provisioner(clientID+"-admin").EnsureTopics(ctx, topic); err != nil {
		return nil, fmt.Errorf("publisher for %q: %w", topic, err)
	}

	h, err := b.connector.Connect(ctx, DialSpec{
		Role:     RoleProducer,
		ClientID: clientID,
		Topics:   []string{topic},
	})
	if err != nil {
		return nil, err
	}

	return &Publisher{
		topic:   topic,
		logger:  b.cfg.Logger,
		metrics: b.cfg.Metrics,
		handle:  h,
	}, nil
}

// NewSubscriber connects a consumer for id, subscribes to topics from the
// earliest offset and starts dispatching to h in the background. ctx bounds
// the connect only; use Shutdown to stop the subscriber.
func (b *Bus) NewSubscriber(ctx context.Context, id GroupIdentity, topics []string, h Handler) (*Subscriber, error) {
	if h == nil {
		return nil, errors.New("subscriber: handler is required")
	}

	s := &Subscriber{
		id:      id,
		topics:  uniqueTopics(topics),
		handler: h,
		policy:  b.cfg.Retry,
		logger:  b.cfg.Logger,
		metrics: b.cfg.Metrics,
		done:    make(chan struct{}),
	}
	s.state.Store(int32(StateConnecting))

	handle, err := b.connector.Connect(ctx, DialSpec{
		Role:     RoleConsumer,
		ClientID: id.ClientID,
		GroupID:  id.GroupID,
		Topics:   s.topics,
	})
	if err != nil {
		s.state.Store(int32(StateClosed))
		close(s.done)
		return nil, err
	}

	s.handle = handle
	s.start(ctx)
	return s, nil
}
