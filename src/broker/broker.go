// Package broker provides the topic-based publish/subscribe layer over a
// Kafka-compatible broker: connection retry, topic provisioning, publishers,
// subscribers and a last-value cache keyed by topic.
package broker

import (
	"context"
	"errors"
)

// Message represents a consumed message from a broker.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Offset    int64
	Partition int32
	Timestamp int64
}

// Role is the kind of connection a Handle represents.
type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// DialSpec describes one connection to open.
type DialSpec struct {
	Role     Role
	ClientID string
	// GroupID is required for consumers and ignored otherwise.
	GroupID string
	// Topics are the subscriptions of a consumer. For a producer the first
	// entry becomes the default produce topic.
	Topics []string
}

func (s DialSpec) validate() error {
	if s.ClientID == "" {
		return errors.Join(ErrInvalidDialSpec, errors.New("client id is required"))
	}
	if s.Role == RoleConsumer {
		if s.GroupID == "" {
			return errors.Join(ErrInvalidDialSpec, errors.New("consumer group id is required"))
		}
		if len(s.Topics) == 0 {
			return errors.Join(ErrInvalidDialSpec, errors.New("consumer needs at least one topic"))
		}
	}
	return nil
}

// GroupIdentity names a consumer to the broker.
type GroupIdentity struct {
	ClientID string
	GroupID  string
}

// TopicPolicy is applied when topics are created.
type TopicPolicy struct {
	Partitions        int32
	ReplicationFactor int16
}

// DefaultTopicPolicy returns three partitions replicated three times.
func DefaultTopicPolicy() TopicPolicy {
	return TopicPolicy{Partitions: 3, ReplicationFactor: 3}
}

// Conn is a single live connection to a broker. Implementations must be safe
// for concurrent use; Close must be idempotent.
type Conn interface {
	// Produce sends one record and waits for the broker acknowledgement.
	Produce(ctx context.Context, topic string, key, value []byte) error

	// Poll blocks until records are available for the consumer, ctx is done,
	// or the connection is closed (ErrClosed). Records and a non-nil error
	// may be returned together when only some partitions failed.
	Poll(ctx context.Context) ([]Message, error)

	// Commit marks polled records as processed. Records polled but never
	// committed are delivered again to the group after this connection closes.
	Commit(msgs ...Message) error

	// CreateTopics requests creation of the given topics and reports a
	// per-topic result. Topics that already exist map to ErrTopicExists.
	CreateTopics(ctx context.Context, policy TopicPolicy, topics ...string) (map[string]error, error)

	Close()
}

// Dialer opens connections. A Dialer performs exactly one attempt per call;
// retrying is the Connector's job.
type Dialer interface {
	Dial(ctx context.Context, spec DialSpec) (Conn, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context, spec DialSpec) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, spec DialSpec) (Conn, error) {
	return f(ctx, spec)
}

// Handler receives every message a Subscriber consumes. Calls are made
// sequentially from the dispatch goroutine.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function into a Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Chain runs every handler for each message, in order, and joins their errors.
func Chain(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) error {
		var errs []error
		for _, h := range handlers {
			if h == nil {
				continue
			}
			if err := h.HandleMessage(ctx, msg); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
