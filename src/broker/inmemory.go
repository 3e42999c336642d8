package broker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// maxPollBatch caps how many records one Poll returns.
const maxPollBatch = 500

type memTopic struct {
	partitions [][]Message
	next       int // round-robin cursor for unkeyed records
}

type groupPartition struct {
	topic     string
	partition int32
}

// InMemoryBroker is a single-process Dialer with partitioned topics and
// consumer-group offsets. Consumers start from the earliest offset. Used for
// tests and local mode.
type InMemoryBroker struct {
	mu        sync.Mutex
	topics    map[string]*memTopic
	offsets   map[string]map[groupPartition]int64 // groupID -> next offset to hand out
	committed map[string]map[groupPartition]int64 // groupID -> offset to resume from
	notify    chan struct{}                       // closed and replaced on every append or rewind
	closed    bool
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		topics:    make(map[string]*memTopic),
		offsets:   make(map[string]map[groupPartition]int64),
		committed: make(map[string]map[groupPartition]int64),
		notify:    make(chan struct{}),
	}
}

// Dial implements Dialer.
func (b *InMemoryBroker) Dial(ctx context.Context, spec DialSpec) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}
	return &memConn{broker: b, spec: spec, done: make(chan struct{})}, nil
}

// Partitions returns the partition count of topic, or 0 if it does not exist.
func (b *InMemoryBroker) Partitions(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.topics[topic]; ok {
		return len(t.partitions)
	}
	return 0
}

// Close wakes every poller and rejects further dials.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.notify)
	return nil
}

func (b *InMemoryBroker) createTopic(name string, policy TopicPolicy) error {
	if policy.Partitions <= 0 {
		return fmt.Errorf("invalid partition count %d", policy.Partitions)
	}
	if policy.ReplicationFactor <= 0 {
		return fmt.Errorf("invalid replication factor %d", policy.ReplicationFactor)
	}
	if _, ok := b.topics[name]; ok {
		return fmt.Errorf("%w: %s", ErrTopicExists, name)
	}
	b.topics[name] = &memTopic{partitions: make([][]Message, policy.Partitions)}
	return nil
}

func (b *InMemoryBroker) append(topic string, key, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	t, ok := b.topics[topic]
	if !ok {
		// Auto-create like a broker with auto.create.topics.enable.
		t = &memTopic{partitions: make([][]Message, 1)}
		b.topics[topic] = t
	}

	var partition int
	if len(key) > 0 {
		h := fnv.New32a()
		h.Write(key)
		partition = int(h.Sum32() % uint32(len(t.partitions)))
	} else {
		partition = t.next % len(t.partitions)
		t.next++
	}

	msg := Message{
		Topic:     topic,
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Partition: int32(partition),
		Offset:    int64(len(t.partitions[partition])),
		Timestamp: time.Now().UnixMilli(),
	}
	t.partitions[partition] = append(t.partitions[partition], msg)

	b.wake()
	return nil
}

// wake releases every blocked poller. Callers hold b.mu.
func (b *InMemoryBroker) wake() {
	close(b.notify)
	b.notify = make(chan struct{})
}

// commit moves the group's resume point past msgs.
func (b *InMemoryBroker) commit(groupID string, msgs []Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	committed, ok := b.committed[groupID]
	if !ok {
		committed = make(map[groupPartition]int64)
		b.committed[groupID] = committed
	}
	for _, m := range msgs {
		gp := groupPartition{topic: m.Topic, partition: m.Partition}
		if next := m.Offset + 1; next > committed[gp] {
			committed[gp] = next
		}
	}
	return nil
}

// rewind returns records claimed but not committed on topics to the group,
// as a broker does when a member leaves.
func (b *InMemoryBroker) rewind(groupID string, topics []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	offsets := b.offsets[groupID]
	committed := b.committed[groupID]
	rewound := false
	for gp, next := range offsets {
		if !containsTopic(topics, gp.topic) {
			continue
		}
		if resume := committed[gp]; resume < next {
			offsets[gp] = resume
			rewound = true
		}
	}
	if rewound {
		b.wake()
	}
}

func containsTopic(topics []string, topic string) bool {
	for _, t := range topics {
		if t == topic {
			return true
		}
	}
	return false
}

// fetch claims pending records for groupID and returns them with the channel
// to wait on when there were none.
func (b *InMemoryBroker) fetch(groupID string, topics []string) ([]Message, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, nil, ErrClosed
	}

	offsets, ok := b.offsets[groupID]
	if !ok {
		offsets = make(map[groupPartition]int64)
		b.offsets[groupID] = offsets
	}

	var out []Message
	for _, name := range topics {
		t, ok := b.topics[name]
		if !ok {
			continue
		}
		for p, log := range t.partitions {
			gp := groupPartition{topic: name, partition: int32(p)}
			from := offsets[gp]
			for from < int64(len(log)) && len(out) < maxPollBatch {
				out = append(out, log[from])
				from++
			}
			offsets[gp] = from
		}
	}
	return out, b.notify, nil
}

type memConn struct {
	broker *InMemoryBroker
	spec   DialSpec
	once   sync.Once
	done   chan struct{}
}

func (c *memConn) Produce(ctx context.Context, topic string, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	return c.broker.append(topic, key, value)
}

func (c *memConn) Poll(ctx context.Context) ([]Message, error) {
	if c.spec.Role != RoleConsumer {
		return nil, errors.New("poll on a non-consumer connection")
	}
	for {
		if c.isClosed() {
			return nil, ErrClosed
		}
		msgs, wake, err := c.broker.fetch(c.spec.GroupID, c.spec.Topics)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.done:
			return nil, ErrClosed
		case <-wake:
		}
	}
}

func (c *memConn) CreateTopics(ctx context.Context, policy TopicPolicy, topics ...string) (map[string]error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.isClosed() {
		return nil, ErrClosed
	}
	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()
	if c.broker.closed {
		return nil, ErrClosed
	}

	results := make(map[string]error, len(topics))
	for _, t := range topics {
		results[t] = c.broker.createTopic(t, policy)
	}
	return results, nil
}

func (c *memConn) Commit(msgs ...Message) error {
	if c.spec.Role != RoleConsumer {
		return errors.New("commit on a non-consumer connection")
	}
	if c.isClosed() {
		return ErrClosed
	}
	return c.broker.commit(c.spec.GroupID, msgs)
}

func (c *memConn) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.spec.Role == RoleConsumer {
			c.broker.rewind(c.spec.GroupID, c.spec.Topics)
		}
	})
}

func (c *memConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
