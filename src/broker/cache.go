package broker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"topicbus/src/logger"
	"topicbus/src/metrics"
)

// watchBuffer is the notification backlog per watcher.
const watchBuffer = 16

// Entry is the last decoded value seen on a topic.
type Entry struct {
	Topic     string
	Value     any
	Raw       json.RawMessage
	Partition int32
	Offset    int64
	UpdatedAt time.Time
}

type watcher struct {
	topics map[string]struct{}
	ch     chan Entry
}

func (w *watcher) wants(topic string) bool {
	if len(w.topics) == 0 {
		return true
	}
	_, ok := w.topics[topic]
	return ok
}

// Cache keeps the most recent JSON value per topic. It is a Handler, so it is
// written by a Subscriber's dispatch loop and read from anywhere. Values
// returned by Get are shared and must not be modified.
type Cache struct {
	logger  logger.Logger
	metrics *metrics.BusMetrics
	now     func() time.Time

	mu       sync.RWMutex
	entries  map[string]Entry
	watchers map[int]*watcher
	nextID   int
}

// NewCache creates an empty cache. log and m may be nil.
func NewCache(log logger.Logger, m *metrics.BusMetrics) *Cache {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	if m == nil {
		m = metrics.Discard()
	}
	return &Cache{
		logger:   log,
		metrics:  m,
		now:      time.Now,
		entries:  make(map[string]Entry),
		watchers: make(map[int]*watcher),
	}
}

// HandleMessage decodes msg and stores it as the topic's current value.
// Malformed bodies leave the previous value in place and return a
// *MessageDecodeError.
func (c *Cache) HandleMessage(ctx context.Context, msg Message) error {
	var value any
	if err := json.Unmarshal(msg.Value, &value); err != nil {
		return &MessageDecodeError{Topic: msg.Topic, Partition: msg.Partition, Offset: msg.Offset, Err: err}
	}

	entry := Entry{
		Topic:     msg.Topic,
		Value:     value,
		Raw:       append(json.RawMessage(nil), msg.Value...),
		Partition: msg.Partition,
		Offset:    msg.Offset,
		UpdatedAt: c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[msg.Topic] = entry
	c.metrics.CacheUpdatesTotal.WithLabelValues(msg.Topic).Inc()

	for _, w := range c.watchers {
		if !w.wants(msg.Topic) {
			continue
		}
		select {
		case w.ch <- entry:
		default:
			c.metrics.NotificationsDroppedTotal.Inc()
		}
	}

	c.logger.Debug("[Cache] '%s' updated from partition %d offset %d", msg.Topic, msg.Partition, msg.Offset)
	return nil
}

// Get returns the current value for topic.
func (c *Cache) Get(topic string) (any, bool) {
	e, ok := c.Entry(topic)
	return e.Value, ok
}

// Entry returns the current value for topic along with where it came from.
func (c *Cache) Entry(topic string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[topic]
	return e, ok
}

// Topics lists the topics holding a value, sorted.
func (c *Cache) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for t := range c.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Watch returns a channel that receives an Entry each time one of topics is
// updated, or every topic when none are given. A watcher that falls behind
// misses notifications; Get always has the latest value. The returned
// function stops the watch and closes the channel.
func (c *Cache) Watch(topics ...string) (<-chan Entry, func()) {
	w := &watcher{
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Entry, watchBuffer),
	}
	for _, t := range topics {
		w.topics[t] = struct{}{}
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.watchers[id] = w
	c.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.watchers, id)
			close(w.ch)
			c.mu.Unlock()
		})
	}
	return w.ch, stop
}

// Lookup decodes the current raw value of topic into T.
func Lookup[T any](c *Cache, topic string) (T, bool, error) {
	var out T
	e, ok := c.Entry(topic)
	if !ok {
		return out, false, nil
	}
	if err := json.Unmarshal(e.Raw, &out); err != nil {
		return out, true, err
	}
	return out, true, nil
}
