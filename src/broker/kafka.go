package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"

	"topicbus/src/logger"
)

const (
	// defaultCreateTimeout is sent to the broker when ctx carries no deadline.
	defaultCreateTimeout = 30 * time.Second
	// minCreateTimeout keeps the broker-side timeout positive when the
	// deadline has already passed.
	minCreateTimeout = 100 * time.Millisecond
)

// KafkaDialer opens franz-go clients against a Kafka-compatible cluster
// (Kafka, Redpanda). Each Dial creates one client and pings it.
type KafkaDialer struct {
	brokers []string
	logger  logger.Logger
	extra   []kgo.Opt
}

// NewKafkaDialer creates a dialer for the given seed brokers
// (e.g., ["localhost:19092"]). extra options are appended to every client.
func NewKafkaDialer(brokers []string, log logger.Logger, extra ...kgo.Opt) *KafkaDialer {
	return &KafkaDialer{brokers: brokers, logger: log, extra: extra}
}

// Dial creates a client for spec and verifies a broker answers.
func (d *KafkaDialer) Dial(ctx context.Context, spec DialSpec) (Conn, error) {
	if len(d.brokers) == 0 {
		return nil, fmt.Errorf("%w: at least one broker address is required", ErrInvalidDialSpec)
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(d.brokers...),
		kgo.ClientID(spec.ClientID),
	}
	if d.logger != nil {
		opts = append(opts, kgo.WithLogger(newKgoLogger(d.logger, kgo.LogLevelWarn)))
	}

	switch spec.Role {
	case RoleProducer:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
		if len(spec.Topics) > 0 {
			opts = append(opts, kgo.DefaultProduceTopic(spec.Topics[0]))
		}
	case RoleConsumer:
		opts = append(opts,
			kgo.ConsumerGroup(spec.GroupID),
			kgo.ConsumeTopics(spec.Topics...),
			kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()), // Start from beginning
			// Only offsets passed to Commit are committed, including on close.
			kgo.AutoCommitMarks(),
		)
	}
	opts = append(opts, d.extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		// NewClient only fails on invalid options.
		return nil, fmt.Errorf("%w: %v", ErrInvalidDialSpec, err)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return &kafkaConn{client: client, polled: make(map[recordKey]*kgo.Record)}, nil
}

type recordKey struct {
	topic     string
	partition int32
	offset    int64
}

type kafkaConn struct {
	client *kgo.Client
	once   sync.Once

	mu     sync.Mutex
	polled map[recordKey]*kgo.Record // polled, not yet committed
}

func (c *kafkaConn) Produce(ctx context.Context, topic string, key, value []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		if errors.Is(err, kgo.ErrClientClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (c *kafkaConn) Poll(ctx context.Context) ([]Message, error) {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var msgs []Message
	c.mu.Lock()
	fetches.EachRecord(func(record *kgo.Record) {
		c.polled[recordKey{record.Topic, record.Partition, record.Offset}] = record
		msgs = append(msgs, Message{
			Topic:     record.Topic,
			Key:       record.Key,
			Value:     record.Value,
			Offset:    record.Offset,
			Partition: record.Partition,
			Timestamp: record.Timestamp.UnixMilli(),
		})
	})
	c.mu.Unlock()

	var errs []error
	for _, fe := range fetches.Errors() {
		if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
			continue
		}
		errs = append(errs, fmt.Errorf("fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err))
	}
	return msgs, errors.Join(errs...)
}

// Commit marks the polled records for the client's next autocommit.
func (c *kafkaConn) Commit(msgs ...Message) error {
	c.mu.Lock()
	records := make([]*kgo.Record, 0, len(msgs))
	for _, m := range msgs {
		key := recordKey{m.Topic, m.Partition, m.Offset}
		if r, ok := c.polled[key]; ok {
			records = append(records, r)
			delete(c.polled, key)
		}
	}
	c.mu.Unlock()

	if len(records) > 0 {
		c.client.MarkCommitRecords(records...)
	}
	return nil
}

func (c *kafkaConn) CreateTopics(ctx context.Context, policy TopicPolicy, topics ...string) (map[string]error, error) {
	req := kmsg.NewPtrCreateTopicsRequest()
	req.TimeoutMillis = createTimeoutMillis(ctx)
	for _, topic := range topics {
		rt := kmsg.NewCreateTopicsRequestTopic()
		rt.Topic = topic
		rt.NumPartitions = policy.Partitions
		rt.ReplicationFactor = policy.ReplicationFactor
		req.Topics = append(req.Topics, rt)
	}

	resp, err := req.RequestWith(ctx, c.client)
	if err != nil {
		return nil, fmt.Errorf("create topics request: %w", err)
	}

	results := make(map[string]error, len(resp.Topics))
	for _, t := range resp.Topics {
		err := kerr.ErrorForCode(t.ErrorCode)
		switch {
		case err == nil:
			results[t.Topic] = nil
		case errors.Is(err, kerr.TopicAlreadyExists):
			results[t.Topic] = fmt.Errorf("%w: %s", ErrTopicExists, t.Topic)
		case t.ErrorMessage != nil && *t.ErrorMessage != "":
			results[t.Topic] = fmt.Errorf("%w: %s", err, *t.ErrorMessage)
		default:
			results[t.Topic] = err
		}
	}
	return results, nil
}

// createTimeoutMillis is the broker-side CreateTopics timeout for ctx.
func createTimeoutMillis(ctx context.Context) int32 {
	timeout := defaultCreateTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout < minCreateTimeout {
		timeout = minCreateTimeout
	}
	return int32(timeout.Milliseconds())
}

func (c *kafkaConn) Close() {
	c.once.Do(c.client.Close)
}

// kgoLogger forwards franz-go client logs to the project logger.
type kgoLogger struct {
	log   logger.Logger
	level kgo.LogLevel
}

func newKgoLogger(log logger.Logger, level kgo.LogLevel) *kgoLogger {
	return &kgoLogger{log: log, level: level}
}

func (l *kgoLogger) Level() kgo.LogLevel {
	return l.level
}

func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...any) {
	line := "[kgo] " + msg + formatKeyvals(keyvals)
	switch level {
	case kgo.LogLevelError:
		l.log.Error("%s", line)
	case kgo.LogLevelWarn:
		l.log.Warn("%s", line)
	case kgo.LogLevelInfo:
		l.log.Info("%s", line)
	default:
		l.log.Debug("%s", line)
	}
}

func formatKeyvals(keyvals []any) string {
	if len(keyvals) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < len(keyvals); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(keyvals) {
			fmt.Fprintf(&b, "%v=%v", keyvals[i], keyvals[i+1])
		} else {
			fmt.Fprintf(&b, "%v", keyvals[i])
		}
	}
	return b.String()
}
