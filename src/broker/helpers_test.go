package broker

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"
)

// fastPolicy keeps retry tests quick.
func fastPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		Multiplier:          2,
		RandomizationFactor: 0,
		AttemptTimeout:      time.Second,
	}
}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

type pollResult struct {
	msgs []Message
	err  error
}

// fakeConn records calls and returns scripted results. Poll returns the
// scripted polls in order, then blocks until ctx is done.
type fakeConn struct {
	mu          sync.Mutex
	polls       []pollResult
	committed   []Message
	produced    []Message
	produceErr  error
	createErr   error
	results     map[string]error
	closeCalls  int
	createCalls int
}

func (c *fakeConn) Produce(ctx context.Context, topic string, key, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.produceErr != nil {
		return c.produceErr
	}
	c.produced = append(c.produced, Message{Topic: topic, Key: key, Value: value})
	return nil
}

func (c *fakeConn) Poll(ctx context.Context) ([]Message, error) {
	c.mu.Lock()
	if len(c.polls) > 0 {
		next := c.polls[0]
		c.polls = c.polls[1:]
		c.mu.Unlock()
		return next.msgs, next.err
	}
	c.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) Commit(msgs ...Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, msgs...)
	return nil
}

func (c *fakeConn) commits() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.committed...)
}

func (c *fakeConn) CreateTopics(ctx context.Context, policy TopicPolicy, topics ...string) (map[string]error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.createCalls++
	if c.createErr != nil {
		return nil, c.createErr
	}
	out := make(map[string]error, len(topics))
	for _, t := range topics {
		out[t] = c.results[t]
	}
	return out, nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
}

func (c *fakeConn) closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// scriptedDialer fails with errs in order, then hands out conn.
type scriptedDialer struct {
	mu    sync.Mutex
	errs  []error
	conn  Conn
	calls int
	specs []DialSpec
}

func (d *scriptedDialer) Dial(ctx context.Context, spec DialSpec) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.specs = append(d.specs, spec)
	if d.calls <= len(d.errs) {
		return nil, d.errs[d.calls-1]
	}
	if d.conn == nil {
		return &fakeConn{}, nil
	}
	return d.conn, nil
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// recordingLogger captures formatted lines per level.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) add(level, msg string, args []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(msg, args...))
}

func (l *recordingLogger) Info(msg string, args ...interface{})  { l.add("INFO", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...interface{})  { l.add("WARN", msg, args) }
func (l *recordingLogger) Error(msg string, args ...interface{}) { l.add("ERROR", msg, args) }
func (l *recordingLogger) Debug(msg string, args ...interface{}) { l.add("DEBUG", msg, args) }

func (l *recordingLogger) count(level, substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if strings.HasPrefix(line, level+" ") && strings.Contains(line, substr) {
			n++
		}
	}
	return n
}
