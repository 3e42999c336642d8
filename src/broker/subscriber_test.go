package broker

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"topicbus/src/metrics"
)

type call struct {
	topic     string
	partition int32
	value     []byte
}

// recordingHandler forwards every message to a channel.
func recordingHandler(out chan<- call) Handler {
	return HandlerFunc(func(ctx context.Context, msg Message) error {
		out <- call{topic: msg.Topic, partition: msg.Partition, value: msg.Value}
		return nil
	})
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for message")
	}
	var zero T
	return zero
}

func TestPublishThenSubscribe_OrderDeliveredOnce(t *testing.T) {
	brk := NewInMemoryBroker()
	defer brk.Close()
	bus := newTestBus(brk, nil)
	ctx := context.Background()

	pub, err := bus.NewPublisher(ctx, "orders", "svc-a")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Shutdown()

	if err := pub.Publish(ctx, map[string]any{"id": 1, "total": 9.99}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	calls := make(chan call, 10)
	sub, err := bus.NewSubscriber(ctx, GroupIdentity{ClientID: "svc-b", GroupID: "g1"}, []string{"orders"}, recordingHandler(calls))
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Shutdown()

	got := waitFor(t, calls)
	if got.topic != "orders" {
		t.Errorf("topic = %q, want orders", got.topic)
	}
	if got.partition != 0 {
		t.Errorf("partition = %d, want 0", got.partition)
	}
	var body map[string]any
	if err := json.Unmarshal(got.value, &body); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if want := map[string]any{"id": 1.0, "total": 9.99}; !reflect.DeepEqual(body, want) {
		t.Errorf("body = %v, want %v", body, want)
	}

	select {
	case extra := <-calls:
		t.Errorf("callback invoked again: %+v", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishRoundTrip_ThroughCache(t *testing.T) {
	type summary struct {
		Title  string   `json:"title"`
		Points []string `json:"points"`
	}

	brk := NewInMemoryBroker()
	defer brk.Close()
	bus := newTestBus(brk, nil)
	ctx := context.Background()

	cache := NewCache(nil, nil)
	updates, stop := cache.Watch("news.summaries")
	defer stop()

	sub, err := bus.NewSubscriber(ctx, GroupIdentity{ClientID: "reader", GroupID: "readers"}, []string{"news.summaries"}, cache)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Shutdown()

	pub, err := bus.NewPublisher(ctx, "news.summaries", "writer")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Shutdown()

	sent := summary{Title: "Rates unchanged", Points: []string{"inflation steady", "next meeting in June"}}
	if err := pub.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitFor(t, updates)
	got, ok, err := Lookup[summary](cache, "news.summaries")
	if err != nil || !ok {
		t.Fatalf("Lookup() = %v, %v", ok, err)
	}
	if !reflect.DeepEqual(got, sent) {
		t.Errorf("round trip = %+v, want %+v", got, sent)
	}
}

func TestSubscriber_MalformedMessageDoesNotStopDispatch(t *testing.T) {
	brk := NewInMemoryBroker()
	defer brk.Close()
	m := metrics.Discard()
	bus := newTestBus(brk, m)
	ctx := context.Background()

	pub, err := bus.NewPublisher(ctx, "prices", "feed")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Shutdown()

	if err := pub.PublishRaw(ctx, nil, []byte(`{oops`)); err != nil {
		t.Fatalf("PublishRaw failed: %v", err)
	}
	if err := pub.Publish(ctx, map[string]int{"btc": 42}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	cache := NewCache(nil, m)
	updates, stop := cache.Watch("prices")
	defer stop()

	sub, err := bus.NewSubscriber(ctx, GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"prices"}, cache)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Shutdown()

	waitFor(t, updates)
	if got, _ := cache.Get("prices"); !reflect.DeepEqual(got, map[string]any{"btc": 42.0}) {
		t.Errorf("cache = %v, want btc=42", got)
	}
	if v := testutil.ToFloat64(m.DecodeFailuresTotal.WithLabelValues("prices")); v != 1 {
		t.Errorf("decode failures = %v, want 1", v)
	}
	if sub.State() != StateDispatching {
		t.Errorf("State() = %v, want dispatching", sub.State())
	}
}

func TestSubscriber_HandlerPanicAndErrorAreContained(t *testing.T) {
	brk := NewInMemoryBroker()
	defer brk.Close()
	m := metrics.Discard()
	bus := newTestBus(brk, m)
	ctx := context.Background()

	pub, err := bus.NewPublisher(ctx, "jobs", "p")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Shutdown()
	for _, v := range []string{"panic", "fail", "ok"} {
		if err := pub.Publish(ctx, v); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	seen := make(chan string, 3)
	h := HandlerFunc(func(ctx context.Context, msg Message) error {
		var v string
		json.Unmarshal(msg.Value, &v)
		seen <- v
		switch v {
		case "panic":
			panic("handler bug")
		case "fail":
			return errors.New("downstream unavailable")
		}
		return nil
	})

	sub, err := bus.NewSubscriber(ctx, GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"jobs"}, h)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Shutdown()

	for _, want := range []string{"panic", "fail", "ok"} {
		if got := waitFor(t, seen); got != want {
			t.Errorf("handled %q, want %q", got, want)
		}
	}
	if v := testutil.ToFloat64(m.HandlerErrorsTotal.WithLabelValues("jobs")); v != 2 {
		t.Errorf("handler errors = %v, want 2", v)
	}
}

func TestSubscriber_ShutdownIsIdempotent(t *testing.T) {
	brk := NewInMemoryBroker()
	defer brk.Close()
	bus := newTestBus(brk, nil)

	sub, err := bus.NewSubscriber(context.Background(), GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"idle"}, NewCache(nil, nil))
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	if sub.State() != StateDispatching {
		t.Errorf("State() = %v, want dispatching", sub.State())
	}

	if err := sub.Shutdown(); err != nil {
		t.Fatalf("first Shutdown failed: %v", err)
	}
	if err := sub.Shutdown(); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}

	select {
	case <-sub.Done():
	default:
		t.Error("Done() should be closed after Shutdown")
	}
	if sub.State() != StateClosed {
		t.Errorf("State() = %v, want closed", sub.State())
	}

	var nilSub *Subscriber
	if err := nilSub.Shutdown(); err != nil {
		t.Errorf("Shutdown() on nil = %v", err)
	}
}

func TestSubscriber_CreateContextDoesNotStopDispatch(t *testing.T) {
	brk := NewInMemoryBroker()
	defer brk.Close()
	bus := newTestBus(brk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan call, 1)
	sub, err := bus.NewSubscriber(ctx, GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"events"}, recordingHandler(calls))
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	defer sub.Shutdown()
	cancel()

	pub, err := bus.NewPublisher(context.Background(), "events", "p")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Shutdown()
	pub.Publish(context.Background(), "hello")

	waitFor(t, calls)
}

func TestSubscriber_IndependentGroupsInOneProcess(t *testing.T) {
	brk := NewInMemoryBroker()
	defer brk.Close()
	bus := newTestBus(brk, nil)
	ctx := context.Background()

	var mu sync.Mutex
	counts := map[string]int{}
	done := make(chan struct{}, 2)
	handlerFor := func(name string) Handler {
		return HandlerFunc(func(ctx context.Context, msg Message) error {
			mu.Lock()
			counts[name]++
			mu.Unlock()
			done <- struct{}{}
			return nil
		})
	}

	subA, err := bus.NewSubscriber(ctx, GroupIdentity{ClientID: "a", GroupID: "group-a"}, []string{"shared"}, handlerFor("a"))
	if err != nil {
		t.Fatalf("NewSubscriber a failed: %v", err)
	}
	subB, err := bus.NewSubscriber(ctx, GroupIdentity{ClientID: "b", GroupID: "group-b"}, []string{"shared"}, handlerFor("b"))
	if err != nil {
		t.Fatalf("NewSubscriber b failed: %v", err)
	}

	pub, err := bus.NewPublisher(ctx, "shared", "p")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	pub.Publish(ctx, "broadcast")

	waitFor(t, done)
	waitFor(t, done)

	if err := ShutdownAll(pub, subA, subB); err != nil {
		t.Fatalf("ShutdownAll failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if counts["a"] != 1 || counts["b"] != 1 {
		t.Errorf("deliveries = %v, want one per group", counts)
	}
}

func TestNewSubscriber_ConnectFailure(t *testing.T) {
	bus := newTestBus(&scriptedDialer{errs: []error{errors.New("bad config")}}, nil)

	_, err := bus.NewSubscriber(context.Background(), GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"t"}, NewCache(nil, nil))
	if !errors.Is(err, ErrConnectionFatal) {
		t.Errorf("expected ErrConnectionFatal, got %v", err)
	}

	if _, err := bus.NewSubscriber(context.Background(), GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"t"}, nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestSubscriber_ShutdownFromHandler(t *testing.T) {
	brk := NewInMemoryBroker()
	defer brk.Close()
	bus := newTestBus(brk, nil)
	ctx := context.Background()

	var sub *Subscriber
	stateAfter := make(chan State, 1)
	handler := HandlerFunc(func(ctx context.Context, msg Message) error {
		sub.Shutdown()
		stateAfter <- sub.State()
		return nil
	})

	sub, err := bus.NewSubscriber(ctx, GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"stop-after-one"}, handler)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}

	pub, err := bus.NewPublisher(ctx, "stop-after-one", "p")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Shutdown()
	pub.Publish(ctx, 1)

	select {
	case st := <-stateAfter:
		if st != StateClosed {
			t.Errorf("State() inside handler = %v, want closed", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Shutdown called from a handler did not return, state=%v", sub.State())
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not exit")
	}
	if !sub.handle.Closed() {
		t.Error("connection should be released once the handler returns")
	}
	if err := sub.Shutdown(); err != nil {
		t.Errorf("second Shutdown failed: %v", err)
	}
}

func TestSubscriber_ShutdownMidBatchResumesInNewSubscriber(t *testing.T) {
	brk := NewInMemoryBroker()
	defer brk.Close()
	bus := newTestBus(brk, nil)
	ctx := context.Background()
	id := GroupIdentity{ClientID: "worker", GroupID: "jobs-group"}

	pub, err := bus.NewPublisher(ctx, "jobs", "p")
	if err != nil {
		t.Fatalf("NewPublisher failed: %v", err)
	}
	defer pub.Shutdown()
	for i := 0; i < 10; i++ {
		if err := pub.Publish(ctx, i); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	started := make(chan int64, 1)
	unblock := make(chan struct{})
	var firstHandled []int64
	slow := HandlerFunc(func(ctx context.Context, msg Message) error {
		firstHandled = append(firstHandled, msg.Offset)
		started <- msg.Offset
		<-unblock
		return nil
	})

	first, err := bus.NewSubscriber(ctx, id, []string{"jobs"}, slow)
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}
	waitFor(t, started)
	first.Shutdown()
	close(unblock)

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("first subscriber did not stop")
	}
	if len(firstHandled) != 1 {
		t.Fatalf("first subscriber handled %d messages, want 1", len(firstHandled))
	}

	offsets := make(chan int64, 10)
	resumed, err := bus.NewSubscriber(ctx, id, []string{"jobs"}, HandlerFunc(func(ctx context.Context, msg Message) error {
		offsets <- msg.Offset
		return nil
	}))
	if err != nil {
		t.Fatalf("NewSubscriber (resume) failed: %v", err)
	}
	defer resumed.Shutdown()

	seen := map[int64]bool{firstHandled[0]: true}
	for i := 0; i < 9; i++ {
		off := waitFor(t, offsets)
		if seen[off] {
			t.Errorf("offset %d delivered twice", off)
		}
		seen[off] = true
	}
	if len(seen) != 10 {
		t.Errorf("delivered %d of 10 messages across both subscribers", len(seen))
	}
}

func TestSubscriber_FetchErrorIsRetried(t *testing.T) {
	conn := &fakeConn{polls: []pollResult{
		{
			msgs: []Message{{Topic: "jobs", Offset: 0, Value: []byte(`1`)}},
			err:  errors.New("NOT_LEADER_FOR_PARTITION"),
		},
		{err: errors.New("broker not available")},
		{msgs: []Message{{Topic: "jobs", Offset: 1, Value: []byte(`2`)}}},
	}}
	log := &recordingLogger{}
	bus := NewBus(&scriptedDialer{conn: conn}, BusConfig{Retry: fastPolicy(), Logger: log})

	calls := make(chan call, 2)
	sub, err := bus.NewSubscriber(context.Background(), GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"jobs"}, recordingHandler(calls))
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}

	if got := waitFor(t, calls); string(got.value) != "1" {
		t.Errorf("first delivery = %s, want 1", got.value)
	}
	if got := waitFor(t, calls); string(got.value) != "2" {
		t.Errorf("second delivery = %s, want 2", got.value)
	}
	if sub.State() != StateDispatching {
		t.Errorf("State() = %v, want dispatching after fetch errors", sub.State())
	}

	sub.Shutdown()
	if n := log.count("ERROR", "[Subscriber] Fetch error"); n != 2 {
		t.Errorf("fetch error logged %d times, want 2", n)
	}
	if n := len(conn.commits()); n != 2 {
		t.Errorf("committed %d messages, want 2", n)
	}
}

func TestSubscriber_ConnectionClosedEndsDispatch(t *testing.T) {
	conn := &fakeConn{polls: []pollResult{{err: ErrClosed}}}
	bus := newTestBus(&scriptedDialer{conn: conn}, nil)

	sub, err := bus.NewSubscriber(context.Background(), GroupIdentity{ClientID: "c", GroupID: "g"}, []string{"jobs"}, NewCache(nil, nil))
	if err != nil {
		t.Fatalf("NewSubscriber failed: %v", err)
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not exit on a closed connection")
	}
	if sub.State() != StateClosed {
		t.Errorf("State() = %v, want closed", sub.State())
	}

	if err := sub.Shutdown(); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if conn.closed() != 1 {
		t.Errorf("connection closed %d times, want 1", conn.closed())
	}
}
