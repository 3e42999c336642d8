package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"topicbus/src/logger"
	"topicbus/src/metrics"
)

// State is the lifecycle position of a Subscriber.
type State int32

const (
	StateConnecting State = iota
	StateDispatching
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateDispatching:
		return "dispatching"
	default:
		return "closed"
	}
}

// Subscriber consumes topics under a consumer group and hands each message
// to its Handler, one at a time. A slow handler delays the next message.
// Once shut down a Subscriber cannot be restarted.
type Subscriber struct {
	id      GroupIdentity
	topics  []string
	handler Handler
	policy  RetryPolicy
	logger  logger.Logger
	metrics *metrics.BusMetrics

	handle *Handle
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}

	inHandler   atomic.Bool // a handler call is in progress
	stopping    atomic.Bool // Shutdown has been called
	releaseOnce sync.Once
}

// Group returns the consumer identity.
func (s *Subscriber) Group() GroupIdentity {
	return s.id
}

// Topics returns the subscribed topics.
func (s *Subscriber) Topics() []string {
	return append([]string(nil), s.topics...)
}

// State reports where the subscriber is in its lifecycle.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// Done is closed when the dispatch loop has exited.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.state.Store(int32(StateDispatching))
	go s.run(runCtx)
}

// run is the dispatch loop. It only returns when ctx is cancelled or the
// connection is closed underneath it.
func (s *Subscriber) run(ctx context.Context) {
	defer close(s.done)
	defer s.finish()

	conn := s.handle.Conn()
	if conn == nil {
		return
	}

	s.logger.Info("[Subscriber] %s/%s listening on %v", s.id.GroupID, s.id.ClientID, s.topics)

	wait := s.policy.exponential()
	for {
		msgs, err := conn.Poll(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrClosed) {
			s.logger.Info("[Subscriber] Connection closed, stopping dispatch")
			return
		}

		// Undispatched records stay uncommitted and go back to the group.
		for _, msg := range msgs {
			if ctx.Err() != nil {
				return
			}
			s.dispatch(ctx, msg)
			if cerr := conn.Commit(msg); cerr != nil {
				s.logger.Warn("[Subscriber] Commit of %s[%d]@%d failed: %v", msg.Topic, msg.Partition, msg.Offset, cerr)
			}
		}

		if err == nil {
			wait.Reset()
			continue
		}

		delay := wait.NextBackOff()
		s.logger.Error("[Subscriber] Fetch error, retrying in %s: %v", delay.Round(time.Millisecond), err)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.HandlerErrorsTotal.WithLabelValues(msg.Topic).Inc()
			s.logger.Error("[Subscriber] Handler panicked on %s[%d]@%d: %v", msg.Topic, msg.Partition, msg.Offset, r)
		}
	}()

	s.metrics.DeliveredTotal.WithLabelValues(msg.Topic).Inc()

	s.inHandler.Store(true)
	defer s.inHandler.Store(false)
	err := s.handler.HandleMessage(ctx, msg)
	if err == nil {
		return
	}

	var decodeErr *MessageDecodeError
	if errors.As(err, &decodeErr) {
		s.metrics.DecodeFailuresTotal.WithLabelValues(msg.Topic).Inc()
		s.logger.Warn("[Subscriber] Dropping malformed message: %v", err)
		return
	}

	s.metrics.HandlerErrorsTotal.WithLabelValues(msg.Topic).Inc()
	s.logger.Error("[Subscriber] Handler failed on %s[%d]@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
}

// finish runs when the loop exits. The subscriber never dispatches again,
// and a Shutdown issued from a handler left the release to the loop.
func (s *Subscriber) finish() {
	s.state.Store(int32(StateClosed))
	if s.stopping.Load() {
		s.release()
	}
}

func (s *Subscriber) release() {
	s.releaseOnce.Do(func() {
		if s.handle != nil {
			s.handle.Close()
			s.logger.Info("[Subscriber] %s/%s disconnected", s.id.GroupID, s.id.ClientID)
		}
	})
}

// Shutdown stops dispatch and releases the consumer connection. While a
// handler is running, including when the handler itself calls Shutdown, it
// returns without waiting and the loop releases the connection once the
// handler returns. Otherwise it waits for the loop to exit. Later calls are
// no-ops.
func (s *Subscriber) Shutdown() error {
	if s == nil || !s.stopping.CompareAndSwap(false, true) {
		return nil
	}
	s.state.Store(int32(StateClosed))
	if s.cancel == nil {
		s.release()
		return nil
	}
	s.cancel()
	if s.inHandler.Load() {
		return nil
	}
	<-s.done
	s.release()
	return nil
}
