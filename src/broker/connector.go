package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"topicbus/src/logger"
	"topicbus/src/metrics"
)

// RetryPolicy controls the Connector's retry loop. Zero MaxAttempts and
// MaxElapsed mean the loop never gives up on transient errors.
type RetryPolicy struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// AttemptTimeout bounds a single dial. Zero disables it.
	AttemptTimeout time.Duration
	MaxAttempts    int
	MaxElapsed     time.Duration
}

// DefaultRetryPolicy retries forever, backing off from 250ms to 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval:     250 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
		AttemptTimeout:      10 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.RandomizationFactor < 0 || p.RandomizationFactor > 1 {
		p.RandomizationFactor = def.RandomizationFactor
	}
	return p
}

// exponential returns an unbounded exponential backoff shaped by the policy.
func (p RetryPolicy) exponential() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.RandomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := p.exponential()
	eb.MaxElapsedTime = p.MaxElapsed

	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

// Handle owns exactly one broker connection. It is never shared between
// publishers and subscribers.
type Handle struct {
	role Role

	mu     sync.Mutex
	conn   Conn
	closed bool
}

func newHandle(role Role, conn Conn) *Handle {
	return &Handle{role: role, conn: conn}
}

// Role returns the connection kind.
func (h *Handle) Role() Role {
	return h.role
}

// Conn returns the live connection, or nil once the handle is closed.
func (h *Handle) Conn() Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.conn
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close releases the connection. Calling it again is a no-op.
func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	if h.conn != nil {
		h.conn.Close()
	}
}

// Shutdown lets a bare Handle take part in ShutdownAll.
func (h *Handle) Shutdown() error {
	h.Close()
	return nil
}

// Connector establishes connections, retrying transient failures.
type Connector struct {
	dialer   Dialer
	policy   RetryPolicy
	classify Classifier
	logger   logger.Logger
	metrics  *metrics.BusMetrics
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

func WithRetryPolicy(p RetryPolicy) ConnectorOption {
	return func(c *Connector) { c.policy = p.withDefaults() }
}

func WithClassifier(fn Classifier) ConnectorOption {
	return func(c *Connector) {
		if fn != nil {
			c.classify = fn
		}
	}
}

func WithLogger(l logger.Logger) ConnectorOption {
	return func(c *Connector) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.BusMetrics) ConnectorOption {
	return func(c *Connector) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewConnector creates a Connector over the given Dialer.
func NewConnector(d Dialer, opts ...ConnectorOption) *Connector {
	c := &Connector{
		dialer:   d,
		policy:   DefaultRetryPolicy(),
		classify: DefaultClassifier,
		logger:   logger.NewSilentLogger(),
		metrics:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the retry policy in effect.
func (c *Connector) Policy() RetryPolicy {
	return c.policy
}

// Connect dials until it succeeds, hits a fatal error, exhausts a configured
// ceiling, or ctx is done. There is no deadline by default; callers wanting
// bounded startup pass a ctx with a timeout.
func (c *Connector) Connect(ctx context.Context, spec DialSpec) (*Handle, error) {
	if err := spec.validate(); err != nil {
		c.metrics.ConnectAttemptsTotal.WithLabelValues(spec.Role.String(), ClassFatal.String()).Inc()
		c.logger.Error("[Connector] %s rejected before dialing: %v", spec.Role, err)
		return nil, &ConnectError{Role: spec.Role, Fatal: true, Err: err}
	}

	var (
		conn      Conn
		attempts  int
		lastClass ErrorClass
	)

	op := func() error {
		attempts++
		attemptCtx, cancel := c.attemptContext(ctx)
		defer cancel()

		cn, err := c.dialer.Dial(attemptCtx, spec)
		if err == nil {
			conn = cn
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		lastClass = c.classify(err)
		c.metrics.ConnectAttemptsTotal.WithLabelValues(spec.Role.String(), lastClass.String()).Inc()
		if lastClass == ClassFatal {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		if lastClass == ClassExhausted {
			c.logger.Warn("[Connector] %s attempt %d exhausted client retries, retrying in %s: %v",
				spec.Role, attempts, wait.Round(time.Millisecond), err)
			return
		}
		c.logger.Info("[Connector] %s attempt %d failed, broker unavailable, retrying in %s: %v",
			spec.Role, attempts, wait.Round(time.Millisecond), err)
	}

	err := backoff.RetryNotify(op, c.policy.backOff(ctx), notify)
	if err == nil {
		c.metrics.ConnectAttemptsTotal.WithLabelValues(spec.Role.String(), "ok").Inc()
		c.logger.Info("[Connector] %s %q connected after %d attempt(s)", spec.Role, spec.ClientID, attempts)
		return newHandle(spec.Role, conn), nil
	}

	cerr := &ConnectError{Role: spec.Role, Attempts: attempts, Err: err}
	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		c.logger.Warn("[Connector] %s connect abandoned: %v", spec.Role, err)
	case lastClass == ClassFatal:
		cerr.Fatal = true
		c.logger.Error("[Connector] %s connect failed: %v", spec.Role, err)
	default:
		cerr.Exhausted = true
		c.logger.Error("[Connector] %s gave up after %d attempt(s): %v", spec.Role, attempts, err)
	}
	return nil, cerr
}

func (c *Connector) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.policy.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.policy.AttemptTimeout)
}
