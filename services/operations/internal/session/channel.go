package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aquamarinepk/aqm"

	"github.com/appetiteclub/delivery/pkg/event"
)

type ConnState string

const (
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateDisconnected ConnState = "disconnected"
)

// Stream is one open subscription.
type Stream interface {
	Recv() (*event.Envelope, error)
	Close() error
}

// Transport opens subscriptions to the push channel. The stream must end
// once ctx is cancelled.
type Transport interface {
	Dial(ctx context.Context, token string) (Stream, error)
}

type ChannelConfig struct {
	Attempts int
	Delay    time.Duration
	// RecoveryInterval, when positive, retries a parked channel on its own.
	// Zero waits for an explicit Reconnect.
	RecoveryInterval time.Duration
}

// ChannelHandlers receive channel activity. All of them run on the channel
// goroutine.
type ChannelHandlers struct {
	OnState     func(state ConnState, err error)
	OnConnected func(ctx context.Context)
	OnEnvelope  func(env *event.Envelope)
}

// Channel keeps one subscription alive with a bounded connect budget.
type Channel struct {
	transport Transport
	token     string
	cfg       ChannelConfig
	handlers  ChannelHandlers
	logger    aqm.Logger

	reconnect chan struct{}

	mu    sync.RWMutex
	state ConnState
	err   error
}

func NewChannel(transport Transport, token string, cfg ChannelConfig, handlers ChannelHandlers, logger aqm.Logger) *Channel {
	if logger == nil {
		logger = aqm.NewNoopLogger()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 5
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	return &Channel{
		transport: transport,
		token:     token,
		cfg:       cfg,
		handlers:  handlers,
		logger:    logger.With("component", "channel"),
		reconnect: make(chan struct{}, 1),
		state:     StateDisconnected,
	}
}

// State returns the current connection state and the error that caused it.
func (c *Channel) State() (ConnState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.err
}

// Reconnect wakes a parked channel. It never blocks.
func (c *Channel) Reconnect() {
	select {
	case c.reconnect <- struct{}{}:
	default:
	}
}

// Run keeps the subscription open until ctx is done.
func (c *Channel) Run(ctx context.Context) error {
	for {
		stream, streamCancel, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("channel gave up", "error", err)
			c.setState(StateDisconnected, err)
			if !c.park(ctx) {
				return ctx.Err()
			}
			continue
		}

		c.drainReconnect()
		c.setState(StateConnected, nil)
		if c.handlers.OnConnected != nil {
			c.handlers.OnConnected(ctx)
		}

		connectedAt := time.Now()
		err = c.receive(stream)
		stream.Close()
		streamCancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info("channel lost", "error", err)

		// A stream dropped right after it opened redials no sooner than Delay.
		if lived := time.Since(connectedAt); lived < c.cfg.Delay {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.Delay - lived):
			}
		}
	}
}

func (c *Channel) connect(ctx context.Context) (Stream, context.CancelFunc, error) {
	c.setState(StateReconnecting, nil)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(c.cfg.Delay):
			}
		}

		streamCtx, cancel := context.WithCancel(ctx)
		stream, err := c.transport.Dial(streamCtx, c.token)
		if err == nil {
			c.logger.Info("channel connected", "attempt", attempt)
			return stream, cancel, nil
		}
		cancel()
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		lastErr = err
		c.logger.Info("channel connect failed", "attempt", attempt, "of", c.cfg.Attempts, "error", err)
	}
	return nil, nil, fmt.Errorf("%w after %d attempts: %v", ErrChannelDisconnected, c.cfg.Attempts, lastErr)
}

func (c *Channel) receive(stream Stream) error {
	for {
		env, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("stream closed by server")
			}
			return err
		}
		if env != nil && c.handlers.OnEnvelope != nil {
			c.handlers.OnEnvelope(env)
		}
	}
}

func (c *Channel) park(ctx context.Context) bool {
	var recovery <-chan time.Time
	if c.cfg.RecoveryInterval > 0 {
		timer := time.NewTimer(c.cfg.RecoveryInterval)
		defer timer.Stop()
		recovery = timer.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-c.reconnect:
		c.logger.Info("manual reconnect requested")
		return true
	case <-recovery:
		return true
	}
}

func (c *Channel) drainReconnect() {
	select {
	case <-c.reconnect:
	default:
	}
}

func (c *Channel) setState(state ConnState, err error) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.err = err
	c.mu.Unlock()

	if changed || err != nil {
		if c.handlers.OnState != nil {
			c.handlers.OnState(state, err)
		}
	}
}
