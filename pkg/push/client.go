package push

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/portal-sync/pkg/logging"
)

// ErrSendUnsupported is returned by connections that cannot write frames
// (SSE).
var ErrSendUnsupported = errors.New("push connection is receive-only")

// State is the connection state of a Client.
type State uint8

const (
	StateConnecting State = iota + 1
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one live push connection.
type Conn interface {
	// Receive blocks for the next frame. Any error ends the connection.
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Config holds push client settings.
type Config struct {
	Dialer Dialer

	// Handle receives every parsed delta, usually Applier.Apply. Its error
	// is logged and never closes the connection.
	Handle func(Delta) error

	// Reconnect backoff: min(ReconnectBase*2^attempts, ReconnectCap).
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	// OnStateChange is called on every transition, from the client goroutine.
	OnStateChange func(State)

	// OnReconnect is called with each scheduled reconnect delay.
	OnReconnect func(attempt int, delay time.Duration)

	Logger *zerolog.Logger
}

// DefaultConfig returns the default reconnect settings.
func DefaultConfig() Config {
	return Config{
		ReconnectBase: 1 * time.Second,
		ReconnectCap:  30 * time.Second,
	}
}

// Client maintains one push connection and reconnects until stopped.
type Client struct {
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	state    State
	attempts int
	conn     Conn
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a push client.
func New(cfg Config) (*Client, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("push dialer is required")
	}
	if cfg.Handle == nil {
		return nil, fmt.Errorf("push delta handler is required")
	}
	if cfg.ReconnectBase <= 0 {
		return nil, fmt.Errorf("reconnect base must be positive (got %s)", cfg.ReconnectBase)
	}
	if cfg.ReconnectCap < cfg.ReconnectBase {
		return nil, fmt.Errorf("reconnect cap %s is below base %s", cfg.ReconnectCap, cfg.ReconnectBase)
	}

	logger := logging.NewLogger("push")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Client{config: cfg, logger: logger, done: make(chan struct{})}, nil
}

// Backoff returns the reconnect delay after attempts consecutive failures:
// min(base*2^attempts, cap).
func Backoff(base, cap time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		if d >= cap/2 {
			return cap
		}
		d *= 2
	}
	if d > cap {
		return cap
	}
	return d
}

// Start launches the connection loop. It returns immediately; calling it
// more than once, or after Stop, does nothing.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true

	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop cancels any pending reconnect, closes the live connection and waits
// for the loop to exit. No state transitions happen afterwards.
func (c *Client) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-c.done
	}
}

// State returns the current connection state (zero before Start).
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of consecutive failed connections.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		if !c.transition(StateConnecting) {
			return
		}

		conn, err := c.config.Dialer.Dial(ctx)
		if err == nil {
			if !c.attach(conn) {
				_ = conn.Close()
				return
			}
			err = c.readLoop(ctx, conn)
			c.detach()
			_ = conn.Close()
		}

		if ctx.Err() != nil || !c.transition(StateClosed) {
			return
		}

		c.mu.Lock()
		attempt := c.attempts
		delay := Backoff(c.config.ReconnectBase, c.config.ReconnectCap, attempt)
		c.attempts++
		c.mu.Unlock()

		pushReconnects.Inc()
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Push channel closed, reconnecting")
		if c.config.OnReconnect != nil {
			c.config.OnReconnect(attempt+1, delay)
		}

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// attach records a live connection and moves to open.
func (c *Client) attach(conn Conn) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()

	return c.transition(StateOpen)
}

func (c *Client) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

// transition moves to s unless the client has been stopped.
func (c *Client) transition(s State) bool {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return false
	}
	c.state = s
	c.mu.Unlock()

	pushState.Set(float64(s))
	c.logger.Debug().Str("state", s.String()).Msg("Push state changed")
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(s)
	}
	return true
}

func (c *Client) readLoop(ctx context.Context, conn Conn) error {
	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			return err
		}

		msg, err := ParseMessage(data)
		if err != nil {
			pushDropped.WithLabelValues("malformed").Inc()
			c.logger.Warn().
				Err(err).
				Int("bytes", len(data)).
				Msg("Dropping malformed push message")
			continue
		}

		switch msg.Kind {
		case MessagePing:
			if err := conn.Send(ctx, pongFrame); err != nil {
				if errors.Is(err, ErrSendUnsupported) {
					continue
				}
				return fmt.Errorf("send pong: %w", err)
			}
		case MessagePong:
		case MessageDelta:
			if err := c.config.Handle(msg.Delta); err != nil {
				c.logger.Debug().Err(err).Msg("Delta handler failed")
			}
		}
	}
}
