// Package poll refreshes entity families on a fixed interval while the
// session is visible. It is the fallback when the push channel is off or
// unavailable, and is safe to run alongside it: both write through the same
// idempotent query store operations.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/portal-sync/pkg/domain"
	"github.com/Sternrassler/portal-sync/pkg/logging"
)

var pollRefreshes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "portal_poll_refresh_total",
		Help: "Polled family refreshes by result",
	},
	[]string{"family", "result"},
)

// RefreshFunc re-fetches the authoritative lists of one family.
type RefreshFunc func(ctx context.Context, f domain.Family) error

// Config holds poller configuration
type Config struct {
	// Interval between refresh rounds while visible
	Interval time.Duration

	Families []domain.Family
	Refresh  RefreshFunc

	// MaxConcurrency bounds parallel family refreshes in one round
	MaxConcurrency int

	// Timeout per family refresh
	Timeout time.Duration

	Logger *zerolog.Logger
}

// DefaultConfig returns the default polling configuration
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// Poller drives periodic refreshes. At most one ticker exists at a time and
// none while hidden.
type Poller struct {
	config Config
	logger zerolog.Logger

	mu      sync.Mutex
	visible bool
	shown   uint64 // hidden-to-visible transitions
	wake    chan struct{}
}

// New creates a poller. It starts visible.
func New(cfg Config) (*Poller, error) {
	if cfg.Refresh == nil {
		return nil, fmt.Errorf("refresh function is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive (got %s)", cfg.Interval)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	logger := logging.NewLogger("poll")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Poller{
		config:  cfg,
		logger:  logger,
		visible: true,
		wake:    make(chan struct{}, 1),
	}, nil
}

// SetVisible records page visibility. Hiding stops the ticker at once;
// becoming visible again refreshes immediately and restarts it.
func (p *Poller) SetVisible(visible bool) {
	p.mu.Lock()
	if visible && !p.visible {
		p.shown++
	}
	p.visible = visible
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Visible reports the last visibility set.
func (p *Poller) Visible() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible
}

func (p *Poller) visibility() (bool, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.visible, p.shown
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	var (
		ticker *time.Ticker
		tick   <-chan time.Time
	)
	start := func() {
		if ticker == nil {
			ticker = time.NewTicker(p.config.Interval)
			tick = ticker.C
		}
	}
	stop := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer stop()

	visible, shown := p.visibility()
	if visible {
		start()
	}

	p.logger.Info().
		Dur("interval", p.config.Interval).
		Int("families", len(p.config.Families)).
		Bool("visible", visible).
		Msg("Polling started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Msg("Polling stopped")
			return nil

		case <-tick:
			p.RefreshAll(ctx)

		case <-p.wake:
			// Compare transition counts, not booleans: a hide and show that
			// land before this wake is handled still owe one refresh.
			now, n := p.visibility()
			reshown := n != shown
			shown = n
			if !now {
				if visible {
					stop()
					p.logger.Debug().Msg("Hidden, polling paused")
				}
				visible = false
				continue
			}
			if visible && !reshown {
				continue
			}
			visible = true
			p.logger.Debug().Msg("Visible, refreshing")
			p.RefreshAll(ctx)
			stop()
			start()
		}
	}
}

// RefreshAll refreshes every family concurrently. Failures are logged and
// counted; the number of failed families is returned.
func (p *Poller) RefreshAll(ctx context.Context) int {
	var (
		mu     sync.Mutex
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)
	for _, f := range p.config.Families {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, p.config.Timeout)
			defer cancel()

			if err := p.config.Refresh(fctx, f); err != nil {
				pollRefreshes.WithLabelValues(f.String(), "error").Inc()
				p.logger.Warn().
					Err(err).
					Str("family", f.String()).
					Msg("Poll refresh failed")
				mu.Lock()
				failed++
				mu.Unlock()
				// one family failing must not cancel the others
				return nil
			}
			pollRefreshes.WithLabelValues(f.String(), "ok").Inc()
			return nil
		})
	}
	_ = g.Wait()
	return failed
}
