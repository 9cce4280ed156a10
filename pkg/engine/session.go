package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/portal-sync/pkg/cache"
	"github.com/Sternrassler/portal-sync/pkg/client"
	"github.com/Sternrassler/portal-sync/pkg/config"
	"github.com/Sternrassler/portal-sync/pkg/domain"
	"github.com/Sternrassler/portal-sync/pkg/logging"
	"github.com/Sternrassler/portal-sync/pkg/poll"
	"github.com/Sternrassler/portal-sync/pkg/push"
	"github.com/Sternrassler/portal-sync/pkg/query"
)

// Option customizes a Session.
type Option func(*options)

type options struct {
	httpClient  *http.Client
	validators  cache.Store
	credentials client.CredentialSource
	dialer      push.Dialer
	logger      *zerolog.Logger
}

// WithHTTPClient sets the HTTP client (and its cookie jar) used for API
// requests and the SSE push variant.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithValidators sets the ETag validator store, e.g. a shared RedisStore.
func WithValidators(s cache.Store) Option {
	return func(o *options) { o.validators = s }
}

// WithCredentials sets the anti-forgery token source.
func WithCredentials(c client.CredentialSource) Option {
	return func(o *options) { o.credentials = c }
}

// WithDialer replaces the push dialer derived from the configuration.
func WithDialer(d push.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLogger sets the base logger; components add their own tag.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}

// Session is one independent sync engine instance.
type Session struct {
	client   *client.Client
	store    *query.Store
	push     *push.Client
	poller   *poll.Poller
	applier  *push.Applier
	families []domain.Family
	logger   zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	detach     func() bool
	started    bool
	opened     bool
	refreshing map[domain.Family]bool
	wg         sync.WaitGroup
}

// New builds a session from cfg.
func New(cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	families, err := cfg.SyncedFamilies()
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	tagged := func(component string) *zerolog.Logger {
		l := logging.NewLogger(component)
		if o.logger != nil {
			l = o.logger.With().Str("component", component).Logger()
		}
		return &l
	}

	credentials := o.credentials
	if credentials == nil && o.httpClient != nil && o.httpClient.Jar != nil {
		if u, err := url.Parse(cfg.APIBaseURL); err == nil {
			credentials = client.CookieCSRF{Jar: o.httpClient.Jar, URL: u}
		}
	}

	clientCfg := client.DefaultConfig(cfg.APIBaseURL)
	clientCfg.HTTPClient = o.httpClient
	clientCfg.Validators = o.validators
	clientCfg.Credentials = credentials
	clientCfg.RetryDelay = cfg.RetryDelay
	clientCfg.ReadMaxRetries = cfg.ReadMaxRetries
	clientCfg.WriteMaxRetries = cfg.WriteMaxRetries
	clientCfg.UserAgent = "portal-sync"
	clientCfg.Logger = tagged("client")
	apiClient, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	storeCfg := query.DefaultConfig()
	storeCfg.Freshness = cfg.Freshness
	storeCfg.Logger = tagged("query")
	store := query.New(storeCfg)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:     apiClient,
		store:      store,
		applier:    push.NewApplier(store, tagged("push")),
		families:   families,
		logger:     *tagged("engine"),
		ctx:        ctx,
		cancel:     cancel,
		refreshing: make(map[domain.Family]bool),
	}
	store.SetInvalidationHook(s.reconcile)

	dialer := o.dialer
	if dialer == nil && cfg.PushEnabled() {
		dialer = newDialer(cfg, families, o.httpClient)
	}
	if dialer != nil {
		pushCfg := push.DefaultConfig()
		pushCfg.Dialer = dialer
		pushCfg.Handle = s.applier.Apply
		pushCfg.ReconnectBase = cfg.ReconnectBase
		pushCfg.ReconnectCap = cfg.ReconnectCap
		pushCfg.OnStateChange = s.pushStateChanged
		pushCfg.Logger = tagged("push")
		if s.push, err = push.New(pushCfg); err != nil {
			cancel()
			return nil, fmt.Errorf("create push client: %w", err)
		}
	}

	pollCfg := poll.DefaultConfig()
	pollCfg.Interval = cfg.PollInterval
	pollCfg.Families = families
	pollCfg.Refresh = s.pollRefresh
	pollCfg.Logger = tagged("poll")
	if s.poller, err = poll.New(pollCfg); err != nil {
		cancel()
		return nil, fmt.Errorf("create poller: %w", err)
	}

	return s, nil
}

func newDialer(cfg config.Config, families []domain.Family, httpClient *http.Client) push.Dialer {
	if cfg.PushMode == config.PushModeSSE {
		return push.SSEDialer{URL: cfg.PushURL, Families: families, HTTPClient: httpClient}
	}

	d := push.WebSocketDialer{URL: cfg.PushURL}
	if httpClient != nil && httpClient.Jar != nil {
		if origin, err := url.Parse(cfg.APIBaseURL); err == nil {
			header := http.Header{}
			for _, c := range httpClient.Jar.Cookies(origin) {
				header.Add("Cookie", c.String())
			}
			d.Header = header
		}
	}
	return d
}

// Client returns the API client.
func (s *Session) Client() *client.Client { return s.client }

// Store returns the query store. Consumers should only read and subscribe.
func (s *Session) Store() *query.Store { return s.store }

// Families returns the synced families.
func (s *Session) Families() []domain.Family { return s.families }

// PushState returns the push channel state, or zero when push is disabled.
func (s *Session) PushState() push.State {
	if s.push == nil {
		return 0
	}
	return s.push.State()
}

// FetchList fetches a family list with read retries and stores it under
// query.List(f, params).
func (s *Session) FetchList(ctx context.Context, f domain.Family, params map[string]string) (query.Result, error) {
	qp := make(client.Params, len(params))
	for k, v := range params {
		qp[k] = v
	}

	data, err := s.client.RequestWithRetry(ctx, http.MethodGet, f.Path(), nil, qp)
	if err != nil {
		return query.Result{}, fmt.Errorf("fetch %s: %w", f, err)
	}
	result, err := decodeList(f, data)
	if err != nil {
		return query.Result{}, err
	}

	s.store.SetList(query.List(f, params), result)
	return result, nil
}

// FetchDetail fetches one record and stores its detail entry. A 404 drops
// any cached detail for the id.
func (s *Session) FetchDetail(ctx context.Context, f domain.Family, id string) (domain.Record, error) {
	path := f.Path() + "/" + url.PathEscape(id)
	data, err := s.client.RequestWithRetry(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		if client.IsStatus(err, http.StatusNotFound) {
			s.store.RemoveDetail(f, id)
		}
		return nil, fmt.Errorf("fetch %s %s: %w", f, id, err)
	}

	record, err := domain.DecodeRecord(f, data)
	if err != nil {
		return nil, err
	}
	s.store.SetDetail(record)
	return record, nil
}

// Refresh refetches every cached list of a family, or the unfiltered list
// when none is cached, then brings the family's cached details in line:
// details found in the fetched lists take those records, the rest are
// fetched one by one.
func (s *Session) Refresh(ctx context.Context, f domain.Family) error {
	descs := s.store.ListDescriptors(f)
	if len(descs) == 0 {
		descs = []query.Descriptor{query.List(f, nil)}
	}

	var (
		errs    []error
		fetched []domain.Record
	)
	for _, d := range descs {
		result, err := s.FetchList(ctx, f, d.Params)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fetched = append(fetched, result.Items...)
	}

	synced := make(map[string]struct{})
	for _, id := range s.store.SyncDetails(f, fetched) {
		synced[id] = struct{}{}
	}
	for _, id := range s.store.DetailIDs(f) {
		if _, ok := synced[id]; ok {
			continue
		}
		// a 404 has already dropped the detail
		if _, err := s.FetchDetail(ctx, f, id); err != nil && !client.IsStatus(err, http.StatusNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Mutate sends a write request with write retry defaults and returns the
// unwrapped response data. The cache is updated by the resulting push delta
// or the next refresh.
func (s *Session) Mutate(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	return s.client.RequestWithRetry(ctx, method, path, body, nil)
}

// Upload submits a multipart file upload. It is never retried.
func (s *Session) Upload(ctx context.Context, path string, file io.Reader, filename string, fields map[string]string) (json.RawMessage, error) {
	return s.client.Upload(ctx, path, file, filename, fields)
}

// Probe issues a single GET without retries, for health checks.
func (s *Session) Probe(ctx context.Context, path string) (json.RawMessage, error) {
	return s.client.Direct(ctx, http.MethodGet, path, nil, nil)
}

// Start loads every family once, then starts the push channel and the
// poller. It returns after the initial load; failures there are logged and
// left to the poller.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.started = true
	// the session context also ends when ctx ends
	s.detach = context.AfterFunc(ctx, s.cancel)
	s.mu.Unlock()

	if failed := s.poller.RefreshAll(s.ctx); failed > 0 {
		s.logger.Warn().Int("failed", failed).Msg("Initial load incomplete")
	}

	if s.push != nil {
		s.push.Start(s.ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.poller.Run(s.ctx)
	}()

	s.logger.Info().
		Str("base_url", s.client.BaseURL()).
		Int("families", len(s.families)).
		Bool("push", s.push != nil).
		Msg("Session started")
}

// Stop tears the session down: the push channel is closed, the poller and
// any background refetches are cancelled. It is safe to call more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	s.cancel()
	if s.detach != nil {
		s.detach()
	}
	s.mu.Unlock()

	if s.push != nil {
		s.push.Stop()
	}
	s.wg.Wait()
}

// SetVisible forwards page visibility to the poller.
func (s *Session) SetVisible(visible bool) {
	s.poller.SetVisible(visible)
}

// pollRefresh is the poller's refresh. It does nothing while the push
// channel is open.
func (s *Session) pollRefresh(ctx context.Context, f domain.Family) error {
	if s.push != nil && s.push.State() == push.StateOpen {
		return nil
	}
	return s.Refresh(ctx, f)
}

// pushStateChanged refetches every family when the channel reopens after a
// closure, since deltas sent while it was down are lost.
func (s *Session) pushStateChanged(state push.State) {
	if state == push.StateConnecting {
		if n := s.push.Attempts(); n > 0 {
			s.logger.Debug().Int("failed_attempts", n).Msg("Reconnecting push channel")
		}
		return
	}
	if state != push.StateOpen {
		return
	}
	s.mu.Lock()
	reopened := s.opened
	s.opened = true
	s.mu.Unlock()

	if !reopened {
		return
	}
	for _, f := range s.families {
		s.reconcile(f)
	}
}

// reconcile refetches an invalidated family in the background. Concurrent
// invalidations of the same family collapse into one refetch.
func (s *Session) reconcile(f domain.Family) {
	s.mu.Lock()
	if s.ctx.Err() != nil || s.refreshing[f] {
		s.mu.Unlock()
		return
	}
	s.refreshing[f] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.refreshing, f)
			s.mu.Unlock()
		}()

		if err := s.Refresh(s.ctx, f); err != nil {
			s.logger.Warn().
				Err(err).
				Str("family", f.String()).
				Msg("Reconcile refetch failed")
			return
		}
		s.logger.Debug().Str("family", f.String()).Msg("Family reconciled")
	}()
}
