package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/billing-console/authapi"
	"github.com/jrsteele09/billing-console/authapi/fakeserver"
	"github.com/jrsteele09/billing-console/broadcast"
	"github.com/jrsteele09/billing-console/broadcast/localchannel"
	"github.com/jrsteele09/billing-console/broadcast/redischannel"
	"github.com/jrsteele09/billing-console/credentials"
	"github.com/jrsteele09/billing-console/internal/config"
	"github.com/jrsteele09/billing-console/internal/metrics"
	"github.com/jrsteele09/billing-console/session"
	"github.com/jrsteele09/billing-console/storage"
	"github.com/jrsteele09/billing-console/storage/memstore"
	"github.com/jrsteele09/billing-console/storage/redisstore"
)

// backend hands out per-instance storage handles and channels for one
// origin.
type backend interface {
	openStorage() (storage.Storage, func() error, error)
	openChannel(ctx context.Context) (broadcast.Channel, error)
	Close() error
}

type memoryBackend struct {
	origin  *memstore.Origin
	hub     *localchannel.Hub
	channel string
}

func (b *memoryBackend) openStorage() (storage.Storage, func() error, error) {
	h := b.origin.Open()
	return h, h.Close, nil
}

func (b *memoryBackend) openChannel(context.Context) (broadcast.Channel, error) {
	return b.hub.Open(b.channel), nil
}

func (b *memoryBackend) Close() error { return nil }

type redisBackend struct {
	client  *redis.Client
	origin  string
	channel string
}

func newRedisBackend(ctx context.Context, c config.StorageConfig) (*redisBackend, error) {
	opts, err := redis.ParseURL(c.GetRedisURL())
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[newRedisBackend] parse REDIS_URL")
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, pkgerrors.Wrap(err, "[newRedisBackend] ping")
	}
	return &redisBackend{client: client, origin: c.GetOrigin(), channel: c.GetChannelName()}, nil
}

func (b *redisBackend) openStorage() (storage.Storage, func() error, error) {
	s, err := redisstore.New(b.client, b.origin)
	if err != nil {
		return nil, nil, err
	}
	return s, s.Close, nil
}

func (b *redisBackend) openChannel(ctx context.Context) (broadcast.Channel, error) {
	ch, err := redischannel.Open(ctx, b.client, b.channel)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (b *redisBackend) Close() error {
	return b.client.Close()
}

// instance is one client: its own credential memory and bus over the shared
// origin. The bus closes its channel; closers release the rest.
type instance struct {
	id         int
	creds      *credentials.Store
	bus        *broadcast.Broadcaster
	controller *session.Controller
	closers    []func() error
}

func (i *instance) Close() {
	i.controller.Close()
	i.bus.Cleanup()
	for _, closeFn := range i.closers {
		if err := closeFn(); err != nil {
			log.Warn().Err(err).Int("instance", i.id).Msg("close failed")
		}
	}
}

type app struct {
	cfg      config.Config
	opts     options
	apiURL   string
	backend  backend
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	instances []*instance
	active    int

	servers []*http.Server
}

func newApp(ctx context.Context, c config.Config, opts options) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	a := &app{
		cfg:      c,
		opts:     opts,
		apiURL:   c.GetAuthAPIURL(),
		registry: reg,
		metrics:  metrics.New(reg),
	}

	switch c.GetStorageBackend() {
	case config.StorageRedis:
		b, err := newRedisBackend(ctx, c)
		if err != nil {
			return nil, err
		}
		a.backend = b
	default:
		a.backend = &memoryBackend{
			origin:  memstore.NewOrigin(),
			hub:     localchannel.NewHub(),
			channel: c.GetChannelName(),
		}
	}

	if opts.fake {
		if err := a.startFakeAPI(); err != nil {
			a.Close()
			return nil, err
		}
	}
	if opts.metricsAddr != "" {
		a.serveMetrics(opts.metricsAddr)
	}

	if _, err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) startFakeAPI() error {
	fake := fakeserver.New()
	if _, err := fake.SeedUser(a.opts.fakeEmail, a.opts.fakePassword, fakeserver.RoleAdmin, "demo-tenant"); err != nil {
		return pkgerrors.Wrap(err, "[app.startFakeAPI] seed user")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return pkgerrors.Wrap(err, "[app.startFakeAPI] listen")
	}
	srv := &http.Server{Handler: fake, ReadHeaderTimeout: 5 * time.Second}
	a.servers = append(a.servers, srv)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("fake auth api stopped")
		}
	}()
	a.apiURL = "http://" + ln.Addr().String()
	log.Info().Str("url", a.apiURL).Str("email", a.opts.fakeEmail).Msg("fake auth api listening")
	return nil
}

func (a *app) serveMetrics(addr string) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	a.servers = append(a.servers, srv)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
}

// open starts a new instance over the shared origin, bootstraps it and
// makes it the active one.
func (a *app) open(ctx context.Context) (*instance, error) {
	id := len(a.instances) + 1
	logger := log.With().Int("instance", id).Logger()

	durable, closeStorage, err := a.backend.openStorage()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "[app.open] storage")
	}
	inst := &instance{id: id, closers: []func() error{closeStorage}}

	creds := credentials.New(durable, credentials.WithLogger(logger))
	tokens := &session.BoundTokenSource{}
	api, err := authapi.New(a.apiURL,
		authapi.WithTokenSource(tokens),
		authapi.WithTimeout(a.cfg.GetHTTPTimeout()),
	)
	if err != nil {
		_ = closeStorage()
		return nil, err
	}

	busOpts := []broadcast.Option{
		broadcast.WithStorage(durable),
		broadcast.WithCleanupDelay(a.cfg.GetSyncCleanupDelay()),
		broadcast.WithLogger(logger),
		broadcast.WithMetrics(a.metrics),
	}
	// Without a direct channel the storage relay still carries every
	// message.
	if ch, err := a.backend.openChannel(ctx); err != nil {
		logger.Warn().Err(err).Msg("direct channel unavailable, using storage relay only")
	} else {
		busOpts = append(busOpts, broadcast.WithChannel(ch))
	}
	bus := broadcast.New(busOpts...)

	controller, err := session.New(api, creds, bus,
		session.WithLogger(logger),
		session.WithMetrics(a.metrics),
		session.WithRefreshLeeway(a.cfg.GetRefreshLeeway()),
	)
	if err != nil {
		bus.Cleanup()
		_ = closeStorage()
		return nil, err
	}
	inst.creds, inst.bus, inst.controller = creds, bus, controller
	// Session calls refresh on demand, so mirrored instances without an
	// access token of their own can still reach the API.
	tokens.Bind(controller.TokenSource())

	controller.Subscribe(func(s session.State) {
		logger.Debug().Str("phase", s.Phase.String()).Bool("authenticated", s.IsAuthenticated).Msg("state changed")
	})
	controller.Initialize(ctx)

	a.instances = append(a.instances, inst)
	a.active = len(a.instances) - 1
	return inst, nil
}

func (a *app) current() *instance {
	return a.instances[a.active]
}

func (a *app) use(id int) error {
	if id < 1 || id > len(a.instances) {
		return fmt.Errorf("no instance %d", id)
	}
	a.active = id - 1
	return nil
}

func (a *app) Close() {
	for _, inst := range a.instances {
		inst.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, srv := range a.servers {
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("server shutdown")
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			log.Warn().Err(err).Msg("backend close")
		}
	}
}
