// Package realtime composes the push connection and the synchronized clock into
// the single process-wide object the dashboard consumes.
package realtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/bookiebutcher/go/internal/config"
	"github.com/mcdev12/bookiebutcher/go/internal/realtime/clocksync"
	"github.com/mcdev12/bookiebutcher/go/internal/realtime/connection"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Subscriber is the full callback surface exposed to the UI layer.
type Subscriber interface {
	connection.Subscriber
	clocksync.TickSubscriber
}

// Snapshot is the state a new subscriber starts from.
type Snapshot struct {
	Connection connection.Snapshot
	Now        time.Time
}

// Config holds everything needed to build a Layer.
type Config struct {
	Connection   connection.Config
	Transport    connection.TransportConfig
	Clock        clocksync.Config
	AuthorityURL string
}

// ConfigFromApp maps the application config onto a Layer config.
func ConfigFromApp(cfg *config.Config) (Config, error) {
	estimator, err := clocksync.ParseEstimator(cfg.Clock.Estimator)
	if err != nil {
		return Config{}, err
	}

	return Config{
		Connection: connection.Config{
			URL:            cfg.Realtime.PushURL,
			ReconnectDelay: cfg.Realtime.ReconnectDelay,
		},
		Transport: connection.DefaultTransportConfig(),
		Clock: clocksync.Config{
			TickPeriod:   cfg.Clock.TickPeriod,
			ResyncPeriod: cfg.Clock.ResyncPeriod,
			DisplayZone:  cfg.Clock.DisplayZone,
			Estimator:    estimator,
		},
		AuthorityURL: cfg.Clock.AuthorityURL,
	}, nil
}

type options struct {
	clock     clockwork.Clock
	logger    zerolog.Logger
	dialer    connection.Dialer
	authority clocksync.Authority
	metrics   connection.MetricsCollector
}

// Option overrides a default collaborator.
type Option func(*options)

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithDialer(dialer connection.Dialer) Option {
	return func(o *options) { o.dialer = dialer }
}

func WithAuthority(authority clocksync.Authority) Option {
	return func(o *options) { o.authority = authority }
}

func WithMetrics(metrics connection.MetricsCollector) Option {
	return func(o *options) { o.metrics = metrics }
}

// Layer owns the connection manager and the clock service. Build it once at
// startup, hand it to consumers, and shut it down on exit.
type Layer struct {
	Conn  *connection.Manager
	Clock *clocksync.Service
}

func New(cfg Config, opts ...Option) (*Layer, error) {
	o := options{
		clock:   clockwork.NewRealClock(),
		logger:  log.Logger,
		metrics: connection.NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = connection.NewWebSocketDialer(cfg.Transport)
	}
	if o.authority == nil {
		o.authority = clocksync.NewHTTPAuthority(cfg.AuthorityURL)
	}

	clock, err := clocksync.NewService(cfg.Clock, o.authority,
		clocksync.WithClock(o.clock),
		clocksync.WithLogger(o.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create clock service: %w", err)
	}

	conn := connection.NewManager(cfg.Connection, o.dialer,
		connection.WithClock(o.clock),
		connection.WithLogger(o.logger),
		connection.WithMetrics(o.metrics),
	)

	return &Layer{Conn: conn, Clock: clock}, nil
}

// Start starts both services. They run until Shutdown or until ctx is cancelled.
func (l *Layer) Start(ctx context.Context) {
	l.Clock.Start(ctx)
	l.Conn.Start(ctx)
}

// Shutdown stops both services. No callback fires after it returns.
func (l *Layer) Shutdown() {
	l.Conn.Shutdown()
	l.Clock.Shutdown()
}

// Subscribe registers s with both services and returns the current state.
func (l *Layer) Subscribe(s Subscriber) (Snapshot, func()) {
	connSnap, unsubConn := l.Conn.Subscribe(s)
	now, unsubClock := l.Clock.Subscribe(s)

	return Snapshot{Connection: connSnap, Now: now}, func() {
		unsubConn()
		unsubClock()
	}
}
