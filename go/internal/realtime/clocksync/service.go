package clocksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrSyncFailed wraps any failure to obtain a usable authority reading.
	ErrSyncFailed = errors.New("clock sync failed")
	// ErrMalformedResponse is returned when the authority answers without a usable instant.
	ErrMalformedResponse = errors.New("malformed authority response")
	// ErrStopped is returned by Resync once the service has been shut down.
	ErrStopped = errors.New("clock sync service stopped")
	// ErrSuperseded is returned when a newer resync committed before this one finished.
	ErrSuperseded = errors.New("resync result superseded")
)

// Config holds the clock service schedule.
type Config struct {
	TickPeriod   time.Duration
	ResyncPeriod time.Duration
	DisplayZone  string
	Estimator    Estimator
}

// DefaultConfig returns the default schedule: tick every second, resync every five minutes.
func DefaultConfig() Config {
	return Config{
		TickPeriod:   time.Second,
		ResyncPeriod: 5 * time.Minute,
		DisplayZone:  DefaultDisplayZone,
		Estimator:    EstimatorOneWay,
	}
}

// State is the committed result of the last successful resync.
type State struct {
	Skew     time.Duration
	LastSync time.Time
	Zone     string // authority's declared zone
	Synced   bool
}

// TickSubscriber receives the corrected instant on every tick.
type TickSubscriber interface {
	OnClockTick(now time.Time)
}

// TickFunc adapts a function to TickSubscriber.
type TickFunc func(now time.Time)

func (f TickFunc) OnClockTick(now time.Time) { f(now) }

type tickSub struct {
	id  int
	sub TickSubscriber
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used for local time and both schedules.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLogger sets the service logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service keeps a skew-corrected clock aligned with a remote time authority.
type Service struct {
	cfg       Config
	authority Authority
	clock     clockwork.Clock
	logger    zerolog.Logger
	display   *Display

	mu           sync.RWMutex
	state        State
	attempts     uint64 // last attempt generation handed out
	committedGen uint64 // generation of the committed state
	stopped      bool
	subs         []tickSub
	nextSubID    int

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewService creates a clock service. Zero periods fall back to DefaultConfig.
func NewService(cfg Config, authority Authority, opts ...Option) (*Service, error) {
	if authority == nil {
		return nil, errors.New("clocksync: authority is required")
	}

	def := DefaultConfig()
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = def.TickPeriod
	}
	if cfg.ResyncPeriod <= 0 {
		cfg.ResyncPeriod = def.ResyncPeriod
	}

	display, err := NewDisplay(cfg.DisplayZone)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		authority: authority,
		clock:     clockwork.NewRealClock(),
		logger:    log.Logger,
		display:   display,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "clocksync").Logger()

	return s, nil
}

// Start runs one resync immediately, then resyncs every ResyncPeriod and ticks every TickPeriod.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			cancel()
			return
		}
		s.started = true
		s.cancel = cancel
		s.mu.Unlock()

		tick := s.clock.NewTicker(s.cfg.TickPeriod)
		resync := s.clock.NewTicker(s.cfg.ResyncPeriod)

		s.logger.Info().
			Dur("tick_period", s.cfg.TickPeriod).
			Dur("resync_period", s.cfg.ResyncPeriod).
			Str("estimator", s.cfg.Estimator.String()).
			Msg("clock sync service started")

		s.resyncAsync(runCtx)
		go s.run(runCtx, tick, resync)
	})
}

func (s *Service) run(ctx context.Context, tick, resync clockwork.Ticker) {
	defer close(s.done)
	defer tick.Stop()
	defer resync.Stop()
	defer func() {
		// results still in flight are discarded once the loops are gone
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.Chan():
			s.tick()
		case <-resync.Chan():
			s.resyncAsync(ctx)
		}
	}
}

// resyncAsync runs a resync without blocking ticks. A hung attempt is not timed out here;
// the next scheduled attempt supersedes it.
func (s *Service) resyncAsync(ctx context.Context) {
	go func() {
		err := s.Resync(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrStopped), errors.Is(err, ErrSuperseded):
			s.logger.Debug().Err(err).Msg("resync result discarded")
		default:
			s.logger.Warn().Err(err).Msg("resync failed, keeping previous skew")
		}
	}()
}

// Resync queries the authority once and commits the new skew. On failure the
// committed state is left untouched.
func (s *Service) Resync(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.attempts++
	gen := s.attempts
	s.mu.Unlock()

	send := s.clock.Now()
	reply, err := s.authority.Now(ctx)
	receive := s.clock.Now()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSyncFailed, err)
	}
	if reply.Time.IsZero() {
		return fmt.Errorf("%w: %w", ErrSyncFailed, ErrMalformedResponse)
	}

	sample := Sample{Remote: reply.Time, LocalSend: send, LocalReceive: receive}
	skew := s.cfg.Estimator.Estimate(sample)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if gen < s.committedGen {
		return ErrSuperseded
	}

	s.committedGen = gen
	s.state = State{
		Skew:     skew,
		LastSync: receive,
		Zone:     reply.Zone,
		Synced:   true,
	}

	s.logger.Info().
		Dur("skew", skew).
		Dur("rtt", sample.RoundTrip()).
		Str("authority_zone", reply.Zone).
		Msg("clock resynchronized")

	return nil
}

// tick computes the corrected instant and notifies subscribers in subscription order.
func (s *Service) tick() {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return
	}
	now := s.clock.Now().Add(s.state.Skew)
	subs := make([]tickSub, len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, ts := range subs {
		ts.sub.OnClockTick(now)
	}
}

// CorrectedNow returns the local clock shifted by the committed skew.
func (s *Service) CorrectedNow() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Now().Add(s.state.Skew)
}

// Skew returns the committed skew.
func (s *Service) Skew() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Skew
}

// State returns a copy of the committed clock state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Display returns the formatter for the configured display zone.
func (s *Service) Display() *Display {
	return s.display
}

// Subscribe registers a tick subscriber. It returns the current corrected instant
// and a func that removes the subscriber.
func (s *Service) Subscribe(sub TickSubscriber) (time.Time, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSubID++
	id := s.nextSubID
	s.subs = append(s.subs, tickSub{id: id, sub: sub})

	return s.clock.Now().Add(s.state.Skew), func() { s.unsubscribe(id) }
}

func (s *Service) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, ts := range s.subs {
		if ts.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// Shutdown stops both schedules and discards any resync still in flight.
// It must not be called from a tick callback.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()

		if !started {
			return
		}
		cancel()
		<-s.done
		s.logger.Info().Msg("clock sync service stopped")
	})
}
