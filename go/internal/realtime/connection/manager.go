package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotConnected is logged when a send is discarded.
var ErrNotConnected = errors.New("push connection not open")

// Config holds push connection settings.
type Config struct {
	URL            string
	ReconnectDelay time.Duration // fixed, not a backoff
}

// DefaultConfig returns default push connection configuration
func DefaultConfig() Config {
	return Config{
		URL:            "ws://localhost:8000/ws/props",
		ReconnectDelay: 3 * time.Second,
	}
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventOpenFailed
	eventFrame
	eventClosed
)

// event is posted to the loop by dial and read goroutines, tagged with the attempt that produced it.
type event struct {
	kind    eventKind
	attempt uint64
	conn    Conn
	data    []byte
	err     error
}

type subscription struct {
	id  int
	sub Subscriber
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(clock clockwork.Clock) Option {
	return func(m *Manager) { m.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

func WithMetrics(metrics MetricsCollector) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager owns a single logical push connection. It reconnects after a fixed
// delay whenever the connection drops and fans every decoded frame out to subscribers.
//
// All state transitions happen on one event-loop goroutine; other goroutines only
// post tagged events to it.
type Manager struct {
	config  Config
	dialer  Dialer
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics MetricsCollector

	mu          sync.RWMutex
	state       State
	latest      InboundMessage
	hasLatest   bool
	conn        Conn
	connAttempt uint64
	subs        []subscription
	nextSubID   int
	stopped     bool

	writeMu sync.Mutex

	// owned by the loop goroutine
	attempt    uint64
	attemptID  string
	dialCancel context.CancelFunc
	reconnect  clockwork.Timer

	events    chan event
	connectCh chan struct{}
	quit      chan struct{}
	done      chan struct{}

	// closing is closed when the loop starts tearing down. postMu lets teardown
	// wait out posts that raced with it.
	closing chan struct{}
	postMu  sync.RWMutex

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
}

// NewManager creates a connection manager. Nothing is dialed until Start.
func NewManager(config Config, dialer Dialer, opts ...Option) *Manager {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultConfig().ReconnectDelay
	}

	m := &Manager{
		config:    config,
		dialer:    dialer,
		clock:     clockwork.NewRealClock(),
		logger:    log.Logger,
		metrics:   NoOpMetricsCollector{},
		state:     Disconnected,
		events:    make(chan event, 64),
		connectCh: make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		closing:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "connection").Str("url", config.URL).Logger()

	return m
}

// Start launches the event loop and the first connection attempt.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		m.started = true
		m.mu.Unlock()

		m.logger.Info().Dur("reconnect_delay", m.config.ReconnectDelay).Msg("connection manager started")
		go m.run(ctx)
	})
}

// Connect requests a connection attempt. It is a no-op while connecting or connected.
// A pending reconnect is replaced by an immediate attempt.
func (m *Manager) Connect() {
	select {
	case m.connectCh <- struct{}{}:
	default:
	}
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer m.teardown()

	m.connect(ctx)

	for {
		var reconnectC <-chan time.Time
		if m.reconnect != nil {
			reconnectC = m.reconnect.Chan()
		}

		select {
		case <-ctx.Done():
			return
		case <-m.quit:
			return
		case <-m.connectCh:
			m.connect(ctx)
		case <-reconnectC:
			m.reconnect = nil
			m.logger.Debug().Msg("reconnect timer fired")
			m.connect(ctx)
		case ev := <-m.events:
			m.handle(ev)
		}
	}
}

// connect moves Disconnected -> Connecting and dials in the background.
func (m *Manager) connect(ctx context.Context) {
	if m.State() != Disconnected {
		m.logger.Debug().Str("state", m.State().String()).Msg("connect ignored")
		return
	}
	if m.reconnect != nil {
		stopAndDrainTimer(m.reconnect)
		m.reconnect = nil
	}

	m.attempt++
	attempt := m.attempt
	m.attemptID = uuid.New().String()

	dialCtx, cancel := context.WithCancel(ctx)
	m.dialCancel = cancel

	m.setState(Connecting)
	m.logger.Debug().Uint64("attempt", attempt).Str("attempt_id", m.attemptID).Msg("dialing push endpoint")

	go func() {
		conn, err := m.dialer.Dial(dialCtx, m.config.URL)
		if err != nil {
			m.post(event{kind: eventOpenFailed, attempt: attempt, err: err})
			return
		}
		m.post(event{kind: eventOpened, attempt: attempt, conn: conn})
	}()
}

func (m *Manager) handle(ev event) {
	if ev.attempt != m.attempt {
		// superseded attempt
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}

	switch ev.kind {
	case eventOpened:
		if m.State() != Connecting {
			ev.conn.Close()
			return
		}
		m.cancelDial()

		m.mu.Lock()
		m.conn = ev.conn
		m.connAttempt = ev.attempt
		m.mu.Unlock()

		m.setState(Connected)
		m.logger.Info().Str("attempt_id", m.attemptID).Msg("push connection open")
		go m.readLoop(ev.attempt, ev.conn)

	case eventOpenFailed:
		m.logger.Warn().Err(ev.err).Str("attempt_id", m.attemptID).Msg("push connection failed to open")
		m.metrics.RecordTransportFailure(ev.err)
		m.disconnected()

	case eventFrame:
		if m.State() != Connected {
			return
		}
		m.deliver(ev.data)

	case eventClosed:
		if m.State() == Disconnected {
			return
		}
		m.logger.Warn().Err(ev.err).Str("attempt_id", m.attemptID).Msg("push connection lost")
		m.metrics.RecordTransportFailure(ev.err)
		m.disconnected()
	}
}

func (m *Manager) readLoop(attempt uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.post(event{kind: eventClosed, attempt: attempt, err: err})
			return
		}
		m.post(event{kind: eventFrame, attempt: attempt, data: data})
	}
}

// post hands an event to the loop, or drops it once the loop is tearing down.
// A dropped event's connection is closed.
func (m *Manager) post(ev event) {
	m.postMu.RLock()
	defer m.postMu.RUnlock()

	select {
	case <-m.closing:
		discard(ev)
		return
	default:
	}

	select {
	case m.events <- ev:
	case <-m.closing:
		discard(ev)
	}
}

func discard(ev event) {
	if ev.conn != nil {
		ev.conn.Close()
	}
}

// disconnected collapses any number of close/error signals into one transition
// and schedules exactly one reconnect.
func (m *Manager) disconnected() {
	if m.State() == Disconnected {
		return
	}
	m.cancelDial()

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	m.setState(Disconnected)
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	if m.reconnect != nil {
		return
	}
	m.reconnect = m.clock.NewTimer(m.config.ReconnectDelay)
	m.metrics.RecordReconnectScheduled(m.config.ReconnectDelay)
	m.logger.Info().
		Dur("delay", m.config.ReconnectDelay).
		Time("at", m.clock.Now().Add(m.config.ReconnectDelay)).
		Msg("reconnect scheduled")
}

func (m *Manager) cancelDial() {
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
}

// deliver replaces the latest message and fans it out. Malformed frames are dropped.
func (m *Manager) deliver(raw []byte) {
	msg, err := decodeFrame(raw, m.clock.Now())
	if err != nil {
		m.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("dropping malformed frame")
		m.metrics.RecordDecodeFailure(err)
		return
	}

	m.mu.Lock()
	m.latest = msg
	m.hasLatest = true
	subs := m.snapshotSubsLocked()
	stopped := m.stopped
	m.mu.Unlock()

	m.metrics.RecordMessageReceived(msg.Type)
	m.logger.Debug().Str("type", msg.Type).Int("bytes", len(raw)).Msg("message received")

	if stopped {
		return
	}
	for _, s := range subs {
		s.sub.OnMessage(msg)
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	prev := m.state
	if prev == state {
		m.mu.Unlock()
		return
	}
	m.state = state
	subs := m.snapshotSubsLocked()
	stopped := m.stopped
	m.mu.Unlock()

	m.metrics.RecordStateChange(prev, state)
	m.logger.Debug().Str("from", prev.String()).Str("to", state.String()).Msg("connection state changed")

	if stopped {
		return
	}
	for _, s := range subs {
		s.sub.OnStateChange(state)
	}
}

func (m *Manager) snapshotSubsLocked() []subscription {
	subs := make([]subscription, len(m.subs))
	copy(subs, m.subs)
	return subs
}

// teardown runs on the loop goroutine as it exits.
func (m *Manager) teardown() {
	close(m.closing)
	// no post can enqueue once this lock is held
	m.postMu.Lock()
	m.postMu.Unlock()
	defer m.drainEvents()

	if m.reconnect != nil {
		stopAndDrainTimer(m.reconnect)
		m.reconnect = nil
	}
	m.cancelDial()

	m.mu.Lock()
	m.stopped = true
	conn := m.conn
	m.conn = nil
	m.state = Disconnected
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// drainEvents closes connections left in the queue by dials that finished during teardown.
func (m *Manager) drainEvents() {
	for {
		select {
		case ev := <-m.events:
			discard(ev)
		default:
			return
		}
	}
}

// Send JSON-encodes v and writes it only while connected. Otherwise it is
// discarded. It reports whether the frame was written.
func (m *Manager) Send(v any) bool {
	m.mu.RLock()
	state, conn, attempt := m.state, m.conn, m.connAttempt
	m.mu.RUnlock()

	if state != Connected || conn == nil {
		m.logger.Debug().Err(ErrNotConnected).Str("state", state.String()).Msg("send discarded")
		m.metrics.RecordSend(false)
		return false
	}

	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn().Err(err).Msg("send discarded: encode failed")
		m.metrics.RecordSend(false)
		return false
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(data)
	m.writeMu.Unlock()

	if err != nil {
		m.logger.Warn().Err(err).Msg("send failed")
		m.metrics.RecordSend(false)
		// Non-blocking: Send may run inside a subscriber callback on the loop goroutine.
		select {
		case m.events <- event{kind: eventClosed, attempt: attempt, err: err}:
		default:
		}
		return false
	}

	m.metrics.RecordSend(true)
	return true
}

// Subscribe registers s and returns the current state and latest message along
// with a func that removes the subscription.
func (m *Manager) Subscribe(s Subscriber) (Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSubID++
	id := m.nextSubID
	m.subs = append(m.subs, subscription{id: id, sub: s})

	snap := Snapshot{State: m.state, Latest: m.latest, HasLatest: m.hasLatest}
	return snap, func() { m.unsubscribe(id) }
}

func (m *Manager) unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
			return
		}
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Latest returns the most recent decoded message, if any.
func (m *Manager) Latest() (InboundMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasLatest
}

// Shutdown cancels any pending reconnect, closes the transport and waits for the
// event loop to exit. No subscriber callback runs after it returns. It must not be
// called from a subscriber callback.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		started := m.started
		m.mu.Unlock()

		close(m.quit)
		if started {
			<-m.done
		}
		m.logger.Info().Msg("connection manager stopped")
	})
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
