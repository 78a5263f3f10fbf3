package clocksync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	authorityInstant = time.Date(2025, 10, 31, 19, 0, 0, 0, time.UTC)
	localInstant     = time.Date(2025, 10, 31, 19, 0, 2, 0, time.UTC)
)

// scriptedAuthority answers each call with the next reply, or the last one when exhausted.
type scriptedAuthority struct {
	mu      sync.Mutex
	calls   int
	replies []func(ctx context.Context) (AuthorityTime, error)
	called  chan struct{}
}

func newScriptedAuthority(replies ...func(ctx context.Context) (AuthorityTime, error)) *scriptedAuthority {
	return &scriptedAuthority{replies: replies, called: make(chan struct{}, 64)}
}

func (a *scriptedAuthority) Now(ctx context.Context) (AuthorityTime, error) {
	a.mu.Lock()
	i := a.calls
	if i >= len(a.replies) {
		i = len(a.replies) - 1
	}
	a.calls++
	reply := a.replies[i]
	a.mu.Unlock()

	a.called <- struct{}{}
	return reply(ctx)
}

func (a *scriptedAuthority) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func replyAt(t time.Time) func(context.Context) (AuthorityTime, error) {
	return func(context.Context) (AuthorityTime, error) {
		return AuthorityTime{Time: t, Zone: "UTC"}, nil
	}
}

func replyErr(err error) func(context.Context) (AuthorityTime, error) {
	return func(context.Context) (AuthorityTime, error) {
		return AuthorityTime{}, err
	}
}

func newTestService(t *testing.T, clock clockwork.Clock, authority Authority) *Service {
	t.Helper()
	svc, err := NewService(DefaultConfig(), authority, WithClock(clock), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(svc.Shutdown)
	return svc
}

func waitCalled(t *testing.T, a *scriptedAuthority) {
	t.Helper()
	select {
	case <-a.called:
	case <-time.After(2 * time.Second):
		t.Fatal("authority was not queried")
	}
}

func TestResyncComputesSkew(t *testing.T) {
	clock := clockwork.NewFakeClockAt(localInstant)
	svc := newTestService(t, clock, newScriptedAuthority(replyAt(authorityInstant)))

	require.NoError(t, svc.Resync(context.Background()))

	state := svc.State()
	assert.Equal(t, -2*time.Second, state.Skew)
	assert.True(t, state.LastSync.Equal(localInstant))
	assert.Equal(t, "UTC", state.Zone)
	assert.True(t, state.Synced)

	// correctedNow == localNow + (T - L)
	assert.True(t, svc.CorrectedNow().Equal(authorityInstant))
	clock.Advance(90 * time.Second)
	assert.True(t, svc.CorrectedNow().Equal(authorityInstant.Add(90*time.Second)))
}

func TestResyncFailureLeavesStateUnchanged(t *testing.T) {
	clock := clockwork.NewFakeClockAt(localInstant)
	authority := newScriptedAuthority(
		replyAt(authorityInstant),
		replyErr(errors.New("connection refused")),
		replyAt(time.Time{}),
	)
	svc := newTestService(t, clock, authority)

	require.NoError(t, svc.Resync(context.Background()))
	before := svc.State()

	clock.Advance(5 * time.Minute)
	err := svc.Resync(context.Background())
	require.ErrorIs(t, err, ErrSyncFailed)
	assert.Equal(t, before, svc.State())

	err = svc.Resync(context.Background())
	require.ErrorIs(t, err, ErrSyncFailed)
	require.ErrorIs(t, err, ErrMalformedResponse)
	assert.Equal(t, before, svc.State())
}

func TestTickReportsCorrectedTime(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(localInstant)
	svc := newTestService(t, clock, newScriptedAuthority(replyAt(authorityInstant)))

	ticks := make(chan time.Time, 8)
	svc.Subscribe(TickFunc(func(now time.Time) { ticks <- now }))

	svc.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	require.Eventually(t, func() bool { return svc.State().Synced }, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, -2*time.Second, svc.Skew())

	clock.Advance(time.Second)

	select {
	case got := <-ticks:
		assert.True(t, got.Equal(time.Date(2025, 10, 31, 19, 0, 1, 0, time.UTC)), "got %s", got)
		assert.Equal(t, "2:00:01 PM", svc.Display().Clock(got))
	case <-ctx.Done():
		t.Fatal("no tick delivered")
	}
}

func TestTicksNeverQueryAuthority(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(localInstant)
	authority := newScriptedAuthority(replyAt(authorityInstant))
	svc := newTestService(t, clock, authority)

	ticks := make(chan time.Time, 16)
	svc.Subscribe(TickFunc(func(now time.Time) { ticks <- now }))
	svc.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	waitCalled(t, authority)
	require.Eventually(t, func() bool { return svc.State().Synced }, 2*time.Second, 5*time.Millisecond)

	for i := 1; i <= 3; i++ {
		clock.Advance(time.Second)
		select {
		case got := <-ticks:
			want := authorityInstant.Add(time.Duration(i) * time.Second)
			assert.True(t, got.Equal(want), "tick %d: got %s want %s", i, got, want)
		case <-ctx.Done():
			t.Fatal("no tick delivered")
		}
	}
	assert.Equal(t, 1, authority.Calls())
}

func TestResyncRunsOnSchedule(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(localInstant)
	authority := newScriptedAuthority(
		replyAt(authorityInstant),
		replyAt(localInstant.Add(5*time.Minute+3*time.Second)),
	)
	svc := newTestService(t, clock, authority)

	svc.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	waitCalled(t, authority)
	require.Eventually(t, func() bool { return svc.Skew() == -2*time.Second }, 2*time.Second, 5*time.Millisecond)

	clock.Advance(5 * time.Minute)
	waitCalled(t, authority)
	require.Eventually(t, func() bool { return svc.Skew() == 3*time.Second }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, authority.Calls())
}

func TestFailedScheduledResyncKeepsSkew(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(localInstant)
	authority := newScriptedAuthority(
		replyAt(authorityInstant),
		replyErr(errors.New("timeout")),
	)
	svc := newTestService(t, clock, authority)

	svc.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	require.Eventually(t, func() bool { return svc.State().Synced }, 2*time.Second, 5*time.Millisecond)
	before := svc.State()

	clock.Advance(5 * time.Minute)
	waitCalled(t, authority)
	waitCalled(t, authority)

	assert.Never(t, func() bool { return svc.State() != before }, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 2, authority.Calls())
}

func TestStaleResyncResultIsDiscarded(t *testing.T) {
	clock := clockwork.NewFakeClockAt(localInstant)
	release := make(chan struct{})
	authority := newScriptedAuthority(
		func(context.Context) (AuthorityTime, error) {
			<-release
			return AuthorityTime{Time: localInstant.Add(time.Hour), Zone: "UTC"}, nil
		},
		replyAt(authorityInstant),
	)
	svc := newTestService(t, clock, authority)

	slow := make(chan error, 1)
	go func() { slow <- svc.Resync(context.Background()) }()
	waitCalled(t, authority)

	require.NoError(t, svc.Resync(context.Background()))
	require.Equal(t, -2*time.Second, svc.Skew())

	close(release)
	require.ErrorIs(t, <-slow, ErrSuperseded)
	assert.Equal(t, -2*time.Second, svc.Skew())
}

func TestShutdownDiscardsInFlightResync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(localInstant)
	release := make(chan struct{})
	authority := newScriptedAuthority(func(context.Context) (AuthorityTime, error) {
		<-release // ignores cancellation on purpose
		return AuthorityTime{Time: authorityInstant, Zone: "UTC"}, nil
	})
	svc := newTestService(t, clock, authority)

	svc.Start(ctx)
	waitCalled(t, authority)

	inflight := make(chan error, 1)
	go func() { inflight <- svc.Resync(ctx) }()
	waitCalled(t, authority)

	before := svc.State()
	svc.Shutdown()
	close(release)

	require.ErrorIs(t, <-inflight, ErrStopped)
	assert.Never(t, func() bool { return svc.State() != before }, 100*time.Millisecond, 10*time.Millisecond)
	assert.False(t, svc.State().Synced)
	require.ErrorIs(t, svc.Resync(ctx), ErrStopped)
}

func TestCancelledContextDiscardsInFlightResync(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewFakeClockAt(localInstant)
	release := make(chan struct{})
	authority := newScriptedAuthority(func(context.Context) (AuthorityTime, error) {
		<-release // ignores cancellation on purpose
		return AuthorityTime{Time: authorityInstant, Zone: "UTC"}, nil
	})
	svc := newTestService(t, clock, authority)

	svc.Start(ctx)
	waitCalled(t, authority)

	inflight := make(chan error, 1)
	go func() { inflight <- svc.Resync(context.Background()) }()
	waitCalled(t, authority)

	cancel()
	select {
	case <-svc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after cancellation")
	}
	close(release)

	require.ErrorIs(t, <-inflight, ErrStopped)
	assert.Never(t, func() bool { return svc.State().Synced }, 100*time.Millisecond, 10*time.Millisecond)
	require.ErrorIs(t, svc.Resync(context.Background()), ErrStopped)
}

func TestUnsubscribeStopsTicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock := clockwork.NewFakeClockAt(localInstant)
	svc := newTestService(t, clock, newScriptedAuthority(replyAt(localInstant)))

	first := make(chan time.Time, 8)
	second := make(chan time.Time, 8)
	_, unsubscribe := svc.Subscribe(TickFunc(func(now time.Time) { first <- now }))
	now, _ := svc.Subscribe(TickFunc(func(now time.Time) { second <- now }))
	assert.True(t, now.Equal(localInstant))

	svc.Start(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 2))

	clock.Advance(time.Second)
	<-first
	<-second

	unsubscribe()
	clock.Advance(time.Second)
	<-second
	select {
	case <-first:
		t.Fatal("unsubscribed subscriber received a tick")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewServiceRejectsUnknownZone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisplayZone = "Mars/Olympus_Mons"
	_, err := NewService(cfg, newScriptedAuthority(replyAt(authorityInstant)))
	assert.Error(t, err)
}
