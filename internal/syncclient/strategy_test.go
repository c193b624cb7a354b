package syncclient

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qms/patient-queue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	attempts int32
	stream   func(ctx context.Context, events Events, attempt int32) error
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Stream(ctx context.Context, events Events) error {
	attempt := atomic.AddInt32(&f.attempts, 1)
	return f.stream(ctx, events, attempt)
}

type fakePuller struct {
	calls int32
	seq   uint64
}

func (f *fakePuller) Queue(ctx context.Context) (models.Snapshot, error) {
	atomic.AddInt32(&f.calls, 1)
	return models.Snapshot{OK: true, Seq: f.seq}, nil
}

type statusLog struct {
	mu     sync.Mutex
	states []State
}

func (l *statusLog) record(s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
}

func (l *statusLog) has(s State) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, got := range l.states {
		if got == s {
			return true
		}
	}
	return false
}

func TestStrategyFallsBackWithinOnePollInterval(t *testing.T) {
	transport := &fakeTransport{stream: func(ctx context.Context, events Events, attempt int32) error {
		return fmt.Errorf("%w: handshake answered 404", ErrUnsupportedTransport)
	}}
	puller := &fakePuller{seq: 7}
	snapshots := make(chan models.Snapshot, 16)
	poll := 100 * time.Millisecond

	strategy := NewStrategy(StrategyOptions{
		Transport:    transport,
		Puller:       puller,
		PollInterval: poll,
		OnSnapshot:   func(s models.Snapshot) { snapshots <- s },
	})
	started := time.Now()
	strategy.Start(context.Background())
	defer strategy.Stop()

	select {
	case got := <-snapshots:
		assert.Equal(t, uint64(7), got.Seq)
		assert.Less(t, time.Since(started), poll)
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot from the poll fallback")
	}
	assert.Equal(t, StatePolling, strategy.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&transport.attempts))
}

func TestStrategyPollsAfterMaxFailures(t *testing.T) {
	transport := &fakeTransport{stream: func(ctx context.Context, events Events, attempt int32) error {
		return fmt.Errorf("%w: connection refused", ErrTransport)
	}}
	puller := &fakePuller{seq: 1}
	snapshots := make(chan models.Snapshot, 16)

	strategy := NewStrategy(StrategyOptions{
		Transport:    transport,
		Puller:       puller,
		MaxFailures:  1,
		PollInterval: 50 * time.Millisecond,
		OnSnapshot:   func(s models.Snapshot) { snapshots <- s },
	})
	strategy.Start(context.Background())
	defer strategy.Stop()

	select {
	case <-snapshots:
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after max failures")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&transport.attempts))
}

func TestStrategyRetriesPushAfterPolling(t *testing.T) {
	opened := make(chan struct{})
	transport := &fakeTransport{stream: func(ctx context.Context, events Events, attempt int32) error {
		if attempt == 1 {
			return ErrUnsupportedTransport
		}
		events.Opened()
		events.Snapshot(models.Snapshot{OK: true, Seq: 99})
		close(opened)
		<-ctx.Done()
		return nil
	}}
	var seen atomic.Uint64
	strategy := NewStrategy(StrategyOptions{
		Transport:         transport,
		Puller:            &fakePuller{seq: 1},
		PollInterval:      20 * time.Millisecond,
		PushRetryInterval: 80 * time.Millisecond,
		OnSnapshot:        func(s models.Snapshot) { seen.Store(s.Seq) },
	})
	strategy.Start(context.Background())

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("push was not retried")
	}
	assert.Equal(t, uint64(99), seen.Load())
	assert.Equal(t, StateOpen, strategy.State())

	strategy.Stop()
	assert.Equal(t, StateStopped, strategy.State())
}

func TestStrategyReconnectsWithBackoff(t *testing.T) {
	var mu sync.Mutex
	var attemptTimes []time.Time
	reconnected := make(chan struct{})
	transport := &fakeTransport{stream: func(ctx context.Context, events Events, attempt int32) error {
		mu.Lock()
		attemptTimes = append(attemptTimes, time.Now())
		mu.Unlock()
		if attempt == 1 {
			events.Opened()
			return ErrTransport
		}
		close(reconnected)
		<-ctx.Done()
		return nil
	}}
	status := &statusLog{}
	strategy := NewStrategy(StrategyOptions{Transport: transport, OnStatus: status.record})
	strategy.Start(context.Background())
	defer strategy.Stop()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("no reconnect")
	}
	mu.Lock()
	gap := attemptTimes[1].Sub(attemptTimes[0])
	mu.Unlock()
	assert.GreaterOrEqual(t, gap, initialBackoff)
	assert.True(t, status.has(StateOpen))
	assert.True(t, status.has(StateError))
	assert.False(t, status.has(StatePolling))
}

func TestStrategyPollingOnly(t *testing.T) {
	puller := &fakePuller{seq: 3}
	status := &statusLog{}
	strategy := NewStrategy(StrategyOptions{
		Puller:       puller,
		PollInterval: 10 * time.Millisecond,
		OnStatus:     status.record,
	})
	strategy.Start(context.Background())
	require.Eventually(t, func() bool { return atomic.LoadInt32(&puller.calls) >= 3 }, 2*time.Second, 5*time.Millisecond)
	strategy.Stop()

	assert.True(t, status.has(StatePolling))
	assert.Equal(t, StateStopped, strategy.State())
}

func TestStrategyStopWithoutStart(t *testing.T) {
	strategy := NewStrategy(StrategyOptions{})
	strategy.Stop()
	assert.Equal(t, StateStopped, strategy.State())
}
