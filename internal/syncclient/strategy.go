package syncclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"qms/patient-queue/internal/models"

	"go.uber.org/zap"
)

type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateError      State = "error"
	StatePolling    State = "polling"
	StateStopped    State = "stopped"
)

const (
	defaultPollInterval      = 2 * time.Second
	defaultPushRetryInterval = 30 * time.Second
	defaultMaxFailures       = 5
)

// Puller is the pull side used while push is unavailable.
type Puller interface {
	Queue(ctx context.Context) (models.Snapshot, error)
}

type StrategyOptions struct {
	// Transport may be nil, in which case the strategy only polls.
	Transport         Transport
	Puller            Puller
	PollInterval      time.Duration
	PushRetryInterval time.Duration
	MaxFailures       int
	OnSnapshot        func(models.Snapshot)
	OnStatus          func(State)
	Logger            *zap.Logger
}

// Strategy keeps one viewer in sync: push while the transport works, pull
// while it does not. Snapshots and status changes are delivered from a
// single goroutine.
type Strategy struct {
	transport   Transport
	puller      Puller
	poll        time.Duration
	pushRetry   time.Duration
	maxFailures int
	onSnapshot  func(models.Snapshot)
	onStatus    func(State)
	logger      *zap.Logger
	backoff     *Backoff

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
}

func NewStrategy(options StrategyOptions) *Strategy {
	poll := options.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	pushRetry := options.PushRetryInterval
	if pushRetry <= 0 {
		pushRetry = defaultPushRetryInterval
	}
	maxFailures := options.MaxFailures
	if maxFailures <= 0 {
		maxFailures = defaultMaxFailures
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	onSnapshot := options.OnSnapshot
	if onSnapshot == nil {
		onSnapshot = func(models.Snapshot) {}
	}
	onStatus := options.OnStatus
	if onStatus == nil {
		onStatus = func(State) {}
	}
	return &Strategy{
		transport:   options.Transport,
		puller:      options.Puller,
		poll:        poll,
		pushRetry:   pushRetry,
		maxFailures: maxFailures,
		onSnapshot:  onSnapshot,
		onStatus:    onStatus,
		logger:      logger,
		backoff:     NewBackoff(),
		state:       StateStopped,
	}
}

// Start launches the sync loop. Calling Start on a running strategy is a no-op.
func (s *Strategy) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends the loop and waits for it. The final status is StateStopped.
func (s *Strategy) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Strategy) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Strategy) setState(state State) {
	s.mu.Lock()
	changed := s.state != state
	s.state = state
	s.mu.Unlock()
	if changed {
		s.onStatus(state)
	}
}

func (s *Strategy) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(StateStopped)

	if s.transport == nil {
		s.pollFor(ctx, 0)
		return
	}

	failures := 0
	for ctx.Err() == nil {
		s.setState(StateConnecting)
		events := &strategyEvents{strategy: s}
		err := s.transport.Stream(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if events.opened {
			failures = 0
		}
		failures++
		s.setState(StateError)
		s.logger.Debug("push transport failed",
			zap.String("transport", s.transport.Name()),
			zap.Int("failures", failures),
			zap.Error(err),
		)

		if errors.Is(err, ErrUnsupportedTransport) || failures >= s.maxFailures {
			s.logger.Info("push unavailable, falling back to polling",
				zap.String("transport", s.transport.Name()),
				zap.Duration("retry_in", s.pushRetry),
			)
			s.pollFor(ctx, s.pushRetry)
			failures = 0
			s.backoff.Reset()
			continue
		}

		wait := s.backoff.Next()
		if !sleep(ctx, wait) {
			return
		}
	}
}

// pollFor pulls the queue immediately and then every poll interval. A zero
// limit polls until ctx is done.
func (s *Strategy) pollFor(ctx context.Context, limit time.Duration) {
	s.setState(StatePolling)
	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.pullOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			s.pullOnce(ctx)
		}
	}
}

func (s *Strategy) pullOnce(ctx context.Context) {
	if s.puller == nil {
		return
	}
	snapshot, err := s.puller.Queue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("poll failed", zap.Error(err))
		}
		return
	}
	s.onSnapshot(snapshot)
}

type strategyEvents struct {
	strategy *Strategy
	opened   bool
}

func (e *strategyEvents) Opened() {
	e.opened = true
	e.strategy.backoff.Reset()
	e.strategy.setState(StateOpen)
}

func (e *strategyEvents) Snapshot(snapshot models.Snapshot) {
	e.strategy.onSnapshot(snapshot)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
