package feed

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"qms/patient-queue/internal/models"
	"qms/patient-queue/internal/store"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

const (
	EventPatients = "patients"
	EventPing     = "ping"
)

const (
	defaultPollInterval      = time.Second
	defaultHeartbeatInterval = 15 * time.Second
	readTimeout              = 5 * time.Second
)

// Event is one feed emission. Payload is the JSON envelope sent to viewers;
// for pings it is an empty object.
type Event struct {
	ID       string
	Type     string
	Seq      uint64
	Snapshot models.Snapshot
	Payload  []byte
}

// Source reads the two keys a snapshot is built from.
type Source interface {
	ReadQueue(ctx context.Context) ([]models.Patient, error)
	History(ctx context.Context, filter store.HistoryFilter) ([]models.CallNotification, error)
}

type Publisher interface {
	Publish(event Event)
}

type Options struct {
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// Feed turns store changes into an ordered stream of snapshot events.
type Feed struct {
	source    Source
	versions  store.Backend
	publisher Publisher
	poll      time.Duration
	heartbeat time.Duration
	logger    *zap.Logger

	running int32
	started int32
	wake    chan struct{}

	mu           sync.RWMutex
	seq          uint64
	digest       []byte
	lastVersions map[string]string
	current      Event
	hasCurrent   bool

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

var watchedKeys = []string{store.KeyPatients, store.KeyCallHistory}

func New(source Source, versions store.Backend, publisher Publisher, options Options) *Feed {
	poll := options.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	heartbeat := options.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		source:       source,
		versions:     versions,
		publisher:    publisher,
		poll:         poll,
		heartbeat:    heartbeat,
		logger:       logger,
		wake:         make(chan struct{}, 1),
		lastVersions: make(map[string]string),
		entropy:      ulid.Monotonic(rand.Reader, 0),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start emits the current snapshot synchronously and then runs the detection
// loop until ctx is done or Stop is called. When the store cannot be read yet
// the loop keeps retrying on every tick.
func (f *Feed) Start(ctx context.Context) {
	if _, err := f.Poll(ctx, true); err != nil {
		feedTickFailures.Inc()
		f.logger.Warn("initial snapshot unavailable, retrying", zap.Error(err))
	}

	var signals []<-chan struct{}
	if watcher, ok := f.versions.(store.Watcher); ok {
		for _, key := range watchedKeys {
			ch, err := watcher.Watch(ctx, key)
			if err != nil {
				f.logger.Warn("change watch unavailable, polling only", zap.String("key", key), zap.Error(err))
				continue
			}
			signals = append(signals, ch)
		}
	}

	atomic.StoreInt32(&f.started, 1)
	go f.run(ctx, signals)
}

func (f *Feed) Stop() {
	f.stopOnce.Do(func() { close(f.stop) })
	if atomic.LoadInt32(&f.started) == 1 {
		<-f.done
	}
}

// Notify asks the loop to check the store now instead of at the next tick.
func (f *Feed) Notify() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// Current returns the last snapshot event.
func (f *Feed) Current() (Event, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current, f.hasCurrent
}

func (f *Feed) run(ctx context.Context, signals []<-chan struct{}) {
	defer close(f.done)

	ticker := time.NewTicker(f.poll)
	defer ticker.Stop()
	heartbeat := time.NewTicker(f.heartbeat)
	defer heartbeat.Stop()

	merged := make(chan struct{}, 1)
	for _, ch := range signals {
		go forward(ctx, f.stop, ch, merged)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-heartbeat.C:
			f.emitPing()
		case <-ticker.C:
			f.tick(ctx, false)
		case <-merged:
			f.tick(ctx, true)
		case <-f.wake:
			f.tick(ctx, true)
		}
	}
}

func forward(ctx context.Context, stop <-chan struct{}, in <-chan struct{}, out chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case _, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}

func (f *Feed) tick(ctx context.Context, force bool) {
	readCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()
	if _, err := f.Poll(readCtx, force); err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		feedTickFailures.Inc()
		f.logger.Warn("change feed tick failed", zap.Error(err))
	}
}

// Poll runs one detection pass and reports whether a snapshot was emitted.
// With force set the version check is skipped and the digest alone decides.
func (f *Feed) Poll(ctx context.Context, force bool) (bool, error) {
	if !atomic.CompareAndSwapInt32(&f.running, 0, 1) {
		feedSkippedTicks.Inc()
		return false, nil
	}
	defer atomic.StoreInt32(&f.running, 0)

	versions, changed, err := f.readVersions(ctx)
	if err != nil {
		return false, err
	}
	if !changed && !force {
		return false, nil
	}

	patients, err := f.source.ReadQueue(ctx)
	if err != nil {
		return false, err
	}
	calls, err := f.source.History(ctx, store.HistoryFilter{})
	if err != nil {
		return false, err
	}

	digest, err := digestOf(patients, calls)
	if err != nil {
		return false, err
	}

	f.mu.Lock()
	f.lastVersions = versions
	if f.hasCurrent && bytes.Equal(digest, f.digest) {
		f.mu.Unlock()
		return false, nil
	}
	f.seq++
	snapshot := models.Snapshot{OK: true, Seq: f.seq, Patients: patients, Calls: calls}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		f.seq--
		f.mu.Unlock()
		return false, err
	}
	event := Event{ID: f.newID(), Type: EventPatients, Seq: f.seq, Snapshot: snapshot, Payload: payload}
	f.digest = digest
	f.current = event
	f.hasCurrent = true
	f.mu.Unlock()

	feedEventsTotal.WithLabelValues(EventPatients).Inc()
	feedSeq.Set(float64(event.Seq))
	f.logger.Debug("snapshot emitted", zap.Uint64("seq", event.Seq), zap.Int("patients", len(patients)))
	f.publisher.Publish(event)
	return true, nil
}

func (f *Feed) emitPing() {
	f.mu.RLock()
	seq := f.seq
	f.mu.RUnlock()
	feedEventsTotal.WithLabelValues(EventPing).Inc()
	f.publisher.Publish(Event{ID: f.newID(), Type: EventPing, Seq: seq, Payload: []byte("{}")})
}

func (f *Feed) readVersions(ctx context.Context) (map[string]string, bool, error) {
	versions := make(map[string]string, len(watchedKeys))
	for _, key := range watchedKeys {
		v, err := f.versions.Version(ctx, key)
		if err != nil {
			return nil, false, err
		}
		versions[key] = v
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	changed := !f.hasCurrent
	for key, v := range versions {
		if f.lastVersions[key] != v {
			changed = true
		}
	}
	return versions, changed, nil
}

func (f *Feed) newID() string {
	f.entropyMu.Lock()
	defer f.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), f.entropy).String()
}

func digestOf(patients []models.Patient, calls []models.CallNotification) ([]byte, error) {
	raw, err := json.Marshal(struct {
		Patients []models.Patient          `json:"patients"`
		Calls    []models.CallNotification `json:"calls"`
	}{patients, calls})
	if err != nil {
		return nil, err
	}
	sum := blake2b.Sum256(raw)
	return sum[:], nil
}
