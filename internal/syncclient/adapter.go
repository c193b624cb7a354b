package syncclient

import (
	"strings"
	"sync"

	"qms/patient-queue/internal/models"
)

type Mode string

const (
	// ModeCalled is the display side: the head is the patient being called.
	ModeCalled Mode = "called"
	// ModeWaiting is the producer side: the head is the next patient to call.
	ModeWaiting Mode = "waiting"
)

const defaultRecent = 5

// Scope narrows what one viewer sees.
type Scope struct {
	Doctor string
	Mode   Mode
}

// View is what subscribers receive on every emission. Ordered holds the
// in-scope records in canonical order and Current is its head.
type View struct {
	Seq       uint64
	Status    State
	Snapshot  models.Snapshot
	Ordered   []models.Patient
	Current   *models.Patient
	IsNewCall bool
	Recall    bool
	Recent    []models.Patient
}

type AdapterOptions struct {
	Recent int
}

// Adapter turns raw snapshots into per-viewer views. It is safe for use by
// the strategy goroutine and any number of subscribers.
type Adapter struct {
	scope  Scope
	doctor string
	recent int

	mu            sync.Mutex
	subscribers   map[int]func(View)
	nextID        int
	applied       bool
	resync        bool
	lastSeq       uint64
	currentID     string
	headCallID    string
	maxLastCalled int64
	status        State
	last          View
}

func NewAdapter(scope Scope, options AdapterOptions) *Adapter {
	if scope.Mode == "" {
		scope.Mode = ModeCalled
	}
	recent := options.Recent
	if recent <= 0 {
		recent = defaultRecent
	}
	return &Adapter{
		scope:       scope,
		doctor:      strings.ToLower(strings.TrimSpace(scope.Doctor)),
		recent:      recent,
		subscribers: make(map[int]func(View)),
		status:      StateStopped,
	}
}

// Subscribe registers fn for every later emission and returns the function
// that removes it.
func (a *Adapter) Subscribe(fn func(View)) func() {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subscribers[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subscribers, id)
			a.mu.Unlock()
		})
	}
}

// View returns the last emitted view.
func (a *Adapter) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// SetStatus records the transport state and re-emits the last view with it.
// An opened connection allows one snapshot with a lower seq, which is what a
// restarted server replays.
func (a *Adapter) SetStatus(state State) {
	a.mu.Lock()
	a.status = state
	if state == StateOpen || state == StatePolling {
		a.resync = true
	}
	view := a.last
	view.Status = state
	view.IsNewCall = false
	view.Recall = false
	a.last = view
	subscribers := a.snapshotSubscribers()
	a.mu.Unlock()

	notify(subscribers, view)
}

// Apply feeds one snapshot from any transport. Snapshots at or below the
// last applied seq only refresh status.
func (a *Adapter) Apply(snapshot models.Snapshot) {
	a.mu.Lock()
	if a.applied && !a.accept(snapshot.Seq) {
		view := a.last
		view.Status = a.status
		view.IsNewCall = false
		view.Recall = false
		subscribers := a.snapshotSubscribers()
		a.mu.Unlock()
		notify(subscribers, view)
		return
	}

	view := a.build(snapshot)
	a.applied = true
	a.resync = false
	a.lastSeq = snapshot.Seq
	a.last = view
	subscribers := a.snapshotSubscribers()
	a.mu.Unlock()

	notify(subscribers, view)
}

func (a *Adapter) accept(seq uint64) bool {
	if seq == 0 || seq > a.lastSeq {
		return true
	}
	return a.resync && seq < a.lastSeq
}

func (a *Adapter) build(snapshot models.Snapshot) View {
	var inScope, history []models.Patient
	wantStatus := models.StatusCalled
	if a.scope.Mode == ModeWaiting {
		wantStatus = models.StatusWaiting
	}
	for _, p := range snapshot.Patients {
		if a.doctor != "" && strings.ToLower(strings.TrimSpace(p.Doctor)) != a.doctor {
			continue
		}
		if p.Status == wantStatus {
			inScope = append(inScope, p)
		}
		if p.Status == models.StatusCalled || p.Status == models.StatusDone {
			history = append(history, p)
		}
	}

	var ordered []models.Patient
	if a.scope.Mode == ModeWaiting {
		ordered = OrderWaiting(inScope)
	} else {
		ordered = OrderCalled(inScope)
	}

	view := View{
		Seq:      snapshot.Seq,
		Status:   a.status,
		Snapshot: snapshot,
		Ordered:  ordered,
	}
	currentID := ""
	if len(ordered) > 0 {
		current := ordered[0]
		view.Current = &current
		currentID = current.ID
	}

	for _, p := range byLastCalled(history) {
		if len(view.Recent) == a.recent {
			break
		}
		if p.ID == currentID || p.LastCalled == nil {
			continue
		}
		view.Recent = append(view.Recent, p)
	}

	headCallID := ""
	var head *models.CallNotification
	if len(snapshot.Calls) > 0 {
		head = &snapshot.Calls[0]
		headCallID = head.ID
	}
	freshHead := head != nil && headCallID != a.headCallID && head.PatientID == currentID

	// The first snapshot is the baseline; flags only fire on later changes.
	if a.applied {
		view.IsNewCall = currentID != "" && currentID != a.currentID
		// Finishing the newest call hands the head back to an older called
		// patient; that is not a call.
		if view.IsNewCall && a.scope.Mode == ModeCalled {
			view.IsNewCall = freshHead || view.Current.LastCalledAt() > a.maxLastCalled
		}
		view.Recall = !view.IsNewCall && freshHead && head.Recall
	}
	for _, p := range inScope {
		if p.LastCalledAt() > a.maxLastCalled {
			a.maxLastCalled = p.LastCalledAt()
		}
	}
	a.currentID = currentID
	a.headCallID = headCallID
	return view
}

func (a *Adapter) snapshotSubscribers() []func(View) {
	out := make([]func(View), 0, len(a.subscribers))
	for _, fn := range a.subscribers {
		out = append(out, fn)
	}
	return out
}

func notify(subscribers []func(View), view View) {
	for _, fn := range subscribers {
		fn(view)
	}
}
