package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"qms/patient-queue/internal/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultMaxHistory = 200

type Options struct {
	FixedDoctors []models.Doctor
	MaxHistory   int
	Now          func() time.Time
	NewID        func() string
	Logger       *zap.Logger
}

// Queue is the typed view over a Backend. Every mutation is a single
// read-modify-write on one key so concurrent writers never lose updates.
type Queue struct {
	backend      Backend
	fixedDoctors []models.Doctor
	maxHistory   int
	now          func() time.Time
	newID        func() string
	logger       *zap.Logger
	tracer       trace.Tracer
}

type CreatePatientInput struct {
	Name         string
	Doctor       string
	Service      string
	OtherService string
	Urgency      bool
}

type CallInput struct {
	PatientID string
	By        string
	Room      string
}

type HistoryFilter struct {
	Viewer string
	Doctor string
}

func NewQueue(backend Backend, options Options) *Queue {
	maxHistory := options.MaxHistory
	if maxHistory <= 0 {
		maxHistory = defaultMaxHistory
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	newID := options.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fixed := make([]models.Doctor, 0, len(options.FixedDoctors))
	for _, d := range options.FixedDoctors {
		d.Fixed = true
		fixed = append(fixed, d)
	}
	return &Queue{
		backend:      backend,
		fixedDoctors: fixed,
		maxHistory:   maxHistory,
		now:          now,
		newID:        newID,
		logger:       logger,
		tracer:       otel.Tracer("qms/patient-queue/store"),
	}
}

func (q *Queue) ReadQueue(ctx context.Context) ([]models.Patient, error) {
	ctx, span := q.tracer.Start(ctx, "queue.read")
	patients, err := readJSON[[]models.Patient](ctx, q.backend, KeyPatients)
	endSpan(span, err)
	if err != nil {
		return nil, err
	}
	if patients == nil {
		patients = []models.Patient{}
	}
	return patients, nil
}

// ReadQueueOrEmpty is the display-side read: storage failures are logged and
// reported as an empty queue so a viewer never crashes.
func (q *Queue) ReadQueueOrEmpty(ctx context.Context) []models.Patient {
	patients, err := q.ReadQueue(ctx)
	if err != nil {
		q.logger.Warn("read queue failed, serving empty snapshot", zap.Error(err))
		return []models.Patient{}
	}
	return patients
}

func (q *Queue) WriteQueue(ctx context.Context, patients []models.Patient) error {
	ctx, span := q.tracer.Start(ctx, "queue.write")
	if patients == nil {
		patients = []models.Patient{}
	}
	raw, err := json.Marshal(patients)
	if err == nil {
		err = q.backend.Write(ctx, KeyPatients, raw)
	}
	endSpan(span, err)
	return err
}

func (q *Queue) Mutate(ctx context.Context, fn func([]models.Patient) ([]models.Patient, error)) error {
	return mutateJSON(ctx, q.backend, KeyPatients, fn)
}

func (q *Queue) CreatePatient(ctx context.Context, input CreatePatientInput) (models.Patient, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Doctor = strings.TrimSpace(input.Doctor)
	input.Service = strings.TrimSpace(input.Service)
	input.OtherService = strings.TrimSpace(input.OtherService)
	if input.Name == "" || input.Doctor == "" || input.Service == "" {
		return models.Patient{}, fmt.Errorf("%w: name, doctor and service are required", ErrValidation)
	}

	ctx, span := q.tracer.Start(ctx, "queue.create", trace.WithAttributes(attribute.String("doctor", input.Doctor)))
	patient := models.Patient{
		ID:           q.newID(),
		Name:         input.Name,
		Doctor:       input.Doctor,
		Service:      input.Service,
		OtherService: input.OtherService,
		Urgency:      input.Urgency,
		Status:       models.StatusWaiting,
		Timestamp:    q.now().Unix(),
	}
	err := q.Mutate(ctx, func(patients []models.Patient) ([]models.Patient, error) {
		return append(patients, patient), nil
	})
	endSpan(span, err)
	if err != nil {
		return models.Patient{}, err
	}
	q.logger.Info("patient created", zap.String("patient_id", patient.ID), zap.String("doctor", patient.Doctor), zap.Bool("urgency", patient.Urgency))
	return patient, nil
}

func (q *Queue) CallPatient(ctx context.Context, input CallInput) (models.Patient, error) {
	return q.call(ctx, ActionCall, input)
}

// RecallPatient repeats the call for an already called patient. The status is
// unchanged; a new recall notification is added to the call history.
func (q *Queue) RecallPatient(ctx context.Context, input CallInput) (models.Patient, error) {
	return q.call(ctx, ActionRecall, input)
}

func (q *Queue) call(ctx context.Context, action string, input CallInput) (models.Patient, error) {
	input.PatientID = strings.TrimSpace(input.PatientID)
	input.By = strings.TrimSpace(input.By)
	input.Room = strings.TrimSpace(input.Room)
	if input.PatientID == "" {
		return models.Patient{}, fmt.Errorf("%w: id is required", ErrValidation)
	}

	ctx, span := q.tracer.Start(ctx, "queue."+action, trace.WithAttributes(attribute.String("patient_id", input.PatientID)))
	var err error
	defer func() { endSpan(span, err) }()

	rooms, err := q.doctorRooms(ctx)
	if err != nil {
		return models.Patient{}, err
	}

	now := q.now()
	var called, previous models.Patient
	err = q.Mutate(ctx, func(patients []models.Patient) ([]models.Patient, error) {
		idx := indexOf(patients, input.PatientID)
		if idx < 0 {
			return nil, ErrPatientNotFound
		}
		p := &patients[idx]
		if !ValidTransition(action, p.Status) {
			return nil, fmt.Errorf("%w: cannot %s a %s patient", ErrInvalidState, action, p.Status)
		}
		previous = models.ClonePatients(patients[idx : idx+1])[0]
		p.Status = models.StatusCalled
		p.Calls++
		p.LastCalled = models.Int64Ptr(now.Unix())
		if input.By != "" {
			p.CalledBy = models.StringPtr(input.By)
		}
		switch {
		case input.Room != "":
			p.Room = models.StringPtr(input.Room)
		case p.Room == nil:
			if room, ok := rooms[normalizeName(firstNonEmpty(input.By, p.Doctor))]; ok && room != "" {
				p.Room = models.StringPtr(room)
			} else if room, ok := rooms[normalizeName(p.Doctor)]; ok && room != "" {
				p.Room = models.StringPtr(room)
			}
		}
		called = models.ClonePatients(patients[idx : idx+1])[0]
		return patients, nil
	})
	if err != nil {
		return models.Patient{}, err
	}

	notification := models.CallNotification{
		ID:           q.newID(),
		PatientID:    called.ID,
		PatientName:  called.Name,
		DoctorName:   firstNonEmpty(input.By, called.Doctor),
		Service:      called.Service,
		OtherService: called.OtherService,
		Recall:       action == ActionRecall,
		Timestamp:    now.UTC(),
	}
	if called.Room != nil {
		notification.Room = *called.Room
	}
	if err = q.appendHistory(ctx, notification); err != nil {
		if undoErr := q.undoCall(ctx, previous, called); undoErr != nil {
			q.logger.Error("call recorded but history append failed", zap.String("patient_id", called.ID), zap.Error(err), zap.NamedError("undo_error", undoErr))
		} else {
			q.logger.Warn("history append failed, call reverted", zap.String("patient_id", called.ID), zap.Error(err))
		}
		return models.Patient{}, err
	}
	q.logger.Info("patient called", zap.String("action", action), zap.String("patient_id", called.ID), zap.Int("calls", called.Calls))
	return called, nil
}

// undoCall restores the call fields of previous, unless the record moved on
// since called was written.
func (q *Queue) undoCall(ctx context.Context, previous, called models.Patient) error {
	return q.Mutate(ctx, func(patients []models.Patient) ([]models.Patient, error) {
		idx := indexOf(patients, previous.ID)
		if idx < 0 {
			return patients, nil
		}
		p := &patients[idx]
		if p.Status != called.Status || p.Calls != called.Calls || p.LastCalledAt() != called.LastCalledAt() {
			return patients, nil
		}
		p.Status = previous.Status
		p.Calls = previous.Calls
		p.LastCalled = previous.LastCalled
		p.CalledBy = previous.CalledBy
		p.Room = previous.Room
		return patients, nil
	})
}

func (q *Queue) FinishPatient(ctx context.Context, id string) (models.Patient, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Patient{}, fmt.Errorf("%w: id is required", ErrValidation)
	}
	ctx, span := q.tracer.Start(ctx, "queue.finish", trace.WithAttributes(attribute.String("patient_id", id)))
	now := q.now().Unix()
	var finished models.Patient
	err := q.Mutate(ctx, func(patients []models.Patient) ([]models.Patient, error) {
		idx := indexOf(patients, id)
		if idx < 0 {
			return nil, ErrPatientNotFound
		}
		p := &patients[idx]
		if !ValidTransition(ActionFinish, p.Status) {
			return nil, fmt.Errorf("%w: cannot finish a %s patient", ErrInvalidState, p.Status)
		}
		p.Status = models.StatusDone
		p.FinishedAt = models.Int64Ptr(now)
		finished = models.ClonePatients(patients[idx : idx+1])[0]
		return patients, nil
	})
	endSpan(span, err)
	if err != nil {
		return models.Patient{}, err
	}
	return finished, nil
}

func (q *Queue) RemovePatient(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrValidation)
	}
	ctx, span := q.tracer.Start(ctx, "queue.remove", trace.WithAttributes(attribute.String("patient_id", id)))
	err := q.Mutate(ctx, func(patients []models.Patient) ([]models.Patient, error) {
		idx := indexOf(patients, id)
		if idx < 0 {
			return nil, ErrPatientNotFound
		}
		return append(patients[:idx], patients[idx+1:]...), nil
	})
	endSpan(span, err)
	return err
}

// ClearQueue drops waiting patients and keeps called and done records as history.
func (q *Queue) ClearQueue(ctx context.Context) (int, error) {
	ctx, span := q.tracer.Start(ctx, "queue.clear")
	removed := 0
	err := q.Mutate(ctx, func(patients []models.Patient) ([]models.Patient, error) {
		remaining := make([]models.Patient, 0, len(patients))
		for _, p := range patients {
			if p.Status == models.StatusWaiting {
				removed++
				continue
			}
			remaining = append(remaining, p)
		}
		return remaining, nil
	})
	endSpan(span, err)
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (q *Queue) History(ctx context.Context, filter HistoryFilter) ([]models.CallNotification, error) {
	calls, err := readJSON[[]models.CallNotification](ctx, q.backend, KeyCallHistory)
	if err != nil {
		return nil, err
	}
	hidden := map[string]struct{}{}
	if strings.TrimSpace(filter.Viewer) != "" {
		ids, err := readJSON[[]string](ctx, q.backend, HiddenHistoryKey(filter.Viewer))
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			hidden[id] = struct{}{}
		}
	}
	doctor := normalizeName(filter.Doctor)
	out := make([]models.CallNotification, 0, len(calls))
	for _, call := range calls {
		if _, ok := hidden[call.ID]; ok {
			continue
		}
		if doctor != "" && normalizeName(call.DoctorName) != doctor {
			continue
		}
		out = append(out, call)
	}
	return out, nil
}

func (q *Queue) ResetHistory(ctx context.Context) error {
	return q.backend.Write(ctx, KeyCallHistory, []byte("[]"))
}

// HideHistory hides the current history entries (optionally one doctor's) for
// a single viewer. Other viewers keep seeing them.
func (q *Queue) HideHistory(ctx context.Context, viewer, doctor string) (int, error) {
	if strings.TrimSpace(viewer) == "" {
		return 0, fmt.Errorf("%w: viewer is required", ErrValidation)
	}
	calls, err := q.History(ctx, HistoryFilter{Doctor: doctor})
	if err != nil {
		return 0, err
	}
	added := 0
	err = mutateJSON(ctx, q.backend, HiddenHistoryKey(viewer), func(ids []string) ([]string, error) {
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			seen[id] = struct{}{}
		}
		for _, call := range calls {
			if _, ok := seen[call.ID]; ok {
				continue
			}
			seen[call.ID] = struct{}{}
			ids = append(ids, call.ID)
			added++
		}
		return ids, nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (q *Queue) appendHistory(ctx context.Context, call models.CallNotification) error {
	return mutateJSON(ctx, q.backend, KeyCallHistory, func(calls []models.CallNotification) ([]models.CallNotification, error) {
		calls = append([]models.CallNotification{call}, calls...)
		if len(calls) > q.maxHistory {
			calls = calls[:q.maxHistory]
		}
		return calls, nil
	})
}

func (q *Queue) Doctors(ctx context.Context) ([]models.Doctor, error) {
	dynamic, err := readJSON[[]models.Doctor](ctx, q.backend, KeyDoctors)
	if err != nil {
		return nil, err
	}
	out := make([]models.Doctor, 0, len(q.fixedDoctors)+len(dynamic))
	seen := make(map[string]struct{})
	for _, d := range q.fixedDoctors {
		seen[normalizeName(d.Name)] = struct{}{}
		out = append(out, d)
	}
	for _, d := range dynamic {
		if _, ok := seen[normalizeName(d.Name)]; ok {
			continue
		}
		d.Fixed = false
		out = append(out, d)
	}
	return out, nil
}

func (q *Queue) AddDoctor(ctx context.Context, name, room string) (models.Doctor, error) {
	doctor := models.Doctor{Name: strings.TrimSpace(name), Room: strings.TrimSpace(room)}
	if doctor.Name == "" {
		return models.Doctor{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if q.isFixedDoctor(doctor.Name) {
		return models.Doctor{}, fmt.Errorf("%w: doctor %q already exists", ErrValidation, doctor.Name)
	}
	err := mutateJSON(ctx, q.backend, KeyDoctors, func(doctors []models.Doctor) ([]models.Doctor, error) {
		for i := range doctors {
			if normalizeName(doctors[i].Name) == normalizeName(doctor.Name) {
				doctors[i].Room = doctor.Room
				return doctors, nil
			}
		}
		return append(doctors, doctor), nil
	})
	if err != nil {
		return models.Doctor{}, err
	}
	return doctor, nil
}

func (q *Queue) RemoveDoctor(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if q.isFixedDoctor(name) {
		return ErrFixedDoctor
	}
	return mutateJSON(ctx, q.backend, KeyDoctors, func(doctors []models.Doctor) ([]models.Doctor, error) {
		for i := range doctors {
			if normalizeName(doctors[i].Name) == normalizeName(name) {
				return append(doctors[:i], doctors[i+1:]...), nil
			}
		}
		return nil, ErrDoctorNotFound
	})
}

func (q *Queue) isFixedDoctor(name string) bool {
	for _, d := range q.fixedDoctors {
		if normalizeName(d.Name) == normalizeName(name) {
			return true
		}
	}
	return false
}

func (q *Queue) doctorRooms(ctx context.Context) (map[string]string, error) {
	doctors, err := q.Doctors(ctx)
	if err != nil {
		return nil, err
	}
	rooms := make(map[string]string, len(doctors))
	for _, d := range doctors {
		rooms[normalizeName(d.Name)] = d.Room
	}
	return rooms, nil
}

func readJSON[T any](ctx context.Context, backend Backend, key string) (T, error) {
	var value T
	raw, err := backend.Read(ctx, key)
	if err != nil {
		return value, err
	}
	if len(raw) == 0 {
		return value, nil
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, fmt.Errorf("%w: decode %s: %v", ErrStorageUnavailable, key, err)
	}
	return value, nil
}

func mutateJSON[T any](ctx context.Context, backend Backend, key string, fn func(T) (T, error)) error {
	return backend.Mutate(ctx, key, func(current []byte) ([]byte, error) {
		var value T
		if len(current) > 0 {
			if err := json.Unmarshal(current, &value); err != nil {
				return nil, fmt.Errorf("%w: decode %s: %v", ErrStorageUnavailable, key, err)
			}
		}
		next, err := fn(value)
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	})
}

func indexOf(patients []models.Patient, id string) int {
	for i := range patients {
		if patients[i].ID == id {
			return i
		}
	}
	return -1
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
