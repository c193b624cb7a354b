package store

import (
	"context"
	"strings"

	"qms/patient-queue/internal/models"
)

const (
	KeyPatients     = "patients"
	KeyCallHistory  = "call-history"
	KeyDoctors      = "doctors"
	hiddenKeyPrefix = "hidden-history:"
)

// HiddenHistoryKey returns the key holding history ids a viewer chose to hide.
func HiddenHistoryKey(viewer string) string {
	return hiddenKeyPrefix + strings.ToLower(strings.TrimSpace(viewer))
}

// MutateFunc receives the current raw value (nil when absent) and returns the
// replacement. Returning an error aborts the mutation without writing.
type MutateFunc func(current []byte) ([]byte, error)

// Backend is the persistence collaborator. Implementations hold a shared lock
// for Read, an exclusive lock for Write and Mutate, scoped to one key and held
// only for the duration of the I/O.
type Backend interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
	Mutate(ctx context.Context, key string, fn MutateFunc) error
	// Version returns an opaque modification marker that changes on every write.
	Version(ctx context.Context, key string) (string, error)
	Close() error
}

// Watcher is implemented by backends whose write path can signal changes.
// The channel is closed when ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string) (<-chan struct{}, error)
}

// QueueStore is the domain surface served over HTTP. *Queue implements it.
type QueueStore interface {
	ReadQueue(ctx context.Context) ([]models.Patient, error)
	CreatePatient(ctx context.Context, input CreatePatientInput) (models.Patient, error)
	CallPatient(ctx context.Context, input CallInput) (models.Patient, error)
	RecallPatient(ctx context.Context, input CallInput) (models.Patient, error)
	FinishPatient(ctx context.Context, id string) (models.Patient, error)
	RemovePatient(ctx context.Context, id string) error
	ClearQueue(ctx context.Context) (int, error)
	History(ctx context.Context, filter HistoryFilter) ([]models.CallNotification, error)
	ResetHistory(ctx context.Context) error
	HideHistory(ctx context.Context, viewer, doctor string) (int, error)
	Doctors(ctx context.Context) ([]models.Doctor, error)
	AddDoctor(ctx context.Context, name, room string) (models.Doctor, error)
	RemoveDoctor(ctx context.Context, name string) error
}

var _ QueueStore = (*Queue)(nil)
