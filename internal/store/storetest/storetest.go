// Package storetest holds the behaviour every store.Backend must share.
// Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"qms/patient-queue/internal/models"
	"qms/patient-queue/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty backend. Cleanup is registered on t.
type Factory func(t *testing.T) store.Backend

func Run(t *testing.T, newBackend Factory) {
	t.Run("ReadMissingKey", func(t *testing.T) { testReadMissingKey(t, newBackend(t)) })
	t.Run("WriteThenRead", func(t *testing.T) { testWriteThenRead(t, newBackend(t)) })
	t.Run("VersionChangesOnWrite", func(t *testing.T) { testVersionChanges(t, newBackend(t)) })
	t.Run("MutateErrorLeavesValue", func(t *testing.T) { testMutateError(t, newBackend(t)) })
	t.Run("ConcurrentCreates", func(t *testing.T) { testConcurrentCreates(t, newBackend(t)) })
	t.Run("PatientLifecycle", func(t *testing.T) { testPatientLifecycle(t, newBackend(t)) })
	t.Run("ClearKeepsCalled", func(t *testing.T) { testClearKeepsCalled(t, newBackend(t)) })
	t.Run("Watch", func(t *testing.T) { testWatch(t, newBackend(t)) })
}

func testReadMissingKey(t *testing.T, backend store.Backend) {
	value, err := backend.Read(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	q := store.NewQueue(backend, store.Options{})
	patients, err := q.ReadQueue(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, patients)
	assert.Empty(t, patients)
}

func testWriteThenRead(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	require.NoError(t, backend.Write(ctx, "k", []byte(`{"a":1}`)))
	value, err := backend.Read(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value))

	require.NoError(t, backend.Write(ctx, "k", []byte(`{"a":2}`)))
	value, err = backend.Read(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2}`, string(value))
}

func testVersionChanges(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	before, err := backend.Version(ctx, store.KeyPatients)
	require.NoError(t, err)

	require.NoError(t, backend.Write(ctx, store.KeyPatients, []byte(`[]`)))
	first, err := backend.Version(ctx, store.KeyPatients)
	require.NoError(t, err)
	assert.NotEqual(t, before, first)

	require.NoError(t, backend.Mutate(ctx, store.KeyPatients, func(current []byte) ([]byte, error) {
		return []byte(`[{"id":"x"}]`), nil
	}))
	second, err := backend.Version(ctx, store.KeyPatients)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func testMutateError(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	require.NoError(t, backend.Write(ctx, "k", []byte(`"kept"`)))

	boom := errors.New("boom")
	err := backend.Mutate(ctx, "k", func(current []byte) ([]byte, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	value, err := backend.Read(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `"kept"`, string(value))
}

func testConcurrentCreates(t *testing.T, backend store.Backend) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	q := store.NewQueue(backend, store.Options{})

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := q.CreatePatient(ctx, store.CreatePatientInput{
				Name:    fmt.Sprintf("patient-%d", i),
				Doctor:  "Jessica",
				Service: "Limpeza",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	patients, err := q.ReadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, patients, writers)
	names := make(map[string]bool, writers)
	for _, p := range patients {
		names[p.Name] = true
	}
	for i := 0; i < writers; i++ {
		assert.True(t, names[fmt.Sprintf("patient-%d", i)], "patient-%d missing", i)
	}
}

func testPatientLifecycle(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	q := store.NewQueue(backend, store.Options{
		FixedDoctors: []models.Doctor{{Name: "Jessica", Room: "01"}},
		Now:          func() time.Time { return now },
	})

	created, err := q.CreatePatient(ctx, store.CreatePatientInput{Name: "Ana", Doctor: "Jessica", Service: "Limpeza"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, created.Status)
	assert.Equal(t, now.Unix(), created.Timestamp)

	_, err = q.RecallPatient(ctx, store.CallInput{PatientID: created.ID})
	require.ErrorIs(t, err, store.ErrInvalidState)

	called, err := q.CallPatient(ctx, store.CallInput{PatientID: created.ID, By: "Jessica"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, called.Status)
	assert.Equal(t, 1, called.Calls)
	require.NotNil(t, called.Room)
	assert.Equal(t, "01", *called.Room)

	_, err = q.CallPatient(ctx, store.CallInput{PatientID: created.ID})
	require.ErrorIs(t, err, store.ErrInvalidState)

	recalled, err := q.RecallPatient(ctx, store.CallInput{PatientID: created.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, recalled.Calls)

	history, err := q.History(ctx, store.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Recall)
	assert.False(t, history[1].Recall)
	assert.Equal(t, "Ana", history[0].PatientName)

	finished, err := q.FinishPatient(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, finished.Status)
	require.NotNil(t, finished.FinishedAt)

	_, err = q.FinishPatient(ctx, created.ID)
	require.ErrorIs(t, err, store.ErrInvalidState)

	require.NoError(t, q.RemovePatient(ctx, created.ID))
	require.ErrorIs(t, q.RemovePatient(ctx, created.ID), store.ErrPatientNotFound)
}

func testClearKeepsCalled(t *testing.T, backend store.Backend) {
	ctx := context.Background()
	q := store.NewQueue(backend, store.Options{})
	first, err := q.CreatePatient(ctx, store.CreatePatientInput{Name: "Ana", Doctor: "Dani", Service: "Canal"})
	require.NoError(t, err)
	_, err = q.CreatePatient(ctx, store.CreatePatientInput{Name: "Bruno", Doctor: "Dani", Service: "Canal"})
	require.NoError(t, err)
	_, err = q.CallPatient(ctx, store.CallInput{PatientID: first.ID})
	require.NoError(t, err)

	removed, err := q.ClearQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	patients, err := q.ReadQueue(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.Equal(t, first.ID, patients[0].ID)
}

func testWatch(t *testing.T, backend store.Backend) {
	watcher, ok := backend.(store.Watcher)
	if !ok {
		t.Skip("backend does not push change signals")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	signals, err := watcher.Watch(ctx, store.KeyPatients)
	require.NoError(t, err)

	// Subscriptions on remote backends become active asynchronously, so
	// keep writing until one signal arrives.
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		require.NoError(t, backend.Write(ctx, store.KeyPatients, []byte(`[]`)))
		select {
		case _, ok := <-signals:
			require.True(t, ok)
			return
		case <-ticker.C:
		case <-ctx.Done():
			t.Fatal("no change signal received")
		}
	}
}
