package syncclient

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"qms/patient-queue/internal/httpapi"
	"qms/patient-queue/internal/models"
	"qms/patient-queue/internal/store"
	"qms/patient-queue/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAPIServer(t *testing.T) *API {
	t.Helper()
	queue := store.NewQueue(memory.New(), store.Options{
		FixedDoctors: []models.Doctor{{Name: "Jessica", Room: "01", Fixed: true}},
	})
	srv := httptest.NewServer(httpapi.NewHandler(queue, httpapi.Options{}).Routes())
	t.Cleanup(srv.Close)
	return NewAPI(srv.URL, 0)
}

func TestAPIPatientLifecycle(t *testing.T) {
	ctx := context.Background()
	api := newAPIServer(t)

	created, err := api.CreatePatient(ctx, CreatePatientRequest{Name: "Ana", Doctor: "Jessica", Service: "Limpeza"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, created.Status)

	calledPatient, err := api.Call(ctx, created.ID, CallRequest{By: "Jessica"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCalled, calledPatient.Status)
	require.NotNil(t, calledPatient.Room)
	assert.Equal(t, "01", *calledPatient.Room)

	recalled, err := api.Recall(ctx, created.ID, CallRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, recalled.Calls)

	history, err := api.History(ctx, "", "jessica")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Recall)

	snapshot, err := api.Queue(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Patients, 1)

	finished, err := api.Finish(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, finished.Status)

	require.NoError(t, api.Remove(ctx, created.ID))
	snapshot, err = api.Queue(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Patients)
}

func TestAPIErrorsCarryCode(t *testing.T) {
	ctx := context.Background()
	api := newAPIServer(t)

	_, err := api.Finish(ctx, "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, "patient_not_found", apiErr.Code)

	_, err = api.CreatePatient(ctx, CreatePatientRequest{Name: "Ana"})
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "invalid_request", apiErr.Code)
}

func TestAPIClearAndHide(t *testing.T) {
	ctx := context.Background()
	api := newAPIServer(t)

	first, err := api.CreatePatient(ctx, CreatePatientRequest{Name: "Ana", Doctor: "Jessica", Service: "Canal"})
	require.NoError(t, err)
	_, err = api.CreatePatient(ctx, CreatePatientRequest{Name: "Bruno", Doctor: "Jessica", Service: "Canal"})
	require.NoError(t, err)
	_, err = api.Call(ctx, first.ID, CallRequest{})
	require.NoError(t, err)

	removed, err := api.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	hidden, err := api.HideHistory(ctx, "Jessica", "")
	require.NoError(t, err)
	assert.Equal(t, 1, hidden)

	history, err := api.History(ctx, "jessica", "")
	require.NoError(t, err)
	assert.Empty(t, history)
	history, err = api.History(ctx, "reception", "")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	doctors, err := api.Doctors(ctx)
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	assert.True(t, doctors[0].Fixed)
}

func TestAPITransportFailure(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	_, err := NewAPI(url, 0).Queue(context.Background())
	assert.True(t, errors.Is(err, ErrTransport), "got %v", err)
}
