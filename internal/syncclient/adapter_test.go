package syncclient

import (
	"testing"

	"qms/patient-queue/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewLog struct {
	views []View
}

func (l *viewLog) record(v View) { l.views = append(l.views, v) }

func (l *viewLog) last(t *testing.T) View {
	t.Helper()
	require.NotEmpty(t, l.views)
	return l.views[len(l.views)-1]
}

func called(id, doctor string, lastCalled int64) models.Patient {
	return models.Patient{
		ID:         id,
		Name:       id,
		Doctor:     doctor,
		Status:     models.StatusCalled,
		Calls:      1,
		LastCalled: models.Int64Ptr(lastCalled),
	}
}

func call(id, patientID string, recall bool) models.CallNotification {
	return models.CallNotification{ID: id, PatientID: patientID, Recall: recall}
}

func TestAdapterDeduplicatesBySeq(t *testing.T) {
	adapter := NewAdapter(Scope{Mode: ModeCalled}, AdapterOptions{})
	log := &viewLog{}
	defer adapter.Subscribe(log.record)()

	first := models.Snapshot{OK: true, Seq: 2, Patients: []models.Patient{called("ana", "Jessica", 10)}}
	adapter.Apply(first)
	adapter.Apply(models.Snapshot{OK: true, Seq: 2, Patients: nil})
	adapter.Apply(models.Snapshot{OK: true, Seq: 1, Patients: nil})

	require.Len(t, log.views, 3)
	for _, v := range log.views {
		assert.Equal(t, uint64(2), v.Seq)
		require.NotNil(t, v.Current)
		assert.Equal(t, "ana", v.Current.ID)
	}
}

func TestAdapterAcceptsLowerSeqAfterReconnect(t *testing.T) {
	adapter := NewAdapter(Scope{}, AdapterOptions{})
	adapter.Apply(models.Snapshot{OK: true, Seq: 40})
	adapter.SetStatus(StateOpen)
	adapter.Apply(models.Snapshot{OK: true, Seq: 1, Patients: []models.Patient{called("bia", "", 5)}})

	view := adapter.View()
	assert.Equal(t, uint64(1), view.Seq)
	require.NotNil(t, view.Current)
	assert.Equal(t, "bia", view.Current.ID)

	adapter.Apply(models.Snapshot{OK: true, Seq: 1})
	assert.NotNil(t, adapter.View().Current, "replayed seq after the resync is a duplicate")
}

func TestAdapterNewCallAndRecall(t *testing.T) {
	adapter := NewAdapter(Scope{Mode: ModeCalled}, AdapterOptions{})
	log := &viewLog{}
	defer adapter.Subscribe(log.record)()

	adapter.Apply(models.Snapshot{OK: true, Seq: 1})
	assert.False(t, log.last(t).IsNewCall)
	assert.Nil(t, log.last(t).Current)

	ana := called("ana", "Jessica", 100)
	adapter.Apply(models.Snapshot{OK: true, Seq: 2,
		Patients: []models.Patient{ana},
		Calls:    []models.CallNotification{call("c1", "ana", false)},
	})
	view := log.last(t)
	assert.True(t, view.IsNewCall)
	assert.False(t, view.Recall)

	adapter.Apply(models.Snapshot{OK: true, Seq: 3,
		Patients: []models.Patient{ana},
		Calls:    []models.CallNotification{call("c1", "ana", false)},
	})
	assert.False(t, log.last(t).IsNewCall, "same current patient is not a new call")

	ana.Calls = 2
	ana.LastCalled = models.Int64Ptr(130)
	adapter.Apply(models.Snapshot{OK: true, Seq: 4,
		Patients: []models.Patient{ana},
		Calls:    []models.CallNotification{call("c2", "ana", true), call("c1", "ana", false)},
	})
	view = log.last(t)
	assert.False(t, view.IsNewCall)
	assert.True(t, view.Recall)

	adapter.Apply(models.Snapshot{OK: true, Seq: 5,
		Patients: []models.Patient{ana},
		Calls:    []models.CallNotification{call("c2", "ana", true), call("c1", "ana", false)},
	})
	assert.False(t, log.last(t).Recall, "recall fires once")

	bruno := called("bruno", "Jessica", 200)
	adapter.Apply(models.Snapshot{OK: true, Seq: 6,
		Patients: []models.Patient{ana, bruno},
		Calls:    []models.CallNotification{call("c3", "bruno", false), call("c2", "ana", true)},
	})
	view = log.last(t)
	require.NotNil(t, view.Current)
	assert.Equal(t, "bruno", view.Current.ID)
	assert.True(t, view.IsNewCall)
	require.Len(t, view.Recent, 1)
	assert.Equal(t, "ana", view.Recent[0].ID)
}

func TestAdapterFinishDoesNotRepeatOlderCall(t *testing.T) {
	adapter := NewAdapter(Scope{Mode: ModeCalled}, AdapterOptions{})
	log := &viewLog{}
	defer adapter.Subscribe(log.record)()

	ana := called("ana", "Jessica", 100)
	adapter.Apply(models.Snapshot{OK: true, Seq: 1, Patients: []models.Patient{ana}})

	bia := called("bia", "Jessica", 200)
	adapter.Apply(models.Snapshot{OK: true, Seq: 2, Patients: []models.Patient{ana, bia}})
	view := log.last(t)
	require.NotNil(t, view.Current)
	assert.Equal(t, "bia", view.Current.ID)
	assert.True(t, view.IsNewCall)

	bia.Status = models.StatusDone
	bia.FinishedAt = models.Int64Ptr(250)
	adapter.Apply(models.Snapshot{OK: true, Seq: 3, Patients: []models.Patient{ana, bia}})
	view = log.last(t)
	require.NotNil(t, view.Current)
	assert.Equal(t, "ana", view.Current.ID)
	assert.False(t, view.IsNewCall)
	assert.False(t, view.Recall)

	ana.Calls = 2
	ana.LastCalled = models.Int64Ptr(300)
	adapter.Apply(models.Snapshot{OK: true, Seq: 4,
		Patients: []models.Patient{ana, bia},
		Calls:    []models.CallNotification{call("c9", "ana", true)},
	})
	view = log.last(t)
	assert.False(t, view.IsNewCall, "ana was already the head")
	assert.True(t, view.Recall)
}

func TestAdapterWaitingHeadChangesWithoutCallEvidence(t *testing.T) {
	adapter := NewAdapter(Scope{Mode: ModeWaiting}, AdapterOptions{})
	adapter.Apply(models.Snapshot{OK: true, Seq: 1, Patients: []models.Patient{
		{ID: "a", Status: models.StatusWaiting, Timestamp: 1},
	}})
	adapter.Apply(models.Snapshot{OK: true, Seq: 2, Patients: []models.Patient{
		{ID: "a", Status: models.StatusCalled, Timestamp: 1},
		{ID: "b", Status: models.StatusWaiting, Timestamp: 2},
	}})
	view := adapter.View()
	require.NotNil(t, view.Current)
	assert.Equal(t, "b", view.Current.ID)
	assert.True(t, view.IsNewCall)
}

func TestAdapterDoctorScope(t *testing.T) {
	adapter := NewAdapter(Scope{Doctor: "  jessica ", Mode: ModeWaiting}, AdapterOptions{})
	adapter.Apply(models.Snapshot{OK: true, Seq: 1, Patients: []models.Patient{
		{ID: "a", Doctor: "Dani", Status: models.StatusWaiting, Timestamp: 1},
		{ID: "b", Doctor: "Jessica", Status: models.StatusWaiting, Timestamp: 3},
		{ID: "c", Doctor: "JESSICA", Status: models.StatusWaiting, Timestamp: 2, Urgency: true},
		{ID: "d", Doctor: "Jessica", Status: models.StatusCalled, Timestamp: 0},
	}})

	view := adapter.View()
	assert.Equal(t, []string{"c", "b"}, ids(view.Ordered))
	require.NotNil(t, view.Current)
	assert.Equal(t, "c", view.Current.ID)
	assert.Len(t, view.Snapshot.Patients, 4)
}

func TestAdapterRecentLimit(t *testing.T) {
	adapter := NewAdapter(Scope{}, AdapterOptions{Recent: 2})
	adapter.Apply(models.Snapshot{OK: true, Seq: 1, Patients: []models.Patient{
		called("a", "", 1), called("b", "", 2), called("c", "", 3), called("d", "", 4),
	}})
	view := adapter.View()
	require.NotNil(t, view.Current)
	assert.Equal(t, "d", view.Current.ID)
	assert.Equal(t, []string{"c", "b"}, ids(view.Recent))
}

func TestAdapterUnsubscribe(t *testing.T) {
	adapter := NewAdapter(Scope{}, AdapterOptions{})
	log := &viewLog{}
	unsubscribe := adapter.Subscribe(log.record)
	adapter.Apply(models.Snapshot{OK: true, Seq: 1})
	unsubscribe()
	unsubscribe()
	adapter.Apply(models.Snapshot{OK: true, Seq: 2})
	assert.Len(t, log.views, 1)
}

func TestAdapterStatusRefresh(t *testing.T) {
	adapter := NewAdapter(Scope{}, AdapterOptions{})
	log := &viewLog{}
	defer adapter.Subscribe(log.record)()

	adapter.SetStatus(StatePolling)
	assert.Equal(t, StatePolling, log.last(t).Status)
	adapter.Apply(models.Snapshot{OK: true, Seq: 3})
	assert.Equal(t, StatePolling, log.last(t).Status)
}
