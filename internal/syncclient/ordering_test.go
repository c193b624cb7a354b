package syncclient

import (
	"testing"

	"qms/patient-queue/internal/models"

	"github.com/stretchr/testify/assert"
)

func ids(patients []models.Patient) []string {
	out := make([]string, 0, len(patients))
	for _, p := range patients {
		out = append(out, p.ID)
	}
	return out
}

func TestOrderWaitingUrgentFirstThenFIFO(t *testing.T) {
	in := []models.Patient{
		{ID: "normal-3", Timestamp: 3},
		{ID: "normal-2", Timestamp: 2},
		{ID: "urgent-1", Timestamp: 1, Urgency: true},
	}
	assert.Equal(t, []string{"urgent-1", "normal-2", "normal-3"}, ids(OrderWaiting(in)))
	assert.Equal(t, "normal-3", in[0].ID, "input must not be reordered")
}

func TestOrderWaitingLateUrgentJumpsAhead(t *testing.T) {
	in := []models.Patient{
		{ID: "a", Timestamp: 1},
		{ID: "b", Timestamp: 2},
		{ID: "c", Timestamp: 9, Urgency: true},
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids(OrderWaiting(in)))
}

func TestOrderWaitingIsStableOnTies(t *testing.T) {
	in := []models.Patient{
		{ID: "first", Timestamp: 5},
		{ID: "second", Timestamp: 5},
		{ID: "third", Timestamp: 5},
	}
	assert.Equal(t, []string{"first", "second", "third"}, ids(OrderWaiting(in)))
}

func TestOrderCalledMostRecentFirst(t *testing.T) {
	in := []models.Patient{
		{ID: "old", LastCalled: models.Int64Ptr(10)},
		{ID: "new", LastCalled: models.Int64Ptr(30)},
		{ID: "urgent-old", Urgency: true, LastCalled: models.Int64Ptr(5)},
		{ID: "mid", LastCalled: models.Int64Ptr(20)},
	}
	assert.Equal(t, []string{"urgent-old", "new", "mid", "old"}, ids(OrderCalled(in)))
}
