package syncclient

import (
	"sort"

	"qms/patient-queue/internal/models"
)

// OrderWaiting puts urgent patients first and keeps arrival order within
// each group.
func OrderWaiting(patients []models.Patient) []models.Patient {
	out := models.ClonePatients(patients)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// OrderCalled puts urgent patients first and the most recently called first
// within each group.
func OrderCalled(patients []models.Patient) []models.Patient {
	out := models.ClonePatients(patients)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Urgency != out[j].Urgency {
			return out[i].Urgency
		}
		return out[i].LastCalledAt() > out[j].LastCalledAt()
	})
	return out
}

func byLastCalled(patients []models.Patient) []models.Patient {
	out := models.ClonePatients(patients)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastCalledAt() > out[j].LastCalledAt()
	})
	return out
}
