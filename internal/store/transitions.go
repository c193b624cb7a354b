package store

import "qms/patient-queue/internal/models"

const (
	ActionCall   = "call"
	ActionRecall = "recall"
	ActionFinish = "finish"
)

var transitionMap = map[string][]string{
	ActionCall:   {models.StatusWaiting},
	ActionRecall: {models.StatusCalled},
	ActionFinish: {models.StatusWaiting, models.StatusCalled},
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}
