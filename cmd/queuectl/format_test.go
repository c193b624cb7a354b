package main

import (
	"testing"
	"time"

	"qms/patient-queue/internal/models"
	"qms/patient-queue/internal/syncclient"

	"github.com/stretchr/testify/assert"
)

func TestFormatPatient(t *testing.T) {
	room := "03"
	p := models.Patient{
		ID:           "p1",
		Name:         "Ana",
		Doctor:       "Dra. X",
		Service:      "Outro",
		OtherService: "Clareamento",
		Urgency:      true,
		Status:       models.StatusCalled,
		Calls:        2,
		Room:         &room,
	}
	assert.Equal(t, "p1 called  Ana (Dra. X, Clareamento) urgent room 03 calls=2", formatPatient(p))

	p = models.Patient{ID: "p2", Name: "Rui", Doctor: "Dr. Y", Service: "Limpeza", Status: models.StatusWaiting}
	assert.Equal(t, "p2 waiting Rui (Dr. Y, Limpeza)", formatPatient(p))
}

func TestFormatView(t *testing.T) {
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	view := syncclient.View{Seq: 4, Status: syncclient.StateOpen}
	assert.Equal(t, "09:30:00 seq=4 status=open current=none", formatView(view, now))

	view.Current = &models.Patient{ID: "p1", Name: "Ana", Doctor: "Dra. X", Service: "Limpeza", Status: models.StatusCalled, Calls: 1}
	view.IsNewCall = true
	assert.Equal(t, "09:30:00 seq=4 status=open current=p1 called  Ana (Dra. X, Limpeza) calls=1 [new call]", formatView(view, now))
}

func TestFilterStatus(t *testing.T) {
	patients := []models.Patient{
		{ID: "a", Status: models.StatusWaiting},
		{ID: "b", Status: models.StatusCalled},
		{ID: "c", Status: models.StatusWaiting},
	}
	waiting := filterStatus(patients, models.StatusWaiting)
	assert.Len(t, waiting, 2)
	assert.Equal(t, "c", waiting[1].ID)
	assert.Empty(t, filterStatus(patients, models.StatusDone))
}
