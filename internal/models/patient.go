package models

import (
	"encoding/json"
	"strings"
)

type Patient struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Doctor       string  `json:"doctor"`
	Service      string  `json:"service"`
	OtherService string  `json:"other_service,omitempty"`
	Urgency      bool    `json:"urgency"`
	Status       string  `json:"status"`
	Timestamp    int64   `json:"timestamp"`
	Calls        int     `json:"calls"`
	LastCalled   *int64  `json:"last_called"`
	Room         *string `json:"room"`
	CalledBy     *string `json:"called_by"`
	FinishedAt   *int64  `json:"finished_at"`
}

const (
	StatusWaiting = "waiting"
	StatusCalled  = "called"
	StatusDone    = "done"
)

// ServiceOther is the service label whose free-text detail replaces it on display.
const ServiceOther = "Outro"

// DisplayService returns the detail for "Outro" entries and the label otherwise.
func (p Patient) DisplayService() string {
	if strings.EqualFold(p.Service, ServiceOther) && strings.TrimSpace(p.OtherService) != "" {
		return p.OtherService
	}
	return p.Service
}

// LastCalledAt returns last_called or zero when the patient was never called.
func (p Patient) LastCalledAt() int64 {
	if p.LastCalled == nil {
		return 0
	}
	return *p.LastCalled
}

type patientAlias Patient

type patientWire struct {
	patientAlias
	Urgente     *bool   `json:"urgente,omitempty"`
	Consultorio *string `json:"consultorio,omitempty"`
}

// UnmarshalJSON accepts the legacy "urgente" and "consultorio" spellings.
func (p *Patient) UnmarshalJSON(data []byte) error {
	var wire patientWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*p = Patient(wire.patientAlias)
	if wire.Urgente != nil && !p.Urgency {
		p.Urgency = *wire.Urgente
	}
	if p.Room == nil && wire.Consultorio != nil {
		room := *wire.Consultorio
		p.Room = &room
	}
	return nil
}

// ClonePatients copies the slice and every pointer field so callers can mutate freely.
func ClonePatients(in []Patient) []Patient {
	if in == nil {
		return nil
	}
	out := make([]Patient, len(in))
	for i, p := range in {
		out[i] = p
		out[i].LastCalled = cloneInt64(p.LastCalled)
		out[i].FinishedAt = cloneInt64(p.FinishedAt)
		out[i].Room = cloneString(p.Room)
		out[i].CalledBy = cloneString(p.CalledBy)
	}
	return out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func Int64Ptr(v int64) *int64 {
	return &v
}

func StringPtr(v string) *string {
	return &v
}
