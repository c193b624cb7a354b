package models

import "time"

type CallNotification struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patient_id"`
	PatientName  string    `json:"patient_name"`
	DoctorName   string    `json:"doctor_name"`
	Room         string    `json:"room"`
	Service      string    `json:"service"`
	OtherService string    `json:"other_service,omitempty"`
	Recall       bool      `json:"recall"`
	Timestamp    time.Time `json:"timestamp"`
}

type Doctor struct {
	Name  string `json:"name"`
	Room  string `json:"room"`
	Fixed bool   `json:"fixed"`
}
