package main

import (
	"fmt"
	"strings"
	"time"

	"qms/patient-queue/internal/models"
	"qms/patient-queue/internal/syncclient"
)

func filterStatus(patients []models.Patient, status string) []models.Patient {
	var out []models.Patient
	for _, patient := range patients {
		if patient.Status == status {
			out = append(out, patient)
		}
	}
	return out
}

func formatPatient(p models.Patient) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-7s %s (%s, %s)", p.ID, p.Status, p.Name, p.Doctor, p.DisplayService())
	if p.Urgency {
		b.WriteString(" urgent")
	}
	if p.Room != nil && *p.Room != "" {
		fmt.Fprintf(&b, " room %s", *p.Room)
	}
	if p.Calls > 0 {
		fmt.Fprintf(&b, " calls=%d", p.Calls)
	}
	return b.String()
}

func formatCall(c models.CallNotification) string {
	kind := "call"
	if c.Recall {
		kind = "recall"
	}
	service := c.Service
	if strings.EqualFold(service, models.ServiceOther) && c.OtherService != "" {
		service = c.OtherService
	}
	return fmt.Sprintf("%s %-6s %s -> %s room %s (%s)",
		c.Timestamp.Local().Format("2006-01-02 15:04:05"), kind, c.PatientName, c.DoctorName, c.Room, service)
}

func formatView(view syncclient.View, now time.Time) string {
	line := fmt.Sprintf("%s seq=%d status=%s", now.Format("15:04:05"), view.Seq, view.Status)
	if view.Current == nil {
		line += " current=none"
	} else {
		line += " current=" + formatPatient(*view.Current)
	}
	if view.IsNewCall {
		line += " [new call]"
	}
	if view.Recall {
		line += " [recall]"
	}
	return line
}
