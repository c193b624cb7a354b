package models

// Snapshot is the envelope pushed on every change and returned by GET /queue.
type Snapshot struct {
	OK       bool               `json:"ok"`
	Seq      uint64             `json:"seq"`
	Patients []Patient          `json:"patients"`
	Calls    []CallNotification `json:"calls"`
}
