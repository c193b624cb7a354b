package store

import "errors"

var (
	ErrValidation         = errors.New("validation failed")
	ErrPatientNotFound    = errors.New("patient not found")
	ErrInvalidState       = errors.New("invalid patient state")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrDoctorNotFound     = errors.New("doctor not found")
	ErrFixedDoctor        = errors.New("fixed doctor cannot be removed")
)
