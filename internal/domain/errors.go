package domain

import "errors"

// Error kinds. Service packages wrap these in their own sentinels
// (e.g. campaign.ErrNotFound) so the HTTP layer can map any of them to a
// status without importing every service.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalid      = errors.New("invalid request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)
