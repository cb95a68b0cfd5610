package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrRenditionNotFound is returned when a rendition is not found.
	ErrRenditionNotFound = errors.New("rendition not found")
)
