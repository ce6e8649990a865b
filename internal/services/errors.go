package services

import "errors"

var (
	// ErrMissingCredentials is returned when email or password is empty.
	ErrMissingCredentials = errors.New("email and password required")

	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrForbidden is returned when the caller's role may not run the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrIncompleteRequest is returned when a required scan field or the image is missing.
	ErrIncompleteRequest = errors.New("all fields are required")

	// ErrInvalidPayload is returned for a non-image or oversize upload.
	ErrInvalidPayload = errors.New("invalid image payload")

	// ErrStorageUnavailable is returned when the object storage write fails.
	ErrStorageUnavailable = errors.New("image storage unavailable")

	// ErrPersistence is returned when the scan row cannot be written.
	ErrPersistence = errors.New("failed to save scan")

	// ErrScanNotFound is returned when a scan lookup misses.
	ErrScanNotFound = errors.New("scan not found")

	// ErrNotFoundOrForbidden is returned when a delete targets a scan that
	// does not exist or is not owned by the caller. The two cases are not
	// distinguished.
	ErrNotFoundOrForbidden = errors.New("scan not found or you do not have permission to delete it")
)
