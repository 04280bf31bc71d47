package rbd

import (
	"errors"
	"fmt"
)

// Sentinel errors reported by backend implementations.
// Use errors.Is() to check for these rather than string matching.
var (
	// ErrImageNotFound indicates the requested image does not exist
	ErrImageNotFound = errors.New("image not found")

	// ErrImageExists indicates the image already exists
	ErrImageExists = errors.New("image already exists")

	// ErrSnapshotNotFound indicates the requested snapshot does not exist
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrImageHasSnapshots indicates an image cannot be removed while
	// snapshots of it exist
	ErrImageHasSnapshots = errors.New("image has snapshots")

	// ErrSnapshotProtected indicates a snapshot cannot be removed while
	// it is protected
	ErrSnapshotProtected = errors.New("snapshot is protected")

	// ErrSnapshotUnprotected indicates a snapshot is not protected where
	// protection is required (clone source) or expected (unprotect)
	ErrSnapshotUnprotected = errors.New("snapshot is not protected")

	// ErrSnapshotBusy indicates a snapshot cannot be unprotected while a
	// clone still depends on it
	ErrSnapshotBusy = errors.New("snapshot has dependent clones")

	// ErrNotSupported indicates the operation is unavailable on the
	// connected backend or transport
	ErrNotSupported = errors.New("operation not supported")
)

// BackendUnavailableError indicates the cluster could not be reached or the
// pool could not be opened.
type BackendUnavailableError struct {
	Reason string
	Err    error
}

// Error implements the error interface
func (e *BackendUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend unavailable: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("backend unavailable: %s", e.Reason)
}

// Unwrap returns the underlying backend error
func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// ImageOpenError indicates an image could not be opened.
type ImageOpenError struct {
	Image string
	Err   error
}

// Error implements the error interface
func (e *ImageOpenError) Error() string {
	return fmt.Sprintf("error opening image %s: %v", e.Image, e.Err)
}

// Unwrap returns the underlying backend error
func (e *ImageOpenError) Unwrap() error {
	return e.Err
}
