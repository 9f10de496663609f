package client

import (
	"errors"

	vaulterrors "github.com/memoryvault/client/internal/errors"
	"github.com/memoryvault/client/internal/shardqueue"
)

// Error types, matched with errors.As.
type (
	AuthError       = vaulterrors.AuthError
	UploadError     = vaulterrors.UploadError
	NotFoundError   = vaulterrors.NotFoundError
	DeleteError     = vaulterrors.DeleteError
	NetworkError    = vaulterrors.NetworkError
	ClassifiedError = vaulterrors.ClassifiedError
)

// Sentinels, matched with errors.Is.
var (
	ErrAuth     = vaulterrors.ErrAuth
	ErrUpload   = vaulterrors.ErrUpload
	ErrNotFound = vaulterrors.ErrNotFound
	ErrDelete   = vaulterrors.ErrDelete
	ErrNetwork  = vaulterrors.ErrNetwork

	// ErrBackPressure is returned when a favorite change cannot be queued
	// because the sync queue for that memory is full.
	ErrBackPressure = shardqueue.ErrQueueFull
)

// ErrorMessage returns the user-facing text of err.
func ErrorMessage(err error) string { return vaulterrors.Message(err) }

// IsBackPressure reports whether err is a back-pressure error.
func IsBackPressure(err error) bool { return errors.Is(err, ErrBackPressure) }
