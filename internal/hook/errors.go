package hook

import "errors"

// Errors for hook loading.
var (
	// ErrIncompatibleAPI is returned when a manifest's api constraint
	// rejects the running handler API version.
	ErrIncompatibleAPI = errors.New("incompatible hook api")

	// ErrInvalidManifest is returned for unreadable hooks.toml files.
	ErrInvalidManifest = errors.New("invalid hook manifest")

	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = errors.New("hook manager is closed")
)
