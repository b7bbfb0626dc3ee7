package historian

import (
	"errors"
)

// Validation and authorization errors surface to callers synchronously.
// Background flush failures are logged only and never reach writers.
var (
	ErrTagAlreadyExists  = errors.New("tag already exists")
	ErrTagNotFound       = errors.New("tag not found")
	ErrStateSetNotFound  = errors.New("state set not found")
	ErrStateSetInUse     = errors.New("state set is referenced by existing tags")
	ErrUnknownState      = errors.New("unknown state")
	ErrInvalidSettings   = errors.New("invalid settings")
	ErrAccessDenied      = errors.New("access denied")
	ErrNotInitialized    = errors.New("historian is not initialized")
	ErrNoValuesSpecified = errors.New("no values specified")
)
