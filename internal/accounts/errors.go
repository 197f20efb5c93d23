package accounts

import "errors"

// Sentinel errors for the account store. Callers match with errors.Is;
// the control plane maps them to HTTP status codes.
var (
	// ErrAccountNotFound is returned when a profile name is unknown.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when a write would clobber an
	// existing entry without the caller asking for overwrite.
	ErrAccountExists = errors.New("account entry already exists")

	// ErrNoCredentials is returned when the active directory has no
	// primary credentials file to save, or a profile has none to use.
	ErrNoCredentials = errors.New("no credentials found")

	// ErrInvalidName is returned for names that are empty or not
	// filesystem-safe.
	ErrInvalidName = errors.New("invalid account name")
)
