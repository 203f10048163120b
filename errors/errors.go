// Package errors defines all exported error sentinels for the sshash library.
//
// This is the single source of truth for error values. Both the top-level
// sshash package and internal packages import from here, ensuring errors.Is
// checks work across package boundaries.
package errors

import "errors"

// Build errors
var (
	ErrBadInput     = errors.New("sshash: bad build input")
	ErrFailToOutput = errors.New("sshash: failed to write output")
)

// Artifact errors
var (
	ErrInvalidMagic    = errors.New("sshash: invalid magic number")
	ErrTruncatedFile   = errors.New("sshash: artifact is truncated")
	ErrInvalidArtifact = errors.New("sshash: artifact layout is invalid")
	ErrClosed          = errors.New("sshash: hashtable is closed")
)
