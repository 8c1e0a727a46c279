package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTable is returned for a table name missing from configuration
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownStation is returned when a station id is absent from metadata
	ErrUnknownStation = errors.New("unknown station")
	// ErrMissingCredentials means neither principal+secret nor a token was supplied
	ErrMissingCredentials = errors.New("missing archive credentials")
	// ErrNoLocations is returned when a resolve request has no query points
	ErrNoLocations = errors.New("locations are empty, nothing to download")
)

// ConfigurationError is a fatal, non-retryable problem with caller input or setup
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration error (%s): %s", e.Field, e.Message)
	}
	return "configuration error: " + e.Message
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsTransient returns false as configuration errors need operator action
func (e *ConfigurationError) IsTransient() bool {
	return false
}

// TransportError wraps a failed archive request after retries are exhausted,
// or a response with a status that is neither success nor an empty marker
type TransportError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("archive request %s failed with status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("archive request %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransient returns true: a later run may succeed once the archive recovers
func (e *TransportError) IsTransient() bool {
	return true
}

// FormatError is returned when archive content lacks the data marker line
type FormatError struct {
	URL     string
	Message string
}

func (e *FormatError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("malformed archive file %s: %s", e.URL, e.Message)
	}
	return "malformed archive file: " + e.Message
}

// IsTransient returns false as malformed archive content is not self-healing
func (e *FormatError) IsTransient() bool {
	return false
}

// MetadataUnavailableError means the archive returned no metadata for a table
type MetadataUnavailableError struct {
	Table string
	URL   string
}

func (e *MetadataUnavailableError) Error() string {
	return fmt.Sprintf("could not download station metadata for table %q (%s)", e.Table, e.URL)
}

// IsTransient returns false; the table is skipped for the run
func (e *MetadataUnavailableError) IsTransient() bool {
	return false
}

// UnknownTable builds the ConfigurationError for an unconfigured table name
func UnknownTable(table string) error {
	return &ConfigurationError{
		Field:   "table",
		Message: fmt.Sprintf("unknown table %q", table),
		Err:     ErrUnknownTable,
	}
}
