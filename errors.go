package tilereader

import (
	"errors"
	"fmt"

	"github.com/qri-io/tilereader/granule"
)

var (
	// ErrPayloadPresent is returned for input tiles that already carry data
	ErrPayloadPresent = errors.New("input tile already has a payload")
	// ErrNoSummary is returned for input tiles without a summary
	ErrNoSummary = errors.New("input tile has no summary")
)

// MissingVariableError reports a required variable absent from a granule
type MissingVariableError struct {
	Granule  string
	Variable string
	// Role is what the variable was configured as: variable, latitude or
	// longitude
	Role string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("granule %s has no %s variable %q", e.Granule, e.Role, e.Variable)
}

func (e *MissingVariableError) Unwrap() error { return granule.ErrNoVariable }

// DateFormatError reports a time that could not be decoded, either from a
// global day attribute or from time variable units
type DateFormatError struct {
	Attribute string
	Value     string
	Format    string
	Reason    string
	Err       error
}

func (e *DateFormatError) Error() string {
	msg := "decoding time"
	if e.Attribute != "" {
		msg += fmt.Sprintf(" from %q", e.Attribute)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" value %q", e.Value)
	}
	if e.Format != "" {
		msg += fmt.Sprintf(" with format %q", e.Format)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DateFormatError) Unwrap() error { return e.Err }

// ConfigError reports an invalid reader configuration
type ConfigError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("reader %q: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("reader %q: %s %s", e.Kind, e.Field, e.Reason)
}
