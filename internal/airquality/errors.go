package airquality

import (
	"errors"
	"fmt"
)

// ErrNoObservations is returned when the history holds no rows at all.
var ErrNoObservations = errors.New("no observations loaded")

// ConfigError reports malformed or dimensionally inconsistent pipeline inputs:
// scaler parameters, feature vectors, or concentrations. It is not recoverable
// by the pipeline and must be surfaced to the operator.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("config error: %s: %v", msg, e.Err)
	}
	return "config error: " + msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// ModelLoadError reports a model artifact that is missing, unreadable or
// incompatible with the expected input/output shape.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsModelLoadError reports whether err is or wraps a *ModelLoadError.
func IsModelLoadError(err error) bool {
	var me *ModelLoadError
	return errors.As(err, &me)
}
