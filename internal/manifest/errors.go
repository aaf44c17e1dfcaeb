package manifest

import "fmt"

// ValidationError reports a manifest field that violates an invariant.
// Parse joins every violation it finds with errors.Join, so callers should
// use errors.As to detect the class.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest: %s: %s", e.Field, e.Msg)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}
