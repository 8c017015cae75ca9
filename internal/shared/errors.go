package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("no encontrado")
	// ErrInvalidInput indicates the request carried invalid data.
	ErrInvalidInput = errors.New("datos inválidos")
	// ErrInvalidState indicates the operation is not allowed in the current state.
	ErrInvalidState = errors.New("operación no permitida")
)

// DomainError carries a user facing message together with its kind.
type DomainError struct {
	Kind    error
	Message string
}

func (e *DomainError) Error() string { return e.Message }

// Unwrap exposes the kind to errors.Is.
func (e *DomainError) Unwrap() error { return e.Kind }

// NotFound builds a not found domain error.
func NotFound(msg string) error { return &DomainError{Kind: ErrNotFound, Message: msg} }

// InvalidInput builds a validation domain error.
func InvalidInput(msg string) error { return &DomainError{Kind: ErrInvalidInput, Message: msg} }

// InvalidState builds a state conflict domain error.
func InvalidState(msg string) error { return &DomainError{Kind: ErrInvalidState, Message: msg} }

// UserMessage returns the Spanish text of a domain error chain, or a generic
// message for infrastructure failures. Domain errors are only ever wrapped as
// "<message>: <detail>" so the full text is safe to show.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return err.Error()
	}
	return "error interno del servidor"
}

// IsDomain reports whether err carries one of the domain kinds.
func IsDomain(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidState)
}
