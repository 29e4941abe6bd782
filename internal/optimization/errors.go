package optimization

import "fmt"

// Kind classifies an optimization error so callers can react to the failure
// class without parsing messages.
type Kind string

const (
	// KindUnknown is the zero kind for errors that were not classified.
	KindUnknown Kind = ""
	// KindTypeMismatch reports a constructor argument of an unsupported type.
	KindTypeMismatch Kind = "TypeMismatch"
	// KindModelNotTrained reports an acquisition request before any model fit.
	KindModelNotTrained Kind = "ModelNotTrained"
	// KindInvalidSpace reports a configuration space that cannot produce the
	// requested samples.
	KindInvalidSpace Kind = "InvalidSpace"
	// KindMaximizerNonconvergence reports a local search run that ran out of
	// budget before reaching a local optimum.
	KindMaximizerNonconvergence Kind = "MaximizerNonconvergence"
	// KindInvalidInput reports malformed observations or request arguments.
	KindInvalidInput Kind = "InvalidInput"
)

// Sentinel values for errors.Is. Any *Error with the same Kind matches.
var (
	ErrTypeMismatch            = &Error{Kind: KindTypeMismatch, Message: "type mismatch"}
	ErrModelNotTrained         = &Error{Kind: KindModelNotTrained, Message: "model not trained"}
	ErrInvalidSpace            = &Error{Kind: KindInvalidSpace, Message: "invalid configuration space"}
	ErrMaximizerNonconvergence = &Error{Kind: KindMaximizerNonconvergence, Message: "maximizer did not converge"}
	ErrInvalidInput            = &Error{Kind: KindInvalidInput, Message: "invalid input"}
)

// Error represents an optimization error with context
// that can be wrapped with additional information.
type Error struct {
	// Kind is the failure class.
	Kind Kind
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = e.Component + ": " + e.Op
	case e.Component != "":
		prefix = e.Component
	case e.Op != "":
		prefix = e.Op
	}

	msg := e.Message
	if e.Kind != KindUnknown {
		msg = fmt.Sprintf("%s (%s)", msg, e.Kind)
	}
	if prefix != "" {
		msg = prefix + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind. Errors of
// KindUnknown only match themselves.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	if e.Kind == KindUnknown {
		return e == t
	}
	return e.Kind == t.Kind
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithKind sets the failure class of the error.
func (e *Error) WithKind(kind Kind) *Error {
	e.Kind = kind
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewError creates a new optimization error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
	}
}

// NewErrorf creates a new optimization error with formatted message.
func NewErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with additional context. The kind of
// err is inherited when err is itself an *Error.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    KindOf(err),
		Message: message,
		Err:     err,
	}
}

// WrapErrorf wraps an existing error with additional formatted context.
// If err is nil, WrapErrorf returns nil.
func WrapErrorf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    KindOf(err),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// IsOptimizationError checks if an error is of type Error.
// If the error is an optimization error, it returns the error and true.
// Otherwise, it returns nil and false.
func IsOptimizationError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	return nil, false
}

// KindOf returns the first classified kind in err's chain.
func KindOf(err error) Kind {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind != KindUnknown {
			return e.Kind
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return KindUnknown
		}
		err = u.Unwrap()
	}
	return KindUnknown
}
