// Package ojerr implements the daemon's error taxonomy: Validation,
// NotFound, InvalidTransition, RunbookError, AdapterFailure, and Fatal.
// Each category is a distinct type so the Listener can map errors to IPC
// codes, and the CLI boundary can map them to exit codes, without string
// matching on error messages.
package ojerr

import "fmt"

// Category identifies which of the six taxonomy buckets an error
// belongs to.
type Category string

const (
	CategoryValidation        Category = "validation"
	CategoryNotFound          Category = "not_found"
	CategoryInvalidTransition Category = "invalid_transition"
	CategoryRunbookError      Category = "runbook_error"
	CategoryAdapterFailure    Category = "adapter_failure"
	CategoryFatal             Category = "fatal"
)

// Categorized is implemented by every error in this package.
type Categorized interface {
	error
	Category() Category
}

// ValidationError: request refers to an unknown entity, ambiguous prefix,
// or forbidden combination. No event is emitted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string     { return e.Msg }
func (e *ValidationError) Category() Category { return CategoryValidation }

func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError: the target of a read/write does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s not found", e.Kind)
	}
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}
func (e *NotFoundError) Category() Category { return CategoryNotFound }

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// InvalidTransitionError surfaces a remedy string alongside the failure,
// e.g. resuming a terminal job whose shell step lacks a definition.
type InvalidTransitionError struct {
	Msg    string
	Remedy string
}

func (e *InvalidTransitionError) Error() string {
	if e.Remedy == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s (%s)", e.Msg, e.Remedy)
}
func (e *InvalidTransitionError) Category() Category { return CategoryInvalidTransition }

func InvalidTransition(msg, remedy string) error {
	return &InvalidTransitionError{Msg: msg, Remedy: remedy}
}

// RunbookError is a parse or semantic failure. On startup the loader
// skips the offending runbook and logs this; on RunCommand it is refused.
type RunbookError struct {
	Path string
	Err  error
}

func (e *RunbookError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("runbook: %v", e.Err)
	}
	return fmt.Sprintf("runbook %s: %v", e.Path, e.Err)
}
func (e *RunbookError) Category() Category { return CategoryRunbookError }
func (e *RunbookError) Unwrap() error      { return e.Err }

func Runbook(path string, err error) error {
	return &RunbookError{Path: path, Err: err}
}

// AdapterFailureError wraps an external process/IPC/filesystem failure.
// It is always convertible to a follow-on event by the caller and must
// never cause a panic.
type AdapterFailureError struct {
	Adapter string
	Err     error
}

func (e *AdapterFailureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Adapter, e.Err)
}
func (e *AdapterFailureError) Category() Category { return CategoryAdapterFailure }
func (e *AdapterFailureError) Unwrap() error       { return e.Err }

func AdapterFailure(adapter string, err error) error {
	return &AdapterFailureError{Adapter: adapter, Err: err}
}

// FatalError marks an unrecoverable condition (WAL write failure): log,
// stop accepting requests, exit.
type FatalError struct {
	Msg string
	Err error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}
func (e *FatalError) Category() Category { return CategoryFatal }
func (e *FatalError) Unwrap() error      { return e.Err }

func Fatal(msg string, err error) error {
	return &FatalError{Msg: msg, Err: err}
}

// CategoryOf extracts the Category of err, or "" if err does not
// implement Categorized.
func CategoryOf(err error) Category {
	var c Categorized
	if asCategorized(err, &c) {
		return c.Category()
	}
	return ""
}

func asCategorized(err error, target *Categorized) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if c, ok := err.(Categorized); ok {
			*target = c
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// ExitCode maps a Category to the CLI's documented exit codes.
func ExitCode(err error) int {
	switch CategoryOf(err) {
	case "":
		if err == nil {
			return 0
		}
		return 1
	case CategoryNotFound:
		return 3
	case CategoryValidation, CategoryInvalidTransition, CategoryRunbookError, CategoryAdapterFailure, CategoryFatal:
		return 1
	default:
		return 1
	}
}
