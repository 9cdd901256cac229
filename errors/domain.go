package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrProviderNotFound = stderrors.New("provider not found")
	ErrModelNotFound    = stderrors.New("model not found")
	ErrToolNotFound     = stderrors.New("tool not found")
	ErrToolExecution    = stderrors.New("tool execution failed")
	ErrToolLoopExceeded = stderrors.New("tool loop exceeded")
	ErrNotTestMode      = stderrors.New("Cannot run cleanup method if not in test mode")
)

// Kind names what a NotFoundError failed to find.
type Kind string

const (
	KindProvider Kind = "provider"
	KindModel    Kind = "model"
	KindTool     Kind = "tool"
)

// NotFoundError is returned by the registries when a lookup misses. It is a
// configuration error and is never retried.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	switch e.Kind {
	case KindTool:
		return fmt.Sprintf("The tool you are requesting cannot be found: %s", e.ID)
	default:
		return fmt.Sprintf("The %s you are searching for cannot be found: %s", e.Kind, e.ID)
	}
}

func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrProviderNotFound:
		return e.Kind == KindProvider
	case ErrModelNotFound:
		return e.Kind == KindModel
	case ErrToolNotFound:
		return e.Kind == KindTool
	}
	return false
}

func ProviderNotFound(id string) error { return &NotFoundError{Kind: KindProvider, ID: id} }
func ModelNotFound(id string) error    { return &NotFoundError{Kind: KindModel, ID: id} }
func ToolNotFound(name string) error   { return &NotFoundError{Kind: KindTool, ID: name} }

// ToolExecutionError is a tool failure that aborts the turn, such as a
// panic. Ordinary errors returned by a tool are reported to the model.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

func (e *ToolExecutionError) Is(target error) bool { return target == ErrToolExecution }

// ToolLoopError is returned when the model keeps requesting tools past the
// configured iteration limit.
type ToolLoopError struct {
	Limit int
}

func (e *ToolLoopError) Error() string {
	return fmt.Sprintf("tool loop exceeded %d iterations without a final answer", e.Limit)
}

func (e *ToolLoopError) Is(target error) bool { return target == ErrToolLoopExceeded }
