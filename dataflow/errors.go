package dataflow

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/kbukum/flowkit/errors"
)

// Sentinel errors. AppError values match by code, so errors.Is works on
// the fresh instances the engine returns.
var (
	ErrDoubleResolution   = errors.New(errors.ErrCodeDoubleResolution, "completion handle already resolved", 500)
	ErrStageCompleted     = errors.New(errors.ErrCodeStageCompleted, "stage no longer accepts input", 503)
	ErrUnrouted           = errors.New(errors.ErrCodeUnrouted, "no link accepted the item", 500)
	ErrTransformFailure   = errors.New(errors.ErrCodeTransformFailure, "transform failed", 422)
	ErrGraphConfiguration = errors.New(errors.ErrCodeGraphConfiguration, "invalid graph", 500)
	ErrInvalidOperation   = errors.New(errors.ErrCodeInvalidOperation, "invalid operation", 409)
)

// Graph validation failure kinds.
var (
	ErrMissingHead      = stderrors.New("missing head stage")
	ErrCycle            = stderrors.New("cycle detected")
	ErrDisconnected     = stderrors.New("stage not reachable from head")
	ErrNoCompletionPath = stderrors.New("no completion-propagating path")
	ErrInvalidTerminal  = stderrors.New("invalid terminal stage")
	ErrResultLinks      = stderrors.New("more than one result link")
	ErrDuplicateStage   = stderrors.New("duplicate stage id")
	ErrEmptyPipeline    = stderrors.New("pipeline has no steps")
)

// GraphError reports why a graph cannot be built. It matches both its Kind
// and ErrGraphConfiguration.
type GraphError struct {
	Graph string
	Kind  error
	Msg   string
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	prefix := "graph " + e.Graph + ": " + e.Kind.Error()
	if e.Msg == "" {
		return prefix
	}
	return prefix + ": " + e.Msg
}

func (e *GraphError) Unwrap() []error {
	return []error{e.Kind, errors.GraphConfiguration(e.Graph, e.Msg)}
}

func graphErrorf(graph string, kind error, format string, args ...any) error {
	return &GraphError{Graph: graph, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(graph string, stuck []string) error {
	return &GraphError{Graph: graph, Kind: ErrCycle, Msg: "unresolved stages: " + strings.Join(stuck, ", ")}
}

func isDoubleResolution(err error) bool {
	return stderrors.Is(err, ErrDoubleResolution)
}

func isStageCompleted(err error) bool {
	return stderrors.Is(err, ErrStageCompleted)
}
