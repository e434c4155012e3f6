package logger

import "time"

// Field keys shared by flowkit log lines.
const (
	FieldService   = "service"
	FieldComponent = "component"
	FieldTraceID   = "trace_id"
	FieldGraph     = "graph"
	FieldStage     = "stage"
	FieldState     = "state"
	FieldOperation = "operation"
	FieldStatus    = "status"
	FieldError     = "error"
	FieldDuration  = "duration_ms"
)

// Fields pairs up alternating keys and values. Non-string keys and a
// trailing odd value are dropped.
//
//	logger.Info("done", logger.Fields("stage", "split", "items", 42))
func Fields(kvs ...any) map[string]any {
	m := make(map[string]any, len(kvs)/2)
	for i := 0; i+1 < len(kvs); i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// StageFields is Fields with the stage key already set.
func StageFields(stage string, kvs ...any) map[string]any {
	m := Fields(kvs...)
	m[FieldStage] = stage
	return m
}

// WithError sets the error key on fields, allocating when nil.
func WithError(fields map[string]any, err error) map[string]any {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	if err != nil {
		fields[FieldError] = err.Error()
	}
	return fields
}

// OpError describes a failed operation.
func OpError(op string, err error) map[string]any {
	return WithError(map[string]any{FieldOperation: op}, err)
}

// OpDuration describes a timed operation in milliseconds.
func OpDuration(op string, d time.Duration) map[string]any {
	return map[string]any{FieldOperation: op, FieldDuration: d.Milliseconds()}
}
