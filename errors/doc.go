// Package errors provides the structured error type shared by flowkit packages.
//
// Every error the dataflow engine surfaces is an *AppError carrying a
// machine-readable code, so callers can tell a per-item transform failure
// (contained, possibly retryable) from a graph configuration error (fatal)
// or a double resolution of a completion handle (a programming defect).
// HTTP status mapping is kept for the demo service surface.
package errors
