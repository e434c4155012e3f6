// Package validation checks configuration and request values.
//
// Struct validation uses go-playground/validator tags; Checks covers ad-hoc
// request values. Both report *errors.AppError with a
// per-field breakdown under Details["fields"].
//
// Besides the stock tags, the "capacity" tag accepts any value >= 1 or the
// unbounded marker -1, matching stage queue configuration.
package validation
