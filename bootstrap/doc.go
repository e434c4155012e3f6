// Package bootstrap runs a service: it applies and validates the typed
// config, initializes the logger, starts registered components in order,
// waits for a shutdown signal and stops the components in reverse.
package bootstrap
