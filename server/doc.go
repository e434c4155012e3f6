// Package server provides the HTTP server of flowkit services: a Gin engine
// behind h2c so HTTP/1.1 and cleartext HTTP/2 clients share one port, with
// recovery, request id, body size and request logging middleware plus the
// health and version endpoints.
package server
