// Package server assembles the HTTP service: router, middleware stack,
// key manager and handler wiring, plus graceful startup/shutdown.
package server
