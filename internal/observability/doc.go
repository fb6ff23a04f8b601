// Package observability provides structured logging for the dashboard
// backend.
//
// Loggers are zap-based. WithRequest derives a logger carrying the chi
// request ID so that every line written while serving a request can be
// correlated.
package observability
