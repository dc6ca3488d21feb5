// Package logging provides structured JSON logging with size-based
// file rotation. Every record carries an event name plus typed
// attributes so the log stream is machine-filterable; records are
// mirrored to stderr for journald capture when configured.
package logging
