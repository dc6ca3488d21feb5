// Package service implements the query-side entry points: search,
// autocomplete, availability and the diagnostics probe. It owns
// parameter clamping, routing between the search backend and the
// relational fallback, result enrichment and the response envelope.
// Transports stay thin; every user-visible decision is made here.
package service

import "net/http"

// Error codes carried in the envelope's errorCode field.
const (
	CodeInvalidParameter   = "INVALID_PARAMETER"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeNotFound           = "NOT_FOUND"
)

// Envelope is the uniform wrapper around every API response. Failure
// envelopes may still carry well-formed empty data so clients can
// render a degraded page instead of an error screen.
type Envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
	Debug     *Debug `json:"debug,omitempty"`
}

// Debug carries optional diagnostics alongside the payload.
type Debug struct {
	TookMs  int64    `json:"took_ms,omitempty"`
	Backend string   `json:"backend,omitempty"`
	Index   string   `json:"index,omitempty"`
	Plugins []string `json:"plugins,omitempty"`
}

// Backend names reported in the debug block.
const (
	backendSearch   = "elasticsearch"
	backendFallback = "mysql"
)

// OK wraps data in a success envelope.
func OK(data any) *Envelope {
	return &Envelope{Success: true, Data: data}
}

// Fail builds an error envelope. Data stays nil; callers that need a
// degraded-but-well-formed payload set it afterwards.
func Fail(code, message string) *Envelope {
	return &Envelope{Success: false, Error: message, ErrorCode: code}
}

// Response couples an envelope with the HTTP status the transport
// writes. The service owns the status so the single place that turns
// backend failures into user-visible answers also picks the code.
type Response struct {
	Status   int
	Envelope *Envelope
}

// respond is the common success case.
func respond(data any) Response {
	return Response{Status: http.StatusOK, Envelope: OK(data)}
}

// invalid is the common validation-failure case.
func invalid(message string) Response {
	return Response{Status: http.StatusBadRequest, Envelope: Fail(CodeInvalidParameter, message)}
}
