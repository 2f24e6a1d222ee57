package model

import (
	"time"
)

// Error codes returned by the control surface.
const (
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeBadRequest   = "bad_request"
	ErrCodeInternal     = "internal_error"
)

// ResponseMeta carries per-response metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail is the body of an APIError.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusPayload is the control surface's point-in-time view of the engine.
// Subsystems holds each registered subsystem's self-reported status, keyed
// by name; a failing subsystem contributes an "error" entry instead.
type StatusPayload struct {
	State         EngineState                  `json:"state"`
	Version       string                       `json:"version"`
	Snapshot      Snapshot                     `json:"snapshot"`
	Opportunities int                          `json:"opportunities_cached"`
	TrendsCached  bool                         `json:"trends_cached"`
	Subsystems    map[string]map[string]string `json:"subsystems,omitempty"`
}
