package main

import (
	"encoding/json"
	"net/http"
)

// APIResponse handles consistent header setting and JSON responses.
// It centralizes the logic for setting X-Cache-Status, X-Source,
// X-RateLimit-Type, and cache-control headers based on request context.
type APIResponse struct {
	w            http.ResponseWriter
	r            *http.Request
	cacheStatus  string
	source       string
	cacheControl string
}

// Respond creates a response helper from request context
func Respond(w http.ResponseWriter, r *http.Request) *APIResponse {
	return &APIResponse{w: w, r: r}
}

// SetCacheStatus sets the X-Cache-Status header value
func (a *APIResponse) SetCacheStatus(status string) *APIResponse {
	a.cacheStatus = status
	return a
}

// SetSource sets the X-Source header value
func (a *APIResponse) SetSource(source string) *APIResponse {
	a.source = source
	return a
}

// SetCacheControl sets the Cache-Control header value
func (a *APIResponse) SetCacheControl(value string) *APIResponse {
	a.cacheControl = value
	return a
}

// writeHeaders sets all standard headers based on context
func (a *APIResponse) writeHeaders(contentType string) {
	a.w.Header().Set("Content-Type", contentType)

	if a.cacheStatus != "" {
		a.w.Header().Set("X-Cache-Status", a.cacheStatus)
	}
	if a.source != "" {
		a.w.Header().Set("X-Source", a.source)
	}
	if a.cacheControl != "" {
		a.w.Header().Set("Cache-Control", a.cacheControl)
	}

	// Rate limit type from context
	if rateLimitType, ok := a.r.Context().Value(rateLimitTypeKey).(string); ok && rateLimitType != "" {
		a.w.Header().Set("X-RateLimit-Type", rateLimitType)
	}
}

// JSON writes headers and encodes data as JSON (200 OK)
func (a *APIResponse) JSON(data interface{}) error {
	a.writeHeaders("application/json")
	return json.NewEncoder(a.w).Encode(data)
}

// Error writes headers, sets status code, and encodes error response
func (a *APIResponse) Error(statusCode int, data interface{}) error {
	if a.cacheControl == "" {
		a.cacheControl = "no-store"
	}
	a.writeHeaders("application/json")
	a.w.WriteHeader(statusCode)
	return json.NewEncoder(a.w).Encode(data)
}

// Raw writes headers and a pre-serialized body with the given content
// type (200 OK)
func (a *APIResponse) Raw(contentType string, body []byte) error {
	a.writeHeaders(contentType)
	_, err := a.w.Write(body)
	return err
}
