// Package httputil provides shared HTTP response/request utilities for handlers.
//
// Handlers use these helpers instead of raw http.ResponseWriter calls so
// that JSON formatting, error envelopes and validation messages are the
// same on every endpoint.
package httputil
