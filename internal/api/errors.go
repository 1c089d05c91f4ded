package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// NetworkError indicates the request never produced an HTTP response
// (DNS failure, refused connection, reset, context cancellation).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("connection error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError is a non-2xx response (other than an authenticated 401)
// or an unreadable success body. Message is the normalized server
// error payload.
type ProtocolError struct {
	Status  int
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status > 0 {
		return fmt.Sprintf("request failed (%d %s)", e.Status, http.StatusText(e.Status))
	}
	return "unexpected response from server"
}

// UnauthorizedError is a 401 on a request that carried a bearer token.
// Receiving one means the session is no longer valid.
type UnauthorizedError struct {
	Message string
}

func (e *UnauthorizedError) Error() string {
	if e.Message == "" {
		return "unauthorized"
	}
	return e.Message
}

// ValidationError is detected locally; the request is never sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ErrNotAuthenticated is returned before any network activity when a
// mailbox request is attempted without a token.
var ErrNotAuthenticated = &ValidationError{
	Field:   "token",
	Message: "not logged in",
}

// IsNetwork reports whether err (or any error in its chain) is a NetworkError.
func IsNetwork(err error) bool {
	var e *NetworkError
	return errors.As(err, &e)
}

// IsProtocol reports whether err (or any error in its chain) is a ProtocolError.
func IsProtocol(err error) bool {
	var e *ProtocolError
	return errors.As(err, &e)
}

// IsUnauthorized reports whether err (or any error in its chain) is an
// UnauthorizedError.
func IsUnauthorized(err error) bool {
	var e *UnauthorizedError
	return errors.As(err, &e)
}

// IsValidation reports whether err (or any error in its chain) is a
// ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// NormalizeErrorBody turns a server error body into one display string.
// Bodies shaped like {"detail": ...} are normalized through their detail
// value; anything else is normalized as a whole. Non-JSON bodies are
// returned trimmed.
func NormalizeErrorBody(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return ""
	}

	var payload any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return string(trimmed)
	}

	if obj, ok := payload.(map[string]any); ok {
		if detail, ok := obj["detail"]; ok {
			return NormalizeDetail(detail)
		}
	}
	return NormalizeDetail(payload)
}

// NormalizeDetail flattens a polymorphic error detail: a string is used
// verbatim, a list is normalized per item and joined with "; ", and an
// object yields its msg, message, detail or error field, else its JSON text.
func NormalizeDetail(detail any) string {
	switch d := detail.(type) {
	case nil:
		return ""
	case string:
		return d
	case []any:
		parts := make([]string, 0, len(d))
		for _, item := range d {
			if s := normalizeItem(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	default:
		return normalizeItem(d)
	}
}

var detailKeys = []string{"msg", "message", "detail", "error"}

func normalizeItem(item any) string {
	switch v := item.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any:
		for _, k := range detailKeys {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
		for _, k := range detailKeys {
			if nested, ok := v[k]; ok && nested != nil {
				if s := NormalizeDetail(nested); s != "" {
					return s
				}
			}
		}
	}
	return dumpJSON(item)
}

func dumpJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
