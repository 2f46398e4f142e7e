package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Error codes for failures that never reached the backend
const (
	CodeNetworkError = "NETWORK_ERROR"
	CodeTimeout      = "TIMEOUT"
)

// APIError is the normalized failure of a backend call. Status 0 means the
// backend could not be reached; 408 means the call was aborted locally.
type APIError struct {
	Status    int    `json:"status"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsNetwork reports a connectivity failure
func (e *APIError) IsNetwork() bool { return e.Status == 0 || e.Code == CodeNetworkError }

// IsTimeout reports a client-side abort
func (e *APIError) IsTimeout() bool {
	return e.Status == http.StatusRequestTimeout && e.Code == CodeTimeout
}

// IsTransient reports failures that a caller may retry
func (e *APIError) IsTransient() bool { return e.IsNetwork() || e.IsTimeout() }

// AsAPIError unwraps err into an *APIError
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsStatus reports whether err is an APIError with the given HTTP status
func IsStatus(err error, status int) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.Status == status
}

// IsTransient reports whether err is a connectivity or timeout failure
func IsTransient(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsTransient()
}

// MessageOf returns the server message of err, or fallback
func MessageOf(err error, fallback string) string {
	if apiErr, ok := AsAPIError(err); ok && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// transportError converts an http.Client failure. timedOut is set when the
// per-call deadline fired.
func transportError(err error, timedOut bool) *APIError {
	if timedOut || isTimeoutError(err) {
		return &APIError{
			Status:  http.StatusRequestTimeout,
			Code:    CodeTimeout,
			Message: "request timed out",
			Details: err.Error(),
		}
	}
	return &APIError{
		Status:  0,
		Code:    CodeNetworkError,
		Message: "backend unreachable",
		Details: err.Error(),
	}
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

// errorBody covers the error payloads the backend is known to send
type errorBody struct {
	Message   json.RawMessage `json:"message"`
	Error     json.RawMessage `json:"error"`
	Code      string          `json:"code"`
	Details   json.RawMessage `json:"details"`
	RequestID string          `json:"requestId"`
}

// statusError builds the APIError of a non-2xx response. Server text is
// kept verbatim.
func statusError(status int, body []byte, requestID string) *APIError {
	apiErr := &APIError{Status: status, RequestID: requestID}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		apiErr.Code = eb.Code
		apiErr.Message = rawText(eb.Message)
		if errText := rawText(eb.Error); errText != "" {
			if apiErr.Message == "" {
				apiErr.Message = errText
			} else if apiErr.Code == "" {
				apiErr.Code = errText
			}
		}
		apiErr.Details = rawText(eb.Details)
		if eb.RequestID != "" {
			apiErr.RequestID = eb.RequestID
		}
	} else if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		apiErr.Message = text
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// rawText flattens a string, a list of strings or an object into text
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "; ")
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
