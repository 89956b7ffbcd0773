package tokenprovider

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrMalformedResponse is wrapped by TransportError when a 2xx response from the
// token endpoint lacks the fields needed to build a token.
var ErrMalformedResponse = errors.New("malformed token response")

// ConfigurationError reports an invalid Provider configuration.
// It is returned before any network activity and is never worth retrying.
type ConfigurationError struct {
	// Field is the configuration key at fault, empty when the configuration
	// as a whole is missing or of the wrong shape.
	Field string

	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "tokenprovider: invalid configuration: " + e.Message
	}
	return fmt.Sprintf("tokenprovider: invalid configuration: %s %s", e.Field, e.Message)
}

// APIError is returned when the token endpoint answers with a non-2xx status.
type APIError struct {
	StatusCode int

	// Code and Description are taken from an OAuth2 style error payload
	// ({"error": ..., "error_description": ...}) when the server sent one.
	Code        string
	Description string

	// Body is the raw response payload.
	Body []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Description
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("tokenprovider: token endpoint returned %d: %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("tokenprovider: token endpoint returned %d: %s", e.StatusCode, msg)
}

// newAPIError builds an APIError from a failed token endpoint response.
func newAPIError(statusCode int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: statusCode, Body: body}

	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Message          string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Code = payload.Error
		apiErr.Description = payload.ErrorDescription
		if apiErr.Description == "" {
			apiErr.Description = payload.Message
		}
	}

	return apiErr
}

// TransportError is returned when the token exchange could not be completed:
// the request failed to send, the response body could not be read, or a 2xx
// response could not be decoded into a token.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("tokenprovider: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}
