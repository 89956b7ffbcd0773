package management

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// APIError is returned for non-2xx management API responses.
type APIError struct {
	StatusCode int

	// ErrorCode is the machine readable code (e.g. "inexistent_user"), if any.
	ErrorCode string

	// Message is the human readable explanation sent by the server.
	Message string

	// Body is the raw response payload.
	Body []byte
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.ErrorCode != "" {
		return fmt.Sprintf("management: %d %s (%s)", e.StatusCode, msg, e.ErrorCode)
	}
	return fmt.Sprintf("management: %d %s", e.StatusCode, msg)
}

// readAPIError consumes and closes resp.Body.
func readAPIError(resp *http.Response) *APIError {
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: body}

	var payload struct {
		Error     string `json:"error"`
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.ErrorCode = payload.ErrorCode
		apiErr.Message = payload.Message
		if apiErr.Message == "" {
			apiErr.Message = payload.Error
		}
	}
	return apiErr
}
