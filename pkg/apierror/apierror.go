package apierror

import "fmt"

type APIError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}

	if len(e.Details) > 0 {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Details)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an error rendered as-is by the handlers. details is always
// rendered as a JSON object; an empty map is omitted.
func New(code string, message string, details map[string]any, status int) *APIError {
	if len(details) == 0 {
		details = nil
	}
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

// Field is the details of an error about a single named input.
func Field(name string, problem string) map[string]any {
	return map[string]any{name: problem}
}
