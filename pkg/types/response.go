// Package types holds the JSON envelopes shared by every HTTP response.
package types

// DataResponse wraps a successful payload as {"data": ...}.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorBody is the public face of a typed error. Details only appear for
// codes that allow them.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse wraps an ErrorBody as {"error": ...}.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

func NewErrorResponse(code, message string, details any) ErrorResponse {
	return ErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}}
}
