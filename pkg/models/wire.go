package models

import "github.com/ocentra/tabagentd/pkg/ids"

// WireError is the on-the-wire error body (spec §6 "Error JSON shape").
type WireError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// WireResponse is the on-the-wire envelope every transport adapter
// serializes a ResponseValue into (spec §6).
type WireResponse struct {
	RequestID ids.RequestId `json:"request_id"`
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *WireError    `json:"error,omitempty"`
}

// Success builds a successful WireResponse.
func Success(id ids.RequestId, data any) WireResponse {
	return WireResponse{RequestID: id, Success: true, Data: data}
}

// Failure builds a failed WireResponse.
func Failure(id ids.RequestId, code, message string, details map[string]any) WireResponse {
	return WireResponse{RequestID: id, Success: false, Error: &WireError{Code: code, Message: message, Details: details}}
}
