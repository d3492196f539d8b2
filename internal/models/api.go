package models

// APIStatus is the status field of every HTTP response envelope.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope written by the HTTP API.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

func envelope(status APIStatus, message string, result interface{}) APIResponse {
	return APIResponse{Status: string(status), Message: message, Result: result}
}

// Success wraps result in an "ok" envelope.
func Success(result interface{}) APIResponse {
	return envelope(APIStatusOK, "", result)
}

// SuccessWithMessage is Success with a human-readable note.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return envelope(APIStatusOK, message, result)
}

// Error builds an "error" envelope carrying message.
func Error(message string) APIResponse {
	return envelope(APIStatusError, message, nil)
}

// IsOK reports whether the envelope carries the "ok" status.
func (r APIResponse) IsOK() bool {
	return r.Status == string(APIStatusOK)
}
