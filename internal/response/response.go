// Package response defines the JSON envelope returned by every endpoint.
package response

import "time"

type Response struct {
	Data          any    `json:"data,omitempty"`
	Success       bool   `json:"success"`
	StatusMessage string `json:"status_message"`
	Reason        string `json:"reason,omitempty"`
	Timestamp     string `json:"timestamp"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func Ok(data any) Response {
	return Response{
		Data:          data,
		Success:       true,
		StatusMessage: "Success",
		Timestamp:     now(),
	}
}

func Error(message string) Response {
	return Response{
		Success:       false,
		StatusMessage: message,
		Timestamp:     now(),
	}
}

// Rejected reports a business rejection with a machine-readable reason.
func Rejected(reason, message string, data any) Response {
	return Response{
		Data:          data,
		Success:       false,
		StatusMessage: message,
		Reason:        reason,
		Timestamp:     now(),
	}
}
