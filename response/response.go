package response

import (
	"encoding/json"
	"net/http"
)

// V1Response is the standard envelope for all API responses
type V1Response struct {
	Success  bool        `json:"success"`
	Messages []string    `json:"messages"`
	Result   interface{} `json:"result"`
}

// WriteResponse will write the result wrapped in the standard envelope with HTTP 200
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(V1Response{
		Success:  true,
		Messages: []string{},
		Result:   result,
	})
}

// WriteError will write the Error's messages in the standard envelope with the Error's status code
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	messages := e.Messages
	if len(messages) == 0 {
		messages = []string{e.Message}
	}
	json.NewEncoder(w).Encode(V1Response{
		Success:  false,
		Messages: messages,
		Result:   e.Result,
	})
}
