package apperror

import (
	"encoding/json"
	"net/http"
)

// Response is the JSON error body returned by every HTTP endpoint.
type Response struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ResponseFor builds the public body for err.
func ResponseFor(err error) Response {
	code := StatusCode(err)
	return Response{
		Error:   http.StatusText(code),
		Code:    code,
		Message: PublicMessage(err),
	}
}

// WriteHTTP writes err as a JSON error response and returns the status used.
func WriteHTTP(w http.ResponseWriter, err error) int {
	body := ResponseFor(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(body.Code)
	_ = json.NewEncoder(w).Encode(body)
	return body.Code
}
