package response

import (
	"encoding/json"
	"net/http"

	"vidtube-account-server/pkg/apperror"
)

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

func JSON(w http.ResponseWriter, statusCode int, data interface{}) {
	write(w, statusCode, Response{
		Success: statusCode < 400,
		Data:    data,
	})
}

func WithMessage(w http.ResponseWriter, statusCode int, data interface{}, message string) {
	write(w, statusCode, Response{
		Success: statusCode < 400,
		Data:    data,
		Message: message,
	})
}

func Success(w http.ResponseWriter, data interface{}) {
	JSON(w, http.StatusOK, data)
}

// FromError writes err as the uniform error envelope. Causes of internal
// errors are not exposed.
func FromError(w http.ResponseWriter, err error) {
	appErr := apperror.As(err)
	write(w, appErr.HTTPStatus(), Response{
		Success: false,
		Error:   appErr.Message,
		Code:    string(appErr.Kind),
	})
}

func write(w http.ResponseWriter, statusCode int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
