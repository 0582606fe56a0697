// Пакет errors — стандартные ответы с ошибками.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
package errors

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Машиночитаемые коды ошибок.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeEmptyOrOversized = "EMPTY_OR_OVERSIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeForbiddenClosed  = "FORBIDDEN_CLOSED"
	CodeConflict         = "CONFLICT"
	CodeDuplicate        = "DUPLICATE"
	CodeClientAborted    = "CLIENT_ABORTED"
	CodeInternalError    = "INTERNAL_ERROR"
)

// StatusClientClosedRequest — нестандартный статус 499: клиент закрыл соединение.
const StatusClientClosedRequest = 499

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{Code: code, Message: message},
	})
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// EmptyOrOversized — 400 недопустимое количество элементов.
func EmptyOrOversized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeEmptyOrOversized, message)
}

// NotFound — 404.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// ForbiddenClosed — 409 изменение закрытого обещания.
func ForbiddenClosed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeForbiddenClosed, message)
}

// Conflict — 409.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// Duplicate — 409 повторный платёж.
func Duplicate(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeDuplicate, message)
}

// ClientAborted — 499 клиент отключился до завершения обработки.
func ClientAborted(w http.ResponseWriter, message string) {
	WriteError(w, StatusClientClosedRequest, CodeClientAborted, message)
}

// InternalError — 500.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
