package common

import (
	"errors"
	"net/http"
)

// ErrorResponse 定義 API 錯誤響應結構
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"` // 僅在 debug 模式顯示
}

// CustomError 定義自定義錯誤類型
type CustomError struct {
	Code    string
	Message string
	Err     error
	Status  int
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap 回傳原始錯誤
func (e *CustomError) Unwrap() error {
	return e.Err
}

// Is 以錯誤代碼比對，讓帶有原因的副本仍能匹配預定義錯誤
func (e *CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	return ok && t.Code == e.Code
}

// Wrap 回傳附帶原始錯誤的副本
func (e *CustomError) Wrap(err error) *CustomError {
	return &CustomError{
		Code:    e.Code,
		Message: e.Message,
		Status:  e.Status,
		Err:     err,
	}
}

// NewError 創建新的自定義錯誤
func NewError(code string, message string, status int, err error) *CustomError {
	return &CustomError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// AsCustomError 取出錯誤鏈中的 CustomError，找不到時歸類為內部錯誤
func AsCustomError(err error) *CustomError {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce
	}
	return ErrInternalError.Wrap(err)
}

// 預定義錯誤代碼
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"     // 400
	ErrCodeUnauthorized       = "UNAUTHORIZED"        // 401
	ErrCodeNotFound           = "NOT_FOUND"           // 404
	ErrCodeConflict           = "CONFLICT"            // 409
	ErrCodeGone               = "GONE"                // 410
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"   // 429
	ErrCodeInternalError      = "INTERNAL_ERROR"      // 500
	ErrCodeBadGateway         = "BAD_GATEWAY"         // 502
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE" // 503
)

// 預定義錯誤
var (
	ErrInvalidRequest     = NewError(ErrCodeInvalidRequest, "invalid request", http.StatusBadRequest, nil)
	ErrNotFound           = NewError(ErrCodeNotFound, "resource not found", http.StatusNotFound, nil)
	ErrTooManyRequests    = NewError(ErrCodeTooManyRequests, "too many requests", http.StatusTooManyRequests, nil)
	ErrInternalError      = NewError(ErrCodeInternalError, "internal server error", http.StatusInternalServerError, nil)
	ErrServiceUnavailable = NewError(ErrCodeServiceUnavailable, "service temporarily unavailable", http.StatusServiceUnavailable, nil)

	// 業務錯誤
	ErrAuthRequired      = NewError("AUTH_REQUIRED", "authentication required", http.StatusUnauthorized, nil)
	ErrTogglePending     = NewError("TOGGLE_PENDING", "a like change for this product is still in flight", http.StatusConflict, nil)
	ErrNotSeeded         = NewError("LIKE_NOT_READY", "like state is still loading", http.StatusConflict, nil)
	ErrUnknownProduct    = NewError("UNKNOWN_PRODUCT", "product is not in the visible set", http.StatusNotFound, nil)
	ErrStaleView         = NewError("STALE_VIEW", "view is no longer active", http.StatusGone, nil)
	ErrSourceUnavailable = NewError("SOURCE_UNAVAILABLE", "backend source unavailable", http.StatusServiceUnavailable, nil)
	ErrMalformedPayload  = NewError("MALFORMED_PAYLOAD", "backend returned a malformed payload", http.StatusBadGateway, nil)
	ErrDispatchFull      = NewError("DISPATCH_FULL", "like dispatcher queue is full", http.StatusServiceUnavailable, nil)
)
