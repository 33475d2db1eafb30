package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// 业务层通用错误，handler 与 websocket 层根据错误类型映射到状态码和错误码。
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidMessage      = fmt.Errorf("%w: invalid message", ErrInvalidInput)
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrRoomNotFound        = errors.New("room not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrReportNotFound      = errors.New("report not found")
	ErrClassifierTimeout   = errors.New("classifier timeout")
	ErrClassifierFailure   = errors.New("classifier failure")
)

// Invalid 构造一个带字段说明的 InvalidInput 错误。
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// InvalidMessage 构造一个带原因说明的 InvalidMessage 错误。
func InvalidMessage(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidMessage, reason)
}

// Kind 返回对外暴露的稳定错误码。未知错误统一为 internal。
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrLocationUnavailable):
		return "location_unavailable"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrMessageNotFound):
		return "message_not_found"
	case errors.Is(err, ErrReportNotFound):
		return "report_not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}

// Status 把错误映射为 HTTP 状态码。
func Status(err error) int {
	switch Kind(err) {
	case "invalid_message", "invalid_input":
		return http.StatusBadRequest
	case "location_unavailable":
		return http.StatusUnprocessableEntity
	case "room_not_found", "message_not_found", "report_not_found":
		return http.StatusNotFound
	case "store_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
