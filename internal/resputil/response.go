package resputil

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every endpoint returns.
type Response[T any] struct {
	Code ErrorCode `json:"code"`
	Data T         `json:"data"`
	Msg  string    `json:"msg"`
}

func wrapResponse(c *gin.Context, httpCode int, msg string, data any, code ErrorCode) {
	c.JSON(httpCode, Response[any]{
		Code: code,
		Data: data,
		Msg:  msg,
	})
}

func Success[T any](c *gin.Context, data T) {
	wrapResponse(c, http.StatusOK, "", data, OK)
}

// Error reports a failed operation with HTTP 200; the envelope code
// tells the frontend what happened.
func Error(c *gin.Context, msg string, errorCode ErrorCode) {
	wrapResponse(c, http.StatusOK, msg, nil, errorCode)
}

// ErrorWithData reports a failed operation carrying structured detail,
// such as the list of validation reasons.
func ErrorWithData(c *gin.Context, msg string, data any, errorCode ErrorCode) {
	wrapResponse(c, http.StatusOK, msg, data, errorCode)
}

// BadRequestError is sugar for malformed request bindings.
func BadRequestError(c *gin.Context, msg string) {
	wrapResponse(c, http.StatusBadRequest, msg, nil, InvalidRequest)
}

// HTTPError reports a failure with a non-200 status code.
func HTTPError(c *gin.Context, httpCode int, msg string, errorCode ErrorCode) {
	wrapResponse(c, httpCode, msg, nil, errorCode)
}
