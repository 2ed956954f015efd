package rpc

import (
	"errors"
	"fmt"
	"net/http"
)

// Code 是过程调用失败的分类。
type Code string

const (
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeMethodNotSupported Code = "METHOD_NOT_SUPPORTED"
	CodeInternal           Code = "INTERNAL_SERVER_ERROR"
)

// HTTPStatus 返回分类对应的 HTTP 状态码。
func (c Code) HTTPStatus() int {
	switch c {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotSupported:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// JSONRPCCode 返回分类对应的 JSON-RPC 错误码，写入响应 envelope。
func (c Code) JSONRPCCode() int {
	switch c {
	case CodeBadRequest:
		return -32600
	case CodeUnauthorized:
		return -32001
	case CodeForbidden:
		return -32003
	case CodeNotFound:
		return -32004
	case CodeMethodNotSupported:
		return -32005
	default:
		return -32603
	}
}

// Error 是过程边界上的失败。Cause 只用于日志，不会写回客户端。
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError 创建一个指定分类的 Error。
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError 创建一个带底层原因的 Error。
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// AsError 把任意错误归一为 *Error；未分类的错误一律视为内部错误，并隐藏细节。
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &Error{Code: CodeInternal, Message: "internal server error", Cause: err}
}
