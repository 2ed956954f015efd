package rpc

import "encoding/json"

// 以下为 HTTP 传输上的响应 envelope。
// 时间以 RFC 3339（纳秒精度）序列化，可空字段序列化为 null，往返无损。

// SuccessEnvelope 是成功响应。
type SuccessEnvelope struct {
	Result ResultBody `json:"result"`
}

// ResultBody 包裹过程返回值。
type ResultBody struct {
	Data json.RawMessage `json:"data"`
}

// ErrorEnvelope 是失败响应。
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody 描述失败。
type ErrorBody struct {
	Message string    `json:"message"`
	Code    int       `json:"code"`
	Data    ErrorData `json:"data"`
}

// ErrorData 携带可供客户端分支判断的字符串分类。
type ErrorData struct {
	Code       Code   `json:"code"`
	HTTPStatus int    `json:"httpStatus"`
	Path       string `json:"path,omitempty"`
}

// NewErrorEnvelope 把 *Error 转为响应 envelope。
func NewErrorEnvelope(e *Error, path string) ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorBody{
		Message: e.Message,
		Code:    e.Code.JSONRPCCode(),
		Data: ErrorData{
			Code:       e.Code,
			HTTPStatus: e.Code.HTTPStatus(),
			Path:       path,
		},
	}}
}
