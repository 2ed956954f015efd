package rpc

import (
	"encoding/json"
	"io"
	"net/http"

	"ai-chat-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ContextFactory 为每个 HTTP 请求创建调用上下文（解析主体、注入依赖）。
type ContextFactory func(c *gin.Context) *Context

// 请求体上限，防止超大输入占满内存
const maxInputBytes = 1 << 20

// GinHandler 把 Router 挂载到 gin：
// GET  /:path?input=<json>  调用 query
// POST /:path  (JSON body)   调用 mutation
func GinHandler(router *Router, newContext ContextFactory) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Param("path")

		var kind Kind
		var raw []byte
		switch c.Request.Method {
		case http.MethodGet:
			kind = KindQuery
			raw = []byte(c.Query("input"))
		case http.MethodPost:
			kind = KindMutation
			body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInputBytes))
			if err != nil {
				writeError(c, WrapError(CodeBadRequest, "failed to read request body", err), path)
				return
			}
			raw = body
		default:
			writeError(c, NewError(CodeMethodNotSupported, "only GET and POST are supported"), path)
			return
		}

		rc := newContext(c)
		out, err := router.Call(rc, path, kind, raw)
		if err != nil {
			writeError(c, AsError(err), path)
			return
		}

		data, err := json.Marshal(out)
		if err != nil {
			writeError(c, WrapError(CodeInternal, "failed to encode result", err), path)
			return
		}
		c.JSON(http.StatusOK, SuccessEnvelope{Result: ResultBody{Data: data}})
	}
}

func writeError(c *gin.Context, e *Error, path string) {
	if e.Code == CodeInternal {
		log.Errorw("procedure failed", "path", path, "error", e.Cause)
	} else {
		log.Infow("procedure rejected", "path", path, "code", e.Code, "message", e.Message)
	}
	c.AbortWithStatusJSON(e.Code.HTTPStatus(), NewErrorEnvelope(e, path))
}
