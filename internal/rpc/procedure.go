// Package rpc 实现类型化的远程过程边界：
// 具名的 query / mutation，输入先经 schema 校验再进入过程体，
// 中间件链可在过程体之前拒绝调用（例如未认证）。与具体传输无关。
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"ai-chat-go/internal/identity"

	"gorm.io/gorm"
)

// Kind 区分只读查询与变更操作。
type Kind string

const (
	KindQuery    Kind = "query"
	KindMutation Kind = "mutation"
)

// Void 用于没有输入的过程。
type Void struct{}

// Context 是每次调用的上下文。Principal 为 nil 表示未认证。
type Context struct {
	Ctx       context.Context
	Request   *http.Request
	Writer    http.ResponseWriter
	Principal *identity.Principal
	DB        *gorm.DB
	Identity  identity.Provider
	// Path 是被调用的过程名，由 Router 填充
	Path string
}

// Next 继续执行调用链的剩余部分。
type Next func(c *Context) (any, error)

// Middleware 包裹过程调用，可以改写上下文或提前返回错误。
type Middleware func(c *Context, next Next) (any, error)

// Procedure 是一个已构建的具名操作。
type Procedure struct {
	kind        Kind
	middlewares []Middleware
	decode      func(raw []byte) (any, error)
	resolve     func(c *Context, input any) (any, error)
}

// Kind 返回过程类型。
func (p *Procedure) Kind() Kind {
	return p.kind
}

// call 依次执行中间件、输入解码与校验、过程体。
func (p *Procedure) call(c *Context, raw []byte) (any, error) {
	final := func(c *Context) (any, error) {
		input, err := p.decode(raw)
		if err != nil {
			return nil, err
		}
		return p.resolve(c, input)
	}
	next := Next(final)
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		mw := p.middlewares[i]
		inner := next
		next = func(c *Context) (any, error) {
			return mw(c, inner)
		}
	}
	return next(c)
}

// Builder 携带中间件链，用于构建过程。值类型，Use 不会修改原 Builder。
type Builder struct {
	middlewares []Middleware
}

// Public 返回不带任何中间件的 Builder。
func Public() Builder {
	return Builder{}
}

// Protected 返回要求已认证主体的 Builder。
func Protected() Builder {
	return Public().Use(RequireAuth)
}

// Use 追加中间件，返回新的 Builder。
func (b Builder) Use(mws ...Middleware) Builder {
	chain := make([]Middleware, 0, len(b.middlewares)+len(mws))
	chain = append(chain, b.middlewares...)
	chain = append(chain, mws...)
	return Builder{middlewares: chain}
}

// RequireAuth 拒绝没有主体的调用，过程体不会执行。
func RequireAuth(c *Context, next Next) (any, error) {
	if c.Principal == nil || c.Principal.UserID == "" {
		return nil, NewError(CodeUnauthorized, "UNAUTHORIZED")
	}
	return next(c)
}

// Query 构建一个只读过程。
func Query[In any, Out any](b Builder, fn func(c *Context, in In) (Out, error)) *Procedure {
	return build(KindQuery, b, fn)
}

// Mutation 构建一个变更过程。
func Mutation[In any, Out any](b Builder, fn func(c *Context, in In) (Out, error)) *Procedure {
	return build(KindMutation, b, fn)
}

func build[In any, Out any](kind Kind, b Builder, fn func(c *Context, in In) (Out, error)) *Procedure {
	return &Procedure{
		kind:        kind,
		middlewares: b.middlewares,
		decode: func(raw []byte) (any, error) {
			return decodeInput[In](raw)
		},
		resolve: func(c *Context, input any) (any, error) {
			return fn(c, input.(In))
		},
	}
}

// decodeInput 把原始 JSON 解码为 In 并做 schema 校验。
func decodeInput[In any](raw []byte) (In, error) {
	var in In
	if _, ok := any(in).(Void); ok {
		return in, nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return in, WrapError(CodeBadRequest, "input is not valid JSON for this procedure", err)
	}
	if err := validateInput(in); err != nil {
		return in, err
	}
	return in, nil
}
