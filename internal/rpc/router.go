package rpc

import (
	"sort"
	"strings"
)

// Router 以名称索引全部过程，例如 "chat.sendMessage"。
type Router struct {
	procedures map[string]*Procedure
}

// NewRouter 创建一个空 Router。
func NewRouter() *Router {
	return &Router{procedures: make(map[string]*Procedure)}
}

// Handle 注册一个过程，重复注册同名过程会 panic。
func (r *Router) Handle(path string, p *Procedure) *Router {
	if _, exists := r.procedures[path]; exists {
		panic("rpc: duplicate procedure " + path)
	}
	r.procedures[path] = p
	return r
}

// Merge 把子 Router 以 prefix 为命名空间并入。
func (r *Router) Merge(prefix string, sub *Router) *Router {
	for path, p := range sub.procedures {
		r.Handle(prefix+"."+path, p)
	}
	return r
}

// Paths 返回已注册过程名（有序）。
func (r *Router) Paths() []string {
	paths := make([]string, 0, len(r.procedures))
	for p := range r.procedures {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Lookup 查找过程。
func (r *Router) Lookup(path string) (*Procedure, bool) {
	p, ok := r.procedures[strings.TrimSpace(path)]
	return p, ok
}

// Call 以与传输无关的方式调用过程。kind 为调用方声明的类型，需与过程一致。
func (r *Router) Call(c *Context, path string, kind Kind, rawInput []byte) (any, error) {
	p, ok := r.Lookup(path)
	if !ok {
		return nil, NewError(CodeNotFound, "no procedure found on path \""+path+"\"")
	}
	if p.kind != kind {
		return nil, NewError(CodeMethodNotSupported, "unsupported "+string(kind)+" call on "+string(p.kind)+" procedure \""+path+"\"")
	}
	c.Path = path
	return p.call(c, rawInput)
}
