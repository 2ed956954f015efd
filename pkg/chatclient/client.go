// Package chatclient 是聊天服务的 Go 客户端：过程调用走 /api/trpc，认证走 /api/v1/auth。
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"ai-chat-go/internal/identity"
	"ai-chat-go/internal/model"
)

// Error 是服务端返回的过程调用失败。
type Error struct {
	Code       string
	Message    string
	HTTPStatus int
	Path       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Path, e.Code, e.Message)
}

// Client 以类型化方法调用服务端过程。并发安全。
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 指定底层 http.Client，例如带 cookie jar 的客户端。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken 指定 bearer token。
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New 创建一个 Client，baseURL 形如 http://localhost:8080。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), http: http.DefaultClient}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetToken 替换 bearer token，空字符串表示改用 cookie。
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := c.query(ctx, "chat.listConversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateConversation(ctx context.Context, title string) (*model.Conversation, error) {
	var out model.Conversation
	if err := c.mutate(ctx, "chat.createConversation", map[string]string{"title": title}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var out []model.Message
	if err := c.query(ctx, "chat.listMessages", map[string]string{"conversationId": conversationID}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, conversationID, message string) (*model.SendMessageResult, error) {
	var out model.SendMessageResult
	in := map[string]string{"conversationId": conversationID, "message": message}
	if err := c.mutate(ctx, "chat.sendMessage", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchMessages(ctx context.Context, query string, limit int) ([]model.MessageHit, error) {
	var out []model.MessageHit
	if err := c.query(ctx, "chat.searchMessages", map[string]any{"query": query, "limit": limit}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Me(ctx context.Context) (*model.Profile, error) {
	var out model.Profile
	if err := c.query(ctx, "user.me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SignUp 注册并把返回的 access token 设为 bearer。
func (c *Client) SignUp(ctx context.Context, email, password string) (*identity.Session, error) {
	return c.auth(ctx, "/api/v1/auth/signup", map[string]string{"email": email, "password": password})
}

// SignIn 登录并把返回的 access token 设为 bearer。
func (c *Client) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	return c.auth(ctx, "/api/v1/auth/signin", map[string]string{"email": email, "password": password})
}

// SignInAnonymously 创建匿名会话并把 access token 设为 bearer。
func (c *Client) SignInAnonymously(ctx context.Context) (*identity.Session, error) {
	return c.auth(ctx, "/api/v1/auth/anonymous", nil)
}

type restResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) auth(ctx context.Context, path string, body any) (*identity.Session, error) {
	raw := []byte("{}")
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var rr restResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Code: http.StatusText(resp.StatusCode), Message: rr.Message, HTTPStatus: resp.StatusCode, Path: path}
	}
	var session identity.Session
	if err := json.Unmarshal(rr.Data, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	c.SetToken(session.AccessToken)
	return &session, nil
}

type successEnvelope struct {
	Result struct {
		Data json.RawMessage `json:"data"`
	} `json:"result"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Data    struct {
			Code       string `json:"code"`
			HTTPStatus int    `json:"httpStatus"`
			Path       string `json:"path"`
		} `json:"data"`
	} `json:"error"`
}

func (c *Client) query(ctx context.Context, path string, in any, out any) error {
	u := c.baseURL + "/api/trpc/" + path
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		u += "?input=" + url.QueryEscape(string(raw))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *Client) mutate(ctx context.Context, path string, in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/trpc/"+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *Client) do(req *http.Request, path string, out any) error {
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK {
		var env errorEnvelope
		if err := json.Unmarshal(body, &env); err != nil || env.Error.Data.Code == "" {
			return &Error{Code: "INTERNAL_SERVER_ERROR", Message: strings.TrimSpace(string(body)), HTTPStatus: resp.StatusCode, Path: path}
		}
		return &Error{
			Code:       env.Error.Data.Code,
			Message:    env.Error.Message,
			HTTPStatus: env.Error.Data.HTTPStatus,
			Path:       env.Error.Data.Path,
		}
	}

	var env successEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode %s result: %w", path, err)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Result.Data, out)
}
