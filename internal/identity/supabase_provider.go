package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/pkg/token"
)

// SupabaseProvider 通过 GoTrue REST 接口与 Supabase Auth 交互。
type SupabaseProvider struct {
	baseURL string
	anonKey string
	client  *http.Client
	// verifier 非空时先用 JWT secret 本地校验 access token，省去一次远程调用
	verifier *token.JWTManager
}

// NewSupabaseProvider 根据配置创建 SupabaseProvider。
func NewSupabaseProvider(cfg config.IdentityConfig, client *http.Client) *SupabaseProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	p := &SupabaseProvider{
		baseURL: strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey: cfg.AnonKey,
		client:  client,
	}
	if cfg.JWTSecret != "" {
		p.verifier = token.NewJWTManager(cfg.JWTSecret, 0, 0)
	}
	return p
}

type gotrueUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	IsAnonymous  bool           `json:"is_anonymous"`
	AppMetadata  map[string]any `json:"app_metadata"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type gotrueSession struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresIn    int64      `json:"expires_in"`
	ExpiresAt    int64      `json:"expires_at"`
	User         gotrueUser `json:"user"`
}

type gotrueError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	ErrorCode        string `json:"error_code"`
}

func (p *SupabaseProvider) GetUser(ctx context.Context, accessToken string) (*Principal, error) {
	if p.verifier != nil {
		claims, err := p.verifier.VerifyAccessToken(accessToken)
		if err != nil {
			return nil, ErrInvalidToken
		}
		return principalFromClaims(claims), nil
	}

	var user gotrueUser
	status, err := p.do(ctx, http.MethodGet, "/user", accessToken, nil, &user)
	if err != nil {
		if status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusNotFound {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if user.ID == "" {
		return nil, ErrInvalidToken
	}
	return user.principal(), nil
}

func (p *SupabaseProvider) SignUp(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]any{"email": email, "password": password}
	raw := map[string]json.RawMessage{}
	status, err := p.do(ctx, http.MethodPost, "/signup", "", body, &raw)
	if err != nil {
		if status == http.StatusUnprocessableEntity || status == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %v", ErrEmailTaken, err)
		}
		return nil, err
	}
	// 开启邮箱确认时 GoTrue 只返回用户对象，不返回会话
	if _, ok := raw["access_token"]; !ok {
		return nil, ErrConfirmationRequired
	}
	return decodeSession(raw)
}

func (p *SupabaseProvider) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var s gotrueSession
	body := map[string]any{"email": email, "password": password}
	status, err := p.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &s)
	if err != nil {
		if status == http.StatusBadRequest || status == http.StatusUnauthorized {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	return s.session(), nil
}

func (p *SupabaseProvider) SignInAnonymously(ctx context.Context) (*Session, error) {
	var s gotrueSession
	if _, err := p.do(ctx, http.MethodPost, "/signup", "", map[string]any{"data": map[string]any{}}, &s); err != nil {
		return nil, err
	}
	return s.session(), nil
}

func (p *SupabaseProvider) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	var s gotrueSession
	body := map[string]any{"refresh_token": refreshToken}
	status, err := p.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &s)
	if err != nil {
		if status >= 400 && status < 500 {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return s.session(), nil
}

func (p *SupabaseProvider) SignOut(ctx context.Context, accessToken string) error {
	status, err := p.do(ctx, http.MethodPost, "/logout", accessToken, nil, nil)
	if err != nil && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		return ErrInvalidToken
	}
	return err
}

// do 发送一次 GoTrue 请求，返回 HTTP 状态码；非 2xx 时返回带描述的错误。
func (p *SupabaseProvider) do(ctx context.Context, method, path, bearer string, body any, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal gotrue request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create gotrue request: %w", err)
	}
	req.Header.Set("apikey", p.anonKey)
	req.Header.Set("Content-Type", "application/json")
	if bearer == "" {
		bearer = p.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call gotrue: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read gotrue response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var ge gotrueError
		_ = json.Unmarshal(respBody, &ge)
		desc := ge.ErrorDescription
		if desc == "" {
			desc = ge.Msg
		}
		if desc == "" {
			desc = string(respBody)
		}
		return resp.StatusCode, fmt.Errorf("gotrue returned %s: %s", resp.Status, desc)
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode gotrue response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func decodeSession(raw map[string]json.RawMessage) (*Session, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var s gotrueSession
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to decode gotrue session: %w", err)
	}
	return s.session(), nil
}

func (s *gotrueSession) session() *Session {
	expiresAt := time.Unix(s.ExpiresAt, 0)
	if s.ExpiresAt == 0 {
		expiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	return &Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    expiresAt,
		User:         *s.User.principal(),
	}
}

func (u *gotrueUser) principal() *Principal {
	claims := map[string]any{
		"sub":           u.ID,
		"email":         u.Email,
		"role":          u.Role,
		"is_anonymous":  u.IsAnonymous,
		"app_metadata":  u.AppMetadata,
		"user_metadata": u.UserMetadata,
	}
	return &Principal{
		UserID:      u.ID,
		Email:       u.Email,
		IsAnonymous: u.IsAnonymous,
		Role:        u.Role,
		Claims:      claims,
	}
}
