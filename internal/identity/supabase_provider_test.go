package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/pkg/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGoTrue(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if body["password"] != "correct" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
				return
			}
		case "refresh_token":
			if body["refresh_token"] != "r1" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"access_token":"a2","refresh_token":"r2","expires_in":3600,"user":{"id":"u-1","email":"e@x.io","role":"authenticated"}}`))
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"u-1","email":"e@x.io","role":"authenticated","is_anonymous":false}`))
	})
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if _, ok := body["email"]; !ok {
			_, _ = w.Write([]byte(`{"access_token":"anon-a","refresh_token":"anon-r","expires_in":3600,"user":{"id":"u-anon","is_anonymous":true}}`))
			return
		}
		if body["email"] == "taken@x.io" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"msg":"User already registered"}`))
			return
		}
		// 开启邮箱确认：只返回用户
		_, _ = w.Write([]byte(`{"id":"u-2","email":"new@x.io"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSupabaseProvider(t *testing.T) {
	srv := newGoTrue(t)
	p := NewSupabaseProvider(config.IdentityConfig{URL: srv.URL + "/", AnonKey: "anon"}, srv.Client())
	ctx := context.Background()

	principal, err := p.GetUser(ctx, "good")
	require.NoError(t, err)
	require.Equal(t, "u-1", principal.UserID)
	_, err = p.GetUser(ctx, "bad")
	require.ErrorIs(t, err, ErrInvalidToken)

	s, err := p.SignInWithPassword(ctx, "e@x.io", "correct")
	require.NoError(t, err)
	require.Equal(t, "a2", s.AccessToken)
	require.WithinDuration(t, time.Now().Add(time.Hour), s.ExpiresAt, time.Minute)
	_, err = p.SignInWithPassword(ctx, "e@x.io", "nope")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = p.RefreshSession(ctx, "r0")
	require.ErrorIs(t, err, ErrInvalidToken)
	s, err = p.RefreshSession(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "r2", s.RefreshToken)

	anon, err := p.SignInAnonymously(ctx)
	require.NoError(t, err)
	require.True(t, anon.User.IsAnonymous)

	_, err = p.SignUp(ctx, "taken@x.io", "pw")
	require.ErrorIs(t, err, ErrEmailTaken)
	_, err = p.SignUp(ctx, "new@x.io", "pw")
	require.ErrorIs(t, err, ErrConfirmationRequired)
}

func TestSupabaseProvider_LocalVerification(t *testing.T) {
	// 配置了 JWT secret 时不访问远端
	p := NewSupabaseProvider(config.IdentityConfig{URL: "http://127.0.0.1:1", AnonKey: "anon", JWTSecret: "shared"}, nil)
	signer := token.NewJWTManager("shared", time.Hour, time.Hour)
	access, _, err := signer.GenerateToken("u-9", "z@x.io", false, "sess")
	require.NoError(t, err)

	principal, err := p.GetUser(context.Background(), access)
	require.NoError(t, err)
	require.Equal(t, "u-9", principal.UserID)
	require.Equal(t, "z@x.io", principal.Email)

	other := token.NewJWTManager("different", time.Hour, time.Hour)
	forged, _, err := other.GenerateToken("u-9", "", false, "")
	require.NoError(t, err)
	_, err = p.GetUser(context.Background(), forged)
	require.ErrorIs(t, err, ErrInvalidToken)
}
