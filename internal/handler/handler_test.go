package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/internal/identity"
	"ai-chat-go/internal/model"
	"ai-chat-go/internal/repository"
	"ai-chat-go/internal/service"
	"ai-chat-go/internal/testutil"
	"ai-chat-go/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testApp struct {
	db     *gorm.DB
	engine *gin.Engine
	fake   *testutil.FakeLLM
	store  *testutil.FakeStore
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.DB(t)
	userRepo := repository.NewUserRepository(db)
	jwtManager := token.NewJWTManager("handler-secret", time.Hour, 24*time.Hour)
	resolver := identity.NewResolver(identity.NewLocalProvider(userRepo, jwtManager, testutil.NewMemoryBlacklist()), config.CookieConfig{})
	fake := &testutil.FakeLLM{Chunks: []string{"Hi", " there"}}
	store := testutil.NewFakeStore()

	chatService := service.NewChatService(
		repository.NewTxRunner(db),
		userRepo,
		repository.NewConversationRepository(db),
		repository.NewMessageRepository(db),
		fake,
		config.ChatConfig{EnforceOwnership: true},
		config.LLMConfig{},
		service.ChatOptions{},
	)
	engine := NewEngine(EngineOptions{
		DB:          db,
		Resolver:    resolver,
		ChatService: chatService,
		UserService: service.NewUserService(userRepo, store),
	})
	return &testApp{db: db, engine: engine, fake: fake, store: store}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *testApp) post(t *testing.T, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func (a *testApp) signIn(t *testing.T) identity.Session {
	t.Helper()
	w := a.post(t, "/api/v1/auth/anonymous", "")
	require.Equal(t, http.StatusOK, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var s identity.Session
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func TestAuthFlow_CookiesAndRotation(t *testing.T) {
	app := newTestApp(t)

	w := app.post(t, "/api/v1/auth/signup", `{"email":"Carol@Example.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 2)

	// 重复注册
	w = app.post(t, "/api/v1/auth/signup", `{"email":"carol@example.com","password":"secret1"}`)
	require.Equal(t, http.StatusConflict, w.Code)

	w = app.post(t, "/api/v1/auth/signin", `{"email":"carol@example.com","password":"wrong!!"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.post(t, "/api/v1/auth/signup", `{"email":"nope","password":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// 只带 refresh cookie 调用过程：解析器刷新会话并轮换 cookie
	var refresh *http.Cookie
	for _, c := range cookies {
		if c.Name == "sb-refresh-token" {
			refresh = c
		}
	}
	require.NotNil(t, refresh)
	req := httptest.NewRequest(http.MethodGet, "/api/trpc/user.me", nil)
	req.AddCookie(refresh)
	rec := httptest.NewRecorder()
	app.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"email":"carol@example.com"`)
	require.Len(t, rec.Result().Cookies(), 2)

	// 旧 refresh token 已轮换失效
	w = app.post(t, "/api/v1/auth/refresh", `{"refreshToken":"`+refresh.Value+`"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSignOutRevokesAccessToken(t *testing.T) {
	app := newTestApp(t)
	s := app.signIn(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/signout", nil)
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	w := httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/trpc/chat.listConversations", nil)
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	w = httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUploadAvatar(t *testing.T) {
	app := newTestApp(t)
	s := app.signIn(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="me.jpg"`)
	hdr.Set("Content-Type", "image/jpeg")
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, _ = part.Write([]byte("jpeg-bytes"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/v1/users/me/avatar", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	w := httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "https://objects.test/avatars/"+s.User.UserID)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/users/me/avatar", nil)
	w = httptest.NewRecorder()
	app.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStream(t *testing.T) {
	app := newTestApp(t)
	s := app.signIn(t)
	conv := testutil.SeedConversation(t, app.db, s.User.UserID, "")
	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/chat/stream?token=" + s.AccessToken
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(StreamRequest{ConversationID: conv.ID, Message: "hello"}))
	var chunks []string
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev StreamEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == "completion" {
			require.True(t, ev.Success)
			break
		}
		var chunk StreamChunk
		require.NoError(t, json.Unmarshal(data, &chunk))
		chunks = append(chunks, chunk.Chunk)
	}
	require.Equal(t, []string{"Hi", " there"}, chunks)

	require.NoError(t, conn.WriteJSON(StreamRequest{ConversationID: "bad", Message: "x"}))
	var ev StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "error", ev.Type)
	require.Equal(t, "NOT_FOUND", ev.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	require.NoError(t, conn.ReadJSON(&ev))
	require.Equal(t, "BAD_REQUEST", ev.Code)

	// 空消息与 chat.sendMessage 一样被接受
	require.NoError(t, conn.WriteJSON(StreamRequest{ConversationID: conv.ID, Message: ""}))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev = StreamEvent{}
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == "completion" {
			require.True(t, ev.Success)
			break
		}
	}

	var msgs []model.Message
	require.NoError(t, app.db.Order("created_at ASC").Find(&msgs, "conversation_id = ?", conv.ID).Error)
	require.Len(t, msgs, 4)
	require.Equal(t, "Hi there", msgs[1].Content)
	require.Equal(t, "", msgs[2].Content)
}

func TestStream_RejectsWithoutToken(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.engine)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.DialContext(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/chat/stream", nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateConversationProcedure_Title(t *testing.T) {
	app := newTestApp(t)
	s := app.signIn(t)
	access := &http.Cookie{Name: "sb-access-token", Value: s.AccessToken}

	cases := []struct {
		body string
		want string
	}{
		{`{}`, model.DefaultConversationTitle},
		{`{"title":""}`, ""},
		{`{"title":"  padded  "}`, "  padded  "},
	}
	for _, tc := range cases {
		w := app.post(t, "/api/trpc/chat.createConversation", tc.body, access)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var out struct {
			Result struct {
				Data model.Conversation `json:"data"`
			} `json:"result"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		require.Equal(t, tc.want, out.Result.Data.Title)
		require.Equal(t, s.User.UserID, out.Result.Data.UserID)
	}

	w := app.post(t, "/api/trpc/chat.createConversation", `{"title":"`+strings.Repeat("x", 256)+`"}`, access)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
