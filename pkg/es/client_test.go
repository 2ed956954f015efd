package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ai-chat-go/internal/config"
	"ai-chat-go/internal/model"

	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	body   string
}

func newTestIndex(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*MessageIndex, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{method: r.Method, path: r.URL.Path, body: string(body)})
		// 客户端会校验产品头
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	idx, err := NewMessageIndex(config.ElasticsearchConfig{Addresses: srv.URL, IndexName: "chat_messages"}, http.DefaultTransport)
	require.NoError(t, err)
	return idx, &calls
}

func TestEnsureIndex_CreatesMissingIndex(t *testing.T) {
	idx, calls := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"acknowledged":true}`))
	})

	require.NoError(t, idx.EnsureIndex(context.Background()))
	require.Len(t, *calls, 2)
	require.Equal(t, http.MethodPut, (*calls)[1].method)
	require.Equal(t, "/chat_messages", (*calls)[1].path)
	require.Contains(t, (*calls)[1].body, `"user_id": { "type": "keyword" }`)
}

func TestIndex_UsesMessageIDAsDocumentID(t *testing.T) {
	idx, calls := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	})

	err := idx.Index(context.Background(), model.EsMessageDocument{MessageID: "m1", UserID: "u1", Content: "hi", CreatedAt: time.Now()})
	require.NoError(t, err)
	require.Equal(t, "/chat_messages/_doc/m1", (*calls)[0].path)
}

func TestSearch_FiltersByUser(t *testing.T) {
	idx, calls := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"hits":[{"_score":2.5,"_source":{"message_id":"m1","conversation_id":"c1","user_id":"u1","role":"user","content":"golang generics","created_at":"2024-01-01T00:00:00Z"}}]}}`))
	})

	hits, err := idx.Search(context.Background(), "u1", "generics", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "m1", hits[0].Document.MessageID)
	require.Equal(t, 2.5, hits[0].Score)

	require.True(t, strings.HasSuffix((*calls)[0].path, "/_search"))
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte((*calls)[0].body), &body))
	filter := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)
	require.Equal(t, map[string]any{"term": map[string]any{"user_id": "u1"}}, filter[0])
	require.EqualValues(t, 5, body["size"])
}

func TestSearch_ErrorStatus(t *testing.T) {
	idx, _ := newTestIndex(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"boom"}`))
	})
	_, err := idx.Search(context.Background(), "u1", "x", 5)
	require.Error(t, err)
}
