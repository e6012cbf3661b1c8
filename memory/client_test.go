package memory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotlabs/memochat/chat/apperr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key", RequestsPerSecond: 1000})
}

func TestSearchDecodesWrappedShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/memories/search/", r.URL.Path)
		assert.Equal(t, "Token test-key", r.Header.Get("Authorization"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "u1", payload["user_id"])
		assert.Equal(t, "coffee", payload["query"])

		_, _ = w.Write([]byte(`{"results":[{"id":"m1","memory":"likes espresso"},{"id":"m2","memory":"works remote"}]}`))
	})

	memories, err := client.Search(context.Background(), "u1", "coffee", 3)
	require.NoError(t, err)
	require.Len(t, memories, 2)
	assert.Equal(t, "likes espresso", memories[0].Text)
}

func TestSearchDecodesBareArrayShape(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"m1","memory":"likes espresso"}]`))
	})

	memories, err := client.Search(context.Background(), "u1", "coffee", 3)
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, "m1", memories[0].ID)
}

func TestSearchClampsToLimit(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a"},{"id":"b"},{"id":"c"},{"id":"d"}]`))
	})

	memories, err := client.Search(context.Background(), "u1", "q", 3)
	require.NoError(t, err)
	assert.Len(t, memories, 3)
}

func TestSearchFailureIsMemoryKind(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.Search(context.Background(), "u1", "q", 3)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindMemory))

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.False(t, appErr.Retryable(), "memory failures degrade instead of retrying")
}

func TestDeleteHitsMemoryPath(t *testing.T) {
	var gotPath, gotMethod string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.Delete(context.Background(), "u1", "mem-42"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/v1/memories/mem-42/", gotPath)
}

func TestAddRequiresMessages(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://unused"})

	err := client.Add(context.Background(), "u1", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestOperationsRequireUser(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://unused"})
	ctx := context.Background()

	_, err := client.Search(ctx, "", "q", 3)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = client.ListAll(ctx, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	err = client.Delete(ctx, "", "m1")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestListAllScopesQueryToUser(t *testing.T) {
	var gotUser string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.URL.Query().Get("user_id")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.ListAll(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", gotUser)
}
