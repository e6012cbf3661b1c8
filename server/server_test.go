package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotlabs/memochat/chat/compose"
	"github.com/jotlabs/memochat/chat/models"
	"github.com/jotlabs/memochat/chat/registry"
	"github.com/jotlabs/memochat/chat/stream"
	"github.com/jotlabs/memochat/chat/timeline"
	"github.com/jotlabs/memochat/internal/profile"
	"github.com/jotlabs/memochat/llm"
	"github.com/jotlabs/memochat/memory"
	"github.com/jotlabs/memochat/metrics"
	"github.com/jotlabs/memochat/store"
)

type memDriver struct {
	mu       sync.Mutex
	sessions map[string]*store.ChatSession
	messages map[string]*store.Message
	memories map[string][]*store.MemoryEntry
}

func newMemDriver() *memDriver {
	return &memDriver{
		sessions: make(map[string]*store.ChatSession),
		messages: make(map[string]*store.Message),
		memories: make(map[string][]*store.MemoryEntry),
	}
}

func (m *memDriver) GetDB() *sql.DB                  { return nil }
func (m *memDriver) Migrate(_ context.Context) error { return nil }
func (m *memDriver) Close() error                    { return nil }

func (m *memDriver) UpsertChatSession(_ context.Context, session *store.ChatSession) (*store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	m.sessions[session.ID] = &copied
	return session, nil
}

func (m *memDriver) ListChatSessions(_ context.Context, find *store.FindChatSession) ([]*store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*store.ChatSession, 0)
	for _, session := range m.sessions {
		if find.ID != nil && session.ID != *find.ID {
			continue
		}
		copied := *session
		list = append(list, &copied)
	}
	return list, nil
}

func (m *memDriver) UpdateChatSession(_ context.Context, update *store.UpdateChatSession) (*store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[update.ID]
	if !ok {
		return nil, errors.Errorf("chat session %s not found", update.ID)
	}
	if update.Title != nil {
		session.Title = *update.Title
	}
	if update.ModelID != nil {
		session.ModelID = *update.ModelID
	}
	if update.UseMemories != nil {
		session.UseMemories = *update.UseMemories
	}
	if update.TitleRequested != nil {
		session.TitleRequested = *update.TitleRequested
	}
	if update.UpdatedTs != nil {
		session.UpdatedTs = *update.UpdatedTs
	}
	copied := *session
	return &copied, nil
}

func (m *memDriver) DeleteChatSession(_ context.Context, del *store.DeleteChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, message := range m.messages {
		if message.ChatID == del.ID {
			delete(m.messages, id)
		}
	}
	delete(m.sessions, del.ID)
	return nil
}

func (m *memDriver) UpsertMessage(_ context.Context, message *store.Message) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *message
	m.messages[message.ID] = &copied
	return message, nil
}

func (m *memDriver) ListMessages(_ context.Context, find *store.FindMessage) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*store.Message, 0)
	for _, message := range m.messages {
		if find.ChatID != nil && message.ChatID != *find.ChatID {
			continue
		}
		copied := *message
		list = append(list, &copied)
	}
	return list, nil
}

func (m *memDriver) ReplaceMemoryCache(_ context.Context, userID string, entries []*store.MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memories[userID] = entries
	return nil
}

func (m *memDriver) ListMemoryCache(_ context.Context, find *store.FindMemoryEntry) ([]*store.MemoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memories[find.UserID], nil
}

// scriptedService replays fixed deltas for the chat SSE test. An optional
// gate makes the stream wait mid-flight.
type scriptedService struct {
	deltas []string
	gate   chan struct{} // when non-nil, received before each delta
}

func (s *scriptedService) Chat(context.Context, []llm.Message) (string, *llm.CallStats, error) {
	return "title", &llm.CallStats{}, nil
}

func (s *scriptedService) ChatStream(ctx context.Context, _ []llm.Message) (<-chan string, <-chan *llm.CallStats, <-chan error) {
	contentChan := make(chan string)
	statsChan := make(chan *llm.CallStats, 1)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(statsChan)
		defer close(errChan)
		for _, delta := range s.deltas {
			if s.gate != nil {
				<-s.gate
			}
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				return
			}
		}
		statsChan <- &llm.CallStats{TotalTokens: 7}
	}()
	return contentChan, statsChan, errChan
}

func newTestServer(t *testing.T) (*Server, *memDriver) {
	t.Helper()
	driver := newMemDriver()
	chatStore := store.New(driver, nil)
	reg := registry.New(chatStore)
	require.NoError(t, reg.Bootstrap(context.Background()))

	prof := &profile.Profile{MemoryUserID: "u1", Version: "test"}
	catalog := models.Default()
	exporter := metrics.NewExporter()

	engine := stream.NewEngine(stream.Config{
		Store:    chatStore,
		Registry: reg,
		Composer: compose.New(catalog, prof, nil),
		Factory: func(_ *models.ModelConfig) (llm.Service, error) {
			return &scriptedService{deltas: []string{"Hel", "lo"}}, nil
		},
		Exporter: exporter,
		UserID:   prof.MemoryUserID,
	})

	s := &Server{
		echoServer: newEcho(),
		Profile:    prof,
		Store:      chatStore,
		Registry:   reg,
		Engine:     engine,
		Catalog:    catalog,
		Merger:     timeline.New(),
		Exporter:   exporter,
	}
	s.registerRoutes()
	return s, driver
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echoServer.ServeHTTP(rec, req)
	return rec
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sessions []sessionPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1, "bootstrap leaves exactly one session")
	assert.True(t, sessions[0].Active)
	assert.Equal(t, store.DefaultSessionTitle, sessions[0].Title)

	rec = doRequest(s, http.MethodPost, "/api/v1/sessions", `{"makeActive":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created sessionPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Active)

	rec = doRequest(s, http.MethodPatch, "/api/v1/sessions/"+created.ID, `{"useMemories":true,"title":"renamed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated sessionPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.True(t, updated.UseMemories)
	assert.Equal(t, "renamed", updated.Title)

	rec = doRequest(s, http.MethodDelete, "/api/v1/sessions/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotEqual(t, created.ID, s.Registry.ActiveID(), "deleting the active session hands over")
}

func TestUpdateSessionRejectsUnknownModel(t *testing.T) {
	s, _ := newTestServer(t)
	id := s.Registry.ActiveID()

	rec := doRequest(s, http.MethodPatch, "/api/v1/sessions/"+id, `{"modelId":"acme/imaginary"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, s.Registry.Get(id).ModelID, "a bad model id must not be stored")
}

func TestListMessagesUnknownSession(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/sessions/ghost/messages", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatStreamsSSE(t *testing.T) {
	s, driver := newTestServer(t)
	id := s.Registry.ActiveID()

	rec := doRequest(s, http.MethodPost, "/api/v1/sessions/"+id+"/chat", `{"text":"hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	body := rec.Body.String()
	assert.Contains(t, body, "event: user")
	assert.Contains(t, body, "event: delta")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, "Hel")

	rec = doRequest(s, http.MethodGet, "/api/v1/sessions/"+id+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payloads []messagePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payloads))
	require.Len(t, payloads, 2)
	assert.Equal(t, "user", payloads[0].Role)
	assert.Equal(t, "hi", payloads[0].Content)
	assert.Equal(t, "assistant", payloads[1].Role)
	assert.Equal(t, "Hello", payloads[1].Content)

	driver.mu.Lock()
	assert.Len(t, driver.messages, 2)
	driver.mu.Unlock()
}

func TestListMessagesReconcilesPendingStream(t *testing.T) {
	s, _ := newTestServer(t)
	id := s.Registry.ActiveID()

	gate := make(chan struct{})
	svc := &scriptedService{deltas: []string{"Hel", "lo"}, gate: gate}
	s.Engine = stream.NewEngine(stream.Config{
		Store:    s.Store,
		Registry: s.Registry,
		Composer: compose.New(s.Catalog, s.Profile, nil),
		Factory: func(_ *models.ModelConfig) (llm.Service, error) {
			return svc, nil
		},
		UserID: s.Profile.MemoryUserID,
	})

	turn, err := s.Engine.Submit(context.Background(), id, "hi")
	require.NoError(t, err)

	gate <- struct{}{}
	<-turn.Deltas

	rec := doRequest(s, http.MethodGet, "/api/v1/sessions/"+id+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payloads []messagePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payloads))
	require.Len(t, payloads, 2)
	assert.True(t, payloads[1].Pending)
	assert.Equal(t, "Hel", payloads[1].Content)
	pendingID := payloads[1].ID

	gate <- struct{}{}
	for range turn.Deltas {
	}
	result := <-turn.Result
	require.NoError(t, result.Err)

	// The persisted message reconciles with the pending one it replaced;
	// the id the client rendered never changes and nothing duplicates.
	rec = doRequest(s, http.MethodGet, "/api/v1/sessions/"+id+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	payloads = nil // a fresh decode; Unmarshal would merge into retained elements
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payloads))
	require.Len(t, payloads, 2)
	assert.Equal(t, pendingID, payloads[1].ID)
	assert.False(t, payloads[1].Pending)
	assert.Equal(t, "Hello", payloads[1].Content)
}

func TestChatRejectsEmptyText(t *testing.T) {
	s, _ := newTestServer(t)
	id := s.Registry.ActiveID()

	rec := doRequest(s, http.MethodPost, "/api/v1/sessions/"+id+"/chat", `{"text":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListModels(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/api/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payloads []modelPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payloads))
	require.NotEmpty(t, payloads)

	defaults := 0
	for _, p := range payloads {
		if p.Default {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults, "exactly one chat default is advertised")
}

func TestMemoriesDisabled(t *testing.T) {
	s, _ := newTestServer(t)

	// Listing with memories disabled is not an error; the set is empty.
	rec := doRequest(s, http.MethodGet, "/api/v1/memories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Memories []memoryPayload `json:"memories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Memories)

	// Mutations still require the collaborator.
	rec = doRequest(s, http.MethodPost, "/api/v1/memories", `{"content":"likes tea"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(s, http.MethodDelete, "/api/v1/memories/m1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeMemoryService struct {
	memories []memory.Memory
	listErr  error
}

func (f *fakeMemoryService) Search(_ context.Context, _, _ string, limit int) ([]memory.Memory, error) {
	if limit < len(f.memories) {
		return f.memories[:limit], nil
	}
	return f.memories, nil
}

func (f *fakeMemoryService) Add(context.Context, string, []memory.MessageInput) error { return nil }
func (f *fakeMemoryService) Delete(_ context.Context, _, id string) error {
	for i, m := range f.memories {
		if m.ID == id {
			f.memories = append(f.memories[:i], f.memories[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeMemoryService) ListAll(context.Context, string) ([]memory.Memory, error) {
	return f.memories, f.listErr
}

func withMemories(s *Server, service memory.Service) {
	s.memories = service
	s.Syncer = memory.NewSyncer(service, s.Store)
}

func TestMemoryEndpoints(t *testing.T) {
	s, driver := newTestServer(t)
	fake := &fakeMemoryService{memories: []memory.Memory{
		{ID: "m1", Text: "likes espresso"},
		{ID: "m2", Text: "works remote"},
	}}
	withMemories(s, fake)

	rec := doRequest(s, http.MethodGet, "/api/v1/memories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "likes espresso")

	rec = doRequest(s, http.MethodPost, "/api/v1/memories/search", `{"query":"espresso","limit":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "m1")
	assert.NotContains(t, rec.Body.String(), "m2")

	rec = doRequest(s, http.MethodDelete, "/api/v1/memories/m1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The delete refreshed the cache snapshot.
	driver.mu.Lock()
	cached := driver.memories["u1"]
	driver.mu.Unlock()
	require.Len(t, cached, 1)
	assert.Equal(t, "m2", cached[0].ID)
}

func TestListMemoriesFallsBackToCache(t *testing.T) {
	s, driver := newTestServer(t)
	driver.memories["u1"] = []*store.MemoryEntry{{ID: "cached", UserID: "u1", Text: "from cache"}}
	withMemories(s, &fakeMemoryService{listErr: errors.New("remote down")})

	rec := doRequest(s, http.MethodGet, "/api/v1/memories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "from cache")
	assert.Contains(t, rec.Body.String(), `"stale":true`)
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}
