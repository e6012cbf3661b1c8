package compose

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jotlabs/memochat/chat/apperr"
	"github.com/jotlabs/memochat/chat/models"
	"github.com/jotlabs/memochat/internal/profile"
	"github.com/jotlabs/memochat/memory"
	"github.com/jotlabs/memochat/store"
)

type fakeMemories struct {
	results []memory.Memory
	err     error

	lastQuery string
	lastLimit int
	calls     int
}

func (f *fakeMemories) Search(_ context.Context, _, query string, limit int) ([]memory.Memory, error) {
	f.calls++
	f.lastQuery = query
	f.lastLimit = limit
	return f.results, f.err
}

func (f *fakeMemories) Add(context.Context, string, []memory.MessageInput) error { return nil }
func (f *fakeMemories) Delete(context.Context, string, string) error             { return nil }
func (f *fakeMemories) ListAll(context.Context, string) ([]memory.Memory, error) { return nil, nil }

func memoryProfile() *profile.Profile {
	return &profile.Profile{MemoriesEnabled: true, MemoryAPIKey: "k"}
}

func timeline(contents ...string) []*store.Message {
	messages := make([]*store.Message, 0, len(contents))
	for i, content := range contents {
		role := store.RoleUser
		if i%2 == 1 {
			role = store.RoleAssistant
		}
		messages = append(messages, &store.Message{
			ID: string(rune('a' + i)), ChatID: "c1", Role: role, Content: content, CreatedTs: int64(i + 1),
		})
	}
	return messages
}

func TestComposeUsesSessionModelOverride(t *testing.T) {
	composer := New(models.Default(), memoryProfile(), nil)
	session := &store.ChatSession{ID: "c1", ModelID: "openrouter/llama-3.3-70b-instruct"}

	req, err := composer.Compose(context.Background(), session, timeline("hi"), "u1")
	require.NoError(t, err)
	assert.Equal(t, "openrouter/llama-3.3-70b-instruct", req.Model.ID)
}

func TestComposeUnknownSessionModelBlocksSend(t *testing.T) {
	composer := New(models.Default(), memoryProfile(), nil)
	session := &store.ChatSession{ID: "c1", ModelID: "acme/imaginary"}

	_, err := composer.Compose(context.Background(), session, timeline("hi"), "u1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConfiguration))
}

func TestComposeFallsThroughToGlobalDefault(t *testing.T) {
	prof := memoryProfile()
	prof.ChatModelID = "google/gemini-1.5-pro"
	composer := New(models.Default(), prof, nil)

	req, err := composer.Compose(context.Background(), &store.ChatSession{ID: "c1"}, timeline("hi"), "u1")
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-1.5-pro", req.Model.ID)
}

func TestComposeFallsThroughToCatalogDefault(t *testing.T) {
	composer := New(models.Default(), memoryProfile(), nil)

	req, err := composer.Compose(context.Background(), &store.ChatSession{ID: "c1"}, timeline("hi"), "u1")
	require.NoError(t, err)
	assert.Equal(t, "google/gemini-1.5-flash", req.Model.ID)
}

func TestComposeInjectsMemories(t *testing.T) {
	memories := &fakeMemories{results: []memory.Memory{
		{ID: "m1", Text: "likes espresso"},
		{ID: "m2", Text: "lives in Lisbon"},
	}}
	composer := New(models.Default(), memoryProfile(), memories)
	session := &store.ChatSession{ID: "c1", UseMemories: true}

	req, err := composer.Compose(context.Background(), session, timeline("where should I get coffee?"), "u1")
	require.NoError(t, err)

	assert.Equal(t, 2, req.MemoriesUsed)
	assert.Empty(t, req.Notice)
	assert.Equal(t, "where should I get coffee?", memories.lastQuery)
	assert.Equal(t, memorySearchLimit, memories.lastLimit)

	system := req.Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.Contains(t, system.Content, "Relevant User Memories:")
	assert.Contains(t, system.Content, "- likes espresso")
	assert.Contains(t, system.Content, "- lives in Lisbon")
	assert.Contains(t, system.Content, "Current Conversation:")
}

func TestComposeMemoryQueryIsLatestUserMessage(t *testing.T) {
	memories := &fakeMemories{}
	composer := New(models.Default(), memoryProfile(), memories)
	session := &store.ChatSession{ID: "c1", UseMemories: true}

	_, err := composer.Compose(context.Background(), session,
		timeline("first question", "first answer", "second question"), "u1")
	require.NoError(t, err)
	assert.Equal(t, "second question", memories.lastQuery)
}

func TestComposeMemoryFailureDegrades(t *testing.T) {
	memories := &fakeMemories{err: apperr.New(apperr.KindMemory, "down")}
	composer := New(models.Default(), memoryProfile(), memories)
	session := &store.ChatSession{ID: "c1", UseMemories: true}

	req, err := composer.Compose(context.Background(), session, timeline("hi"), "u1")
	require.NoError(t, err, "a memory failure must not block the send")

	assert.Zero(t, req.MemoriesUsed)
	assert.Equal(t, MemoryUnavailableNotice, req.Notice)
	assert.NotContains(t, req.Messages[0].Content, "Relevant User Memories")
	assert.Contains(t, req.Messages[0].Content, MemoryUnavailableNotice,
		"the degradation must be visible in the system prompt itself")
}

func TestComposeMemoryGates(t *testing.T) {
	tests := []struct {
		name       string
		prof       *profile.Profile
		session    *store.ChatSession
		userID     string
		wantSearch bool
	}{
		{"all enabled", memoryProfile(), &store.ChatSession{ID: "c1", UseMemories: true}, "u1", true},
		{"global off", &profile.Profile{MemoriesEnabled: false, MemoryAPIKey: "k"}, &store.ChatSession{ID: "c1", UseMemories: true}, "u1", false},
		{"no api key", &profile.Profile{MemoriesEnabled: true}, &store.ChatSession{ID: "c1", UseMemories: true}, "u1", false},
		{"session off", memoryProfile(), &store.ChatSession{ID: "c1", UseMemories: false}, "u1", false},
		{"no user", memoryProfile(), &store.ChatSession{ID: "c1", UseMemories: true}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			memories := &fakeMemories{}
			composer := New(models.Default(), tt.prof, memories)

			_, err := composer.Compose(context.Background(), tt.session, timeline("hi"), tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSearch, memories.calls > 0)
		})
	}
}

func TestComposeKeepsPersistedSystemInstruction(t *testing.T) {
	memories := &fakeMemories{results: []memory.Memory{{ID: "m1", Text: "prefers rum"}}}
	composer := New(models.Default(), memoryProfile(), memories)
	persisted := []*store.Message{
		{ID: "s0", ChatID: "c1", Role: store.RoleSystem, Content: "You are a pirate assistant.", CreatedTs: 1},
		{ID: "m1", ChatID: "c1", Role: store.RoleUser, Content: "hi", CreatedTs: 2},
	}
	session := &store.ChatSession{ID: "c1", UseMemories: true}

	req, err := composer.Compose(context.Background(), session, persisted, "u1")
	require.NoError(t, err)

	// The persisted instruction stays the base; the per-turn blocks are
	// appended to it, and the raw system row is not sent a second time.
	require.Len(t, req.Messages, 2)
	system := req.Messages[0]
	assert.Equal(t, "system", system.Role)
	assert.True(t, strings.HasPrefix(system.Content, "You are a pirate assistant."))
	assert.Contains(t, system.Content, "- prefers rum")
	assert.Contains(t, system.Content, "Current Conversation:")
	assert.Equal(t, "hi", req.Messages[1].Content)
}

func TestComposePreservesTimelineOrder(t *testing.T) {
	composer := New(models.Default(), memoryProfile(), nil)

	req, err := composer.Compose(context.Background(), &store.ChatSession{ID: "c1"},
		timeline("q1", "a1", "q2"), "u1")
	require.NoError(t, err)

	require.Len(t, req.Messages, 4)
	assert.Equal(t, "q1", req.Messages[1].Content)
	assert.Equal(t, "a1", req.Messages[2].Content)
	assert.Equal(t, "q2", req.Messages[3].Content)
}
