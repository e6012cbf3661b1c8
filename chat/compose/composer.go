// Package compose builds the outgoing model request for a chat turn: model
// resolution, memory injection, and system prompt assembly. Composition is a
// pure transformation; nothing here persists state or opens a stream.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jotlabs/memochat/chat/models"
	"github.com/jotlabs/memochat/internal/profile"
	"github.com/jotlabs/memochat/llm"
	"github.com/jotlabs/memochat/memory"
	"github.com/jotlabs/memochat/store"
)

// memorySearchLimit caps how many memories are injected per turn.
const memorySearchLimit = 3

const baseInstruction = `You are a helpful assistant. Answer the user's
messages directly and concisely.`

// MemoryUnavailableNotice is surfaced to callers when memory retrieval
// failed and the request was sent without memories.
const MemoryUnavailableNotice = "memories unavailable"

// Request is the fully composed model request for one chat turn.
type Request struct {
	// Model is the resolved model configuration.
	Model *models.ModelConfig

	// Messages is the outgoing conversation: the assembled system message
	// at index zero, then the persisted timeline in order. The system
	// message exists only here; it is never written to the store.
	Messages []llm.Message

	// MemoriesUsed counts the memories injected into the system prompt.
	MemoriesUsed int

	// Notice carries a user-facing degradation note, empty when the
	// request composed cleanly.
	Notice string
}

// Composer assembles requests from session state, the persisted timeline,
// and the memory service.
type Composer struct {
	catalog  *models.Catalog
	profile  *profile.Profile
	memories memory.Service
}

// New creates a Composer. The memory service may be nil when the deployment
// has no memory collaborator configured.
func New(catalog *models.Catalog, prof *profile.Profile, memories memory.Service) *Composer {
	return &Composer{catalog: catalog, profile: prof, memories: memories}
}

// Compose builds the request for one turn. The timeline must already contain
// the user message being answered. A model resolution failure blocks the
// send; a memory failure never does.
func (c *Composer) Compose(ctx context.Context, session *store.ChatSession, timeline []*store.Message, userID string) (*Request, error) {
	model, err := c.resolveModel(session)
	if err != nil {
		return nil, err
	}

	var injected []memory.Memory
	var notice string
	if c.memoryActive(session, userID) {
		injected, notice = c.searchMemories(ctx, userID, timeline)
	}

	messages := make([]llm.Message, 0, len(timeline)+1)
	messages = append(messages, llm.SystemPrompt(buildSystemPrompt(baseInstructionFor(timeline), injected, notice)))
	for _, m := range timeline {
		if m.Role == store.RoleSystem {
			// Folded into the rebuilt system prompt above; never sent twice.
			continue
		}
		messages = append(messages, llm.Message{Role: string(m.Role), Content: m.Content})
	}

	return &Request{
		Model:        model,
		Messages:     messages,
		MemoriesUsed: len(injected),
		Notice:       notice,
	}, nil
}

// resolveModel walks the override chain: session override, then the global
// default, then the catalog default. Each configured link must resolve; a
// dangling id is an error rather than a silent hop to the next link.
func (c *Composer) resolveModel(session *store.ChatSession) (*models.ModelConfig, error) {
	if session.ModelID != "" {
		return c.catalog.ByID(session.ModelID)
	}
	if c.profile != nil && c.profile.ChatModelID != "" {
		return c.catalog.ByID(c.profile.ChatModelID)
	}
	return c.catalog.DefaultFor(models.UsageChat)
}

// memoryActive applies the dominance rule: the global toggle gates the
// per-session flag, and without a user id there is no memory scope to
// search.
func (c *Composer) memoryActive(session *store.ChatSession, userID string) bool {
	if c.memories == nil || c.profile == nil || !c.profile.IsMemoryEnabled() {
		return false
	}
	return session.UseMemories && userID != ""
}

// searchMemories queries for memories relevant to the latest user message.
// Failures degrade to an empty injection with a notice.
func (c *Composer) searchMemories(ctx context.Context, userID string, timeline []*store.Message) ([]memory.Memory, string) {
	query := latestUserContent(timeline)
	if query == "" {
		return nil, ""
	}

	found, err := c.memories.Search(ctx, userID, query, memorySearchLimit)
	if err != nil {
		slog.Warn("memory search failed, composing without memories", "user_id", userID, "error", err)
		return nil, MemoryUnavailableNotice
	}
	return found, ""
}

func latestUserContent(timeline []*store.Message) string {
	for i := len(timeline) - 1; i >= 0; i-- {
		if timeline[i].Role == store.RoleUser {
			return timeline[i].Content
		}
	}
	return ""
}

// baseInstructionFor picks the base instruction for the turn. A system
// message already present in the session's timeline keeps its content as the
// base; the per-turn blocks are appended to it, never substituted for it.
func baseInstructionFor(timeline []*store.Message) string {
	for _, m := range timeline {
		if m.Role == store.RoleSystem && m.Content != "" {
			return m.Content
		}
	}
	return baseInstruction
}

// buildSystemPrompt assembles the per-turn system message: the base
// instruction, the memory block when memories were found, a degradation
// notice when retrieval failed, and the conversation delimiter.
func buildSystemPrompt(base string, memories []memory.Memory, notice string) string {
	var b strings.Builder
	b.WriteString(base)

	if len(memories) > 0 {
		b.WriteString("\n\nRelevant User Memories:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- %s\n", m.Text)
		}
	}
	if notice != "" {
		fmt.Fprintf(&b, "\n\n(%s)\n", notice)
	}

	b.WriteString("\nCurrent Conversation:")
	return b.String()
}
