// Package stream drives one chat turn end to end: persist the user message,
// compose the request, consume the delta stream, and commit the finalized
// assistant message exactly once.
package stream

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jotlabs/memochat/chat/apperr"
	"github.com/jotlabs/memochat/chat/compose"
	"github.com/jotlabs/memochat/chat/models"
	"github.com/jotlabs/memochat/chat/registry"
	"github.com/jotlabs/memochat/chat/title"
	"github.com/jotlabs/memochat/llm"
	"github.com/jotlabs/memochat/metrics"
	"github.com/jotlabs/memochat/store"
)

// Phase is the engine's position in the turn lifecycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseStreaming
	PhaseCompleting
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseStreaming:
		return "streaming"
	case PhaseCompleting:
		return "completing"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// ServiceFactory builds an llm.Service for a resolved model. Injected so the
// provider client construction stays out of the turn logic.
type ServiceFactory func(model *models.ModelConfig) (llm.Service, error)

// TurnResult is the terminal outcome of one turn.
type TurnResult struct {
	// Message is the assistant message. Persisted on success; on a failed
	// turn it carries whatever partial content arrived and is not
	// persisted.
	Message *store.Message

	// Stats carries token usage and timing when the stream finished
	// cleanly.
	Stats *llm.CallStats

	// Notice is a degradation note from composition, usually about
	// memories.
	Notice string

	Err error
}

// Turn is a handle on an in-flight chat turn.
type Turn struct {
	SessionID string
	UserMsg   *store.Message

	// Deltas streams assistant content fragments in arrival order. Closed
	// when the stream is over.
	Deltas <-chan string

	// Result delivers exactly one TurnResult, then closes.
	Result <-chan *TurnResult
}

// maxTitleTasks bounds concurrent background title generations.
const maxTitleTasks = 2

// Engine runs at most one live turn at a time. A turn abandoned by its
// caller keeps consuming in the background and still persists to its own
// session; it is never attributed to another session's timeline.
type Engine struct {
	store    *store.Store
	registry *registry.Registry
	composer *compose.Composer
	factory  ServiceFactory
	titles   *title.Generator  // nil disables title generation
	exporter *metrics.Exporter // nil disables metrics
	userID   string

	titleSem *semaphore.Weighted

	mu      sync.Mutex
	phase   Phase
	partial *store.Message // transient assistant message of the live turn
}

// Config wires the engine's collaborators.
type Config struct {
	Store    *store.Store
	Registry *registry.Registry
	Composer *compose.Composer
	Factory  ServiceFactory
	Titles   *title.Generator
	Exporter *metrics.Exporter
	UserID   string
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		store:    cfg.Store,
		registry: cfg.Registry,
		composer: cfg.Composer,
		factory:  cfg.Factory,
		titles:   cfg.Titles,
		exporter: cfg.Exporter,
		userID:   cfg.UserID,
		titleSem: semaphore.NewWeighted(maxTitleTasks),
		phase:    PhaseIdle,
	}
}

// Phase returns the engine's current phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Partial returns the in-flight or error-retained assistant message for the
// session, or nil. The returned copy lets the caller show streamed content
// that is not yet, or never will be, persisted.
func (e *Engine) Partial(sessionID string) *store.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.partial == nil || e.partial.ChatID != sessionID || e.partial.Content == "" {
		return nil
	}
	copied := *e.partial
	return &copied
}

// Submit starts a turn for the session. The synchronous part persists the
// user message and composes the request; everything upstream runs in a
// goroutine behind the returned Turn. ctx governs delta delivery only: when
// it ends, the stream detaches from the caller but runs to completion and
// persists in the background.
func (e *Engine) Submit(ctx context.Context, sessionID, text string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation("message text is required")
	}
	session := e.registry.Get(sessionID)
	if session == nil {
		return nil, apperr.Newf(apperr.KindValidation, "unknown session %q", sessionID)
	}

	e.mu.Lock()
	if e.phase != PhaseIdle && e.phase != PhaseErrored {
		phase := e.phase
		e.mu.Unlock()
		return nil, apperr.Newf(apperr.KindValidation, "a turn is already in flight (%s)", phase)
	}
	e.phase = PhaseSending
	e.partial = nil
	e.mu.Unlock()

	userMsg := &store.Message{
		ID:        uuid.NewString(),
		ChatID:    sessionID,
		Role:      store.RoleUser,
		Content:   text,
		CreatedTs: time.Now().UnixMilli(),
	}
	if _, err := e.store.PutMessage(ctx, userMsg); err != nil {
		e.setPhase(PhaseErrored)
		e.recordError(err)
		return nil, err
	}
	// Bubble the session in the recency ordering before anything async.
	if _, err := e.registry.UpdateSession(ctx, &store.UpdateChatSession{ID: sessionID}); err != nil {
		slog.Warn("failed to refresh session recency", "chat_id", sessionID, "error", err)
	}

	e.maybeGenerateTitle(sessionID, text)

	// The persisted write above must be visible to this read.
	timeline, err := e.store.ListMessages(ctx, sessionID)
	if err != nil {
		e.setPhase(PhaseErrored)
		e.recordError(err)
		return nil, err
	}

	request, err := e.composer.Compose(ctx, session, timeline, e.userID)
	if err != nil {
		e.setPhase(PhaseErrored)
		e.recordError(err)
		return nil, err
	}
	e.exporter.RecordMemoriesInjected(request.MemoriesUsed)

	service, err := e.factory(request.Model)
	if err != nil {
		e.setPhase(PhaseErrored)
		e.recordError(err)
		return nil, err
	}

	e.mu.Lock()
	e.partial = &store.Message{
		ID:     uuid.NewString(),
		ChatID: sessionID,
		Role:   store.RoleAssistant,
	}
	e.mu.Unlock()

	deltas := make(chan string, 64)
	result := make(chan *TurnResult, 1)
	turn := &Turn{SessionID: sessionID, UserMsg: userMsg, Deltas: deltas, Result: result}

	e.exporter.RecordTurnStart(request.Model.ID)
	go e.consume(ctx, service, request, sessionID, deltas, result)

	return turn, nil
}

// consume runs the stream to completion. deliveryCtx only gates forwarding
// to the caller; the model call itself is detached from it.
func (e *Engine) consume(deliveryCtx context.Context, service llm.Service, request *compose.Request, sessionID string, deltas chan<- string, result chan<- *TurnResult) {
	defer close(deltas)
	defer close(result)

	streamCtx := context.WithoutCancel(deliveryCtx)
	startTime := time.Now()

	contentChan, statsChan, errChan := service.ChatStream(streamCtx, request.Messages)

	var content strings.Builder
	var stats *llm.CallStats
	var streamErr error
	detached := false

	for contentChan != nil || statsChan != nil || errChan != nil {
		select {
		case delta, ok := <-contentChan:
			if !ok {
				contentChan = nil
				continue
			}
			e.mu.Lock()
			if e.phase == PhaseSending {
				e.phase = PhaseStreaming
			}
			content.WriteString(delta)
			e.partial.Content = content.String()
			e.mu.Unlock()

			if !detached {
				select {
				case deltas <- delta:
				case <-deliveryCtx.Done():
					detached = true
					slog.Info("caller detached, stream continues in background", "chat_id", sessionID)
				}
			}

		case s, ok := <-statsChan:
			if !ok {
				statsChan = nil
				continue
			}
			stats = s

		case err, ok := <-errChan:
			if !ok {
				errChan = nil
				continue
			}
			streamErr = err
		}
	}

	if streamErr != nil {
		e.failTurn(sessionID, streamErr, content.String(), request.Notice, result)
		return
	}

	e.setPhase(PhaseCompleting)

	// The finalized message keeps the transient message's id, so a caller
	// that already rendered the partial reconciles it with the persisted
	// copy instead of seeing a duplicate.
	e.mu.Lock()
	final := *e.partial
	e.mu.Unlock()
	final.Content = content.String()
	final.CreatedTs = time.Now().UnixMilli()
	if _, err := e.store.PutMessage(streamCtx, &final); err != nil {
		e.failTurn(sessionID, err, content.String(), request.Notice, result)
		return
	}

	e.mu.Lock()
	e.phase = PhaseIdle
	e.partial = nil
	e.mu.Unlock()

	var firstDelta time.Duration
	if stats != nil {
		firstDelta = time.Duration(stats.ThinkingDurationMs) * time.Millisecond
	}
	promptTokens, completionTokens := tokensOf(stats)
	e.exporter.RecordTurnComplete(request.Model.ID, time.Since(startTime), firstDelta, promptTokens, completionTokens)

	result <- &TurnResult{Message: &final, Stats: stats, Notice: request.Notice}
}

// failTurn moves the engine to Errored and delivers the failure. The partial
// content already shown stays retrievable through Partial until the next
// submit, so the caller never loses output it has already seen.
func (e *Engine) failTurn(sessionID string, err error, partialContent, notice string, result chan<- *TurnResult) {
	e.setPhase(PhaseErrored)
	e.recordError(err)
	slog.Error("chat turn failed", "chat_id", sessionID, "error", err, "partial_len", len(partialContent))

	var partial *store.Message
	e.mu.Lock()
	if e.partial != nil && partialContent != "" {
		copied := *e.partial
		partial = &copied
	}
	e.mu.Unlock()

	result <- &TurnResult{Message: partial, Notice: notice, Err: err}
}

// maybeGenerateTitle fires the once-per-session background title task when
// the session still has the default title.
func (e *Engine) maybeGenerateTitle(sessionID, userText string) {
	if e.titles == nil {
		return
	}

	won, err := e.registry.MarkTitleRequested(context.Background(), sessionID)
	if err != nil {
		slog.Warn("failed to mark title requested", "chat_id", sessionID, "error", err)
		return
	}
	if !won {
		return
	}

	go func() {
		ctx := context.Background()
		if err := e.titleSem.Acquire(ctx, 1); err != nil {
			return
		}
		defer e.titleSem.Release(1)

		generated, err := e.titles.Generate(ctx, userText, "")
		if err != nil {
			// Never escalated: the session keeps its default title.
			slog.Warn("title generation failed", "chat_id", sessionID, "error", err)
			return
		}
		if err := e.registry.ApplyGeneratedTitle(ctx, sessionID, generated); err != nil {
			slog.Warn("failed to apply generated title", "chat_id", sessionID, "error", err)
			return
		}
		if generated != "" {
			e.exporter.RecordTitleGenerated()
		}
	}()
}

func (e *Engine) setPhase(phase Phase) {
	e.mu.Lock()
	e.phase = phase
	e.mu.Unlock()
}

func (e *Engine) recordError(err error) {
	kind, _ := apperr.KindOf(err)
	e.exporter.RecordTurnError(kind.String())
}

func tokensOf(stats *llm.CallStats) (prompt, completion int) {
	if stats == nil {
		return 0, 0
	}
	return stats.PromptTokens, stats.CompletionTokens
}
