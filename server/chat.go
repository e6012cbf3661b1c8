package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jotlabs/memochat/chat/apperr"
	"github.com/jotlabs/memochat/llm"
	"github.com/jotlabs/memochat/store"
)

type messagePayload struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedTs int64  `json:"createdTs"`
	// Pending marks streamed content that is not persisted yet.
	Pending bool `json:"pending,omitempty"`
}

func messageToPayload(m *store.Message, pending bool) messagePayload {
	return messagePayload{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedTs: m.CreatedTs,
		Pending:   pending,
	}
}

// listMessages returns the session's reconciled timeline: the persisted
// messages merged with any in-flight streamed content for this session.
func (s *Server) listMessages(c echo.Context) error {
	sessionID := c.Param("id")
	if s.Registry.Get(sessionID) == nil {
		return writeError(c, apperr.Newf(apperr.KindValidation, "unknown session %q", sessionID))
	}

	persisted, err := s.Store.ListMessages(c.Request().Context(), sessionID)
	if err != nil {
		return writeError(c, err)
	}

	// The in-flight partial shares its id with the message it will persist
	// as, so the merge collapses the two once the commit lands.
	persistedIDs := make(map[string]struct{}, len(persisted))
	for _, m := range persisted {
		persistedIDs[m.ID] = struct{}{}
	}
	sources := [][]*store.Message{persisted}
	if partial := s.Engine.Partial(sessionID); partial != nil {
		sources = append(sources, []*store.Message{partial})
	}

	merged := s.Merger.Merge(sessionID, sources...)
	payloads := make([]messagePayload, 0, len(merged))
	for _, m := range merged {
		_, done := persistedIDs[m.ID]
		payloads = append(payloads, messageToPayload(m, !done))
	}
	return c.JSON(http.StatusOK, payloads)
}

// chat runs one turn and streams it back as server-sent events: a "user"
// event with the persisted user message, "delta" events with content
// fragments, then exactly one "done" or "error" event.
func (s *Server) chat(c echo.Context) error {
	var body struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&body); err != nil {
		return writeError(c, apperr.Validation("malformed request body"))
	}

	turn, err := s.Engine.Submit(c.Request().Context(), c.Param("id"), body.Text)
	if err != nil {
		return writeError(c, err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.WriteHeader(http.StatusOK)

	writeEvent(resp, "user", messageToPayload(turn.UserMsg, false))

	for delta := range turn.Deltas {
		writeEvent(resp, "delta", map[string]string{"content": delta})
	}

	result := <-turn.Result
	if result == nil {
		writeEvent(resp, "error", errorPayload{Error: "stream ended unexpectedly", Kind: "transport", Retryable: true})
		return nil
	}
	if result.Err != nil {
		payload := struct {
			errorPayload
			Partial string `json:"partial,omitempty"`
		}{}
		var appErr *apperr.Error
		if errors.As(result.Err, &appErr) {
			payload.errorPayload = errorPayload{Error: appErr.Message, Kind: appErr.Kind.String(), Retryable: appErr.Retryable()}
		} else {
			payload.errorPayload = errorPayload{Error: result.Err.Error(), Kind: "unknown"}
		}
		if result.Message != nil {
			payload.Partial = result.Message.Content
		}
		writeEvent(resp, "error", payload)
		return nil
	}

	writeEvent(resp, "done", struct {
		Message messagePayload `json:"message"`
		Stats   *llm.CallStats `json:"stats,omitempty"`
		Notice  string         `json:"notice,omitempty"`
	}{
		Message: messageToPayload(result.Message, false),
		Stats:   result.Stats,
		Notice:  result.Notice,
	})
	return nil
}

func writeEvent(resp *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data)
	resp.Flush()
}
