package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jotlabs/memochat/chat/apperr"
	"github.com/jotlabs/memochat/memory"
)

type memoryPayload struct {
	ID        string  `json:"id"`
	Text      string  `json:"text"`
	CreatedTs int64   `json:"createdTs"`
	Score     float64 `json:"score,omitempty"`
}

func memoryToPayload(m memory.Memory) memoryPayload {
	return memoryPayload{
		ID:        m.ID,
		Text:      m.Text,
		CreatedTs: m.CreatedAt.UnixMilli(),
		Score:     m.Score,
	}
}

func (s *Server) requireMemories(c echo.Context) error {
	if s.memories == nil {
		return writeError(c, apperr.New(apperr.KindConfiguration, "memory collaborator is not configured"))
	}
	return nil
}

// listMemories serves the remote set when reachable and falls back to the
// local cache snapshot when the collaborator is down. With memories globally
// disabled the list is simply empty; only the mutating routes treat a missing
// collaborator as a configuration error.
func (s *Server) listMemories(c echo.Context) error {
	if s.memories == nil {
		return c.JSON(http.StatusOK, map[string]any{"memories": []memoryPayload{}})
	}
	ctx := c.Request().Context()
	userID := s.Profile.MemoryUserID

	memories, err := s.memories.ListAll(ctx, userID)
	if err != nil {
		cached, cacheErr := s.Store.ListMemoryCache(ctx, userID)
		if cacheErr != nil {
			return writeError(c, err)
		}
		payloads := make([]memoryPayload, 0, len(cached))
		for _, entry := range cached {
			payloads = append(payloads, memoryPayload{ID: entry.ID, Text: entry.Text, CreatedTs: entry.CreatedTs})
		}
		return c.JSON(http.StatusOK, map[string]any{"memories": payloads, "stale": true})
	}

	payloads := make([]memoryPayload, 0, len(memories))
	for _, m := range memories {
		payloads = append(payloads, memoryToPayload(m))
	}
	return c.JSON(http.StatusOK, map[string]any{"memories": payloads})
}

func (s *Server) searchMemories(c echo.Context) error {
	if err := s.requireMemories(c); err != nil {
		return err
	}
	var body struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := c.Bind(&body); err != nil {
		return writeError(c, apperr.Validation("malformed request body"))
	}
	if body.Limit <= 0 {
		body.Limit = 10
	}

	memories, err := s.memories.Search(c.Request().Context(), s.Profile.MemoryUserID, body.Query, body.Limit)
	if err != nil {
		return writeError(c, err)
	}
	payloads := make([]memoryPayload, 0, len(memories))
	for _, m := range memories {
		payloads = append(payloads, memoryToPayload(m))
	}
	return c.JSON(http.StatusOK, map[string]any{"memories": payloads})
}

func (s *Server) addMemory(c echo.Context) error {
	if err := s.requireMemories(c); err != nil {
		return err
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&body); err != nil {
		return writeError(c, apperr.Validation("malformed request body"))
	}
	if body.Content == "" {
		return writeError(c, apperr.Validation("content is required"))
	}

	err := s.Syncer.Add(c.Request().Context(), s.Profile.MemoryUserID, []memory.MessageInput{
		{Role: "user", Content: body.Content},
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusCreated)
}

func (s *Server) deleteMemory(c echo.Context) error {
	if err := s.requireMemories(c); err != nil {
		return err
	}
	if err := s.Syncer.Delete(c.Request().Context(), s.Profile.MemoryUserID, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) syncMemories(c echo.Context) error {
	if err := s.requireMemories(c); err != nil {
		return err
	}
	if err := s.Syncer.Sync(c.Request().Context(), s.Profile.MemoryUserID); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
