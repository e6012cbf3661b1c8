package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jotlabs/memochat/chat/apperr"
	"github.com/jotlabs/memochat/store"
)

type sessionPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	UpdatedTs   int64  `json:"updatedTs"`
	ModelID     string `json:"modelId,omitempty"`
	UseMemories bool   `json:"useMemories"`
	Active      bool   `json:"active"`
}

func (s *Server) sessionToPayload(session *store.ChatSession) sessionPayload {
	return sessionPayload{
		ID:          session.ID,
		Title:       session.Title,
		UpdatedTs:   session.UpdatedTs,
		ModelID:     session.ModelID,
		UseMemories: session.UseMemories,
		Active:      session.ID == s.Registry.ActiveID(),
	}
}

func (s *Server) listSessions(c echo.Context) error {
	sessions := s.Registry.List()
	payloads := make([]sessionPayload, 0, len(sessions))
	for _, session := range sessions {
		payloads = append(payloads, s.sessionToPayload(session))
	}
	return c.JSON(http.StatusOK, payloads)
}

func (s *Server) createSession(c echo.Context) error {
	var body struct {
		MakeActive bool `json:"makeActive"`
	}
	if err := c.Bind(&body); err != nil {
		return writeError(c, apperr.Validation("malformed request body"))
	}

	session, err := s.Registry.CreateSession(c.Request().Context(), body.MakeActive)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, s.sessionToPayload(session))
}

func (s *Server) updateSession(c echo.Context) error {
	var body struct {
		Title       *string `json:"title"`
		ModelID     *string `json:"modelId"`
		UseMemories *bool   `json:"useMemories"`
	}
	if err := c.Bind(&body); err != nil {
		return writeError(c, apperr.Validation("malformed request body"))
	}

	// A model override must resolve before it is stored, so a bad id never
	// lingers until send time.
	if body.ModelID != nil && *body.ModelID != "" {
		if _, err := s.Catalog.ByID(*body.ModelID); err != nil {
			return writeError(c, err)
		}
	}

	updated, err := s.Registry.UpdateSession(c.Request().Context(), &store.UpdateChatSession{
		ID:          c.Param("id"),
		Title:       body.Title,
		ModelID:     body.ModelID,
		UseMemories: body.UseMemories,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, s.sessionToPayload(updated))
}

func (s *Server) deleteSession(c echo.Context) error {
	if err := s.Registry.DeleteSession(c.Request().Context(), c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) activateSession(c echo.Context) error {
	if err := s.Registry.SetActive(c.Param("id")); err != nil {
		return writeError(c, err)
	}
	session := s.Registry.Get(c.Param("id"))
	return c.JSON(http.StatusOK, s.sessionToPayload(session))
}
