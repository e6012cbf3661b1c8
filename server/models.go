package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jotlabs/memochat/chat/models"
)

type modelPayload struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Provider    string   `json:"provider"`
	Usages      []string `json:"usages"`
	Default     bool     `json:"default"`
}

func (s *Server) listModels(c echo.Context) error {
	chatDefault, err := s.Catalog.DefaultFor(models.UsageChat)
	if err != nil {
		return writeError(c, err)
	}
	if s.Profile.ChatModelID != "" {
		if configured, err := s.Catalog.ByID(s.Profile.ChatModelID); err == nil {
			chatDefault = configured
		}
	}

	all := s.Catalog.All()
	payloads := make([]modelPayload, 0, len(all))
	for _, model := range all {
		usages := make([]string, 0, len(model.Usages))
		for _, u := range model.Usages {
			usages = append(usages, string(u))
		}
		payloads = append(payloads, modelPayload{
			ID:          model.ID,
			DisplayName: model.DisplayName,
			Provider:    model.Provider,
			Usages:      usages,
			Default:     model.ID == chatDefault.ID,
		})
	}
	return c.JSON(http.StatusOK, payloads)
}
