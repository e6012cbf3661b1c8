// Package server exposes the chat engine over HTTP: session management,
// message history, SSE chat turns, memory management, and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jotlabs/memochat/chat/compose"
	"github.com/jotlabs/memochat/chat/models"
	"github.com/jotlabs/memochat/chat/registry"
	"github.com/jotlabs/memochat/chat/stream"
	"github.com/jotlabs/memochat/chat/timeline"
	"github.com/jotlabs/memochat/chat/title"
	"github.com/jotlabs/memochat/internal/profile"
	"github.com/jotlabs/memochat/llm"
	"github.com/jotlabs/memochat/memory"
	"github.com/jotlabs/memochat/metrics"
	"github.com/jotlabs/memochat/store"
)

// Server wires the engine components behind an echo instance.
type Server struct {
	echoServer *echo.Echo

	Profile  *profile.Profile
	Store    *store.Store
	Registry *registry.Registry
	Engine   *stream.Engine
	Catalog  *models.Catalog
	Merger   *timeline.Merger
	Syncer   *memory.Syncer // nil when memories are not configured
	Exporter *metrics.Exporter

	memories memory.Service
}

// NewServer builds the full component graph and registers all routes.
func NewServer(ctx context.Context, prof *profile.Profile, chatStore *store.Store) (*Server, error) {
	reg := registry.New(chatStore)
	if err := reg.Bootstrap(ctx); err != nil {
		return nil, err
	}

	catalog := models.Default()
	exporter := metrics.NewExporter()

	var memoryService memory.Service
	var syncer *memory.Syncer
	if prof.IsMemoryEnabled() {
		client := memory.NewClient(memory.ClientConfig{
			BaseURL: prof.MemoryBaseURL,
			APIKey:  prof.MemoryAPIKey,
		})
		memoryService = client
		syncer = memory.NewSyncer(client, chatStore)
	} else {
		slog.Info("memory collaborator not configured, chats run without memories")
	}

	factory := func(model *models.ModelConfig) (llm.Service, error) {
		return llm.NewService(&llm.Config{
			Provider: model.Provider,
			Model:    model.ProviderModelID,
			APIKey:   prof.APIKeyForProvider(model.Provider),
			BaseURL:  prof.LLMBaseURL,
			Timeout:  prof.LLMTimeout,
		})
	}

	titles := newTitleGenerator(prof, catalog)

	engine := stream.NewEngine(stream.Config{
		Store:    chatStore,
		Registry: reg,
		Composer: compose.New(catalog, prof, memoryService),
		Factory:  factory,
		Titles:   titles,
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
		Syncer:     syncer,
		Exporter:   exporter,
		memories:   memoryService,
	}
	s.registerRoutes()
	return s, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			// SSE responses must not be buffered by the compressor.
			return strings.HasSuffix(c.Path(), "/chat") || c.Path() == "/metrics"
		},
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))
	return e
}

// newTitleGenerator resolves the title model and builds its generator. A
// missing key or model disables title generation instead of failing startup.
func newTitleGenerator(prof *profile.Profile, catalog *models.Catalog) *title.Generator {
	var model *models.ModelConfig
	var err error
	if prof.TitleModelID != "" {
		model, err = catalog.ByID(prof.TitleModelID)
	} else {
		model, err = catalog.DefaultFor(models.UsageTitle)
	}
	if err != nil {
		slog.Warn("title model unresolved, title generation disabled", "error", err)
		return nil
	}

	service, err := llm.NewService(&llm.Config{
		Provider:    model.Provider,
		Model:       model.ProviderModelID,
		APIKey:      prof.APIKeyForProvider(model.Provider),
		BaseURL:     prof.LLMBaseURL,
		MaxTokens:   20,
		Temperature: 0.1,
		Timeout:     prof.LLMTimeout,
	})
	if err != nil {
		slog.Warn("title service unavailable, title generation disabled", "model", model.ID, "error", err)
		return nil
	}
	return title.New(service)
}

func (s *Server) registerRoutes() {
	e := s.echoServer

	e.GET("/healthz", s.health)
	e.GET("/metrics", echo.WrapHandler(s.Exporter.Handler()))

	api := e.Group("/api/v1")
	api.GET("/models", s.listModels)

	api.GET("/sessions", s.listSessions)
	api.POST("/sessions", s.createSession)
	api.PATCH("/sessions/:id", s.updateSession)
	api.DELETE("/sessions/:id", s.deleteSession)
	api.POST("/sessions/:id/activate", s.activateSession)
	api.GET("/sessions/:id/messages", s.listMessages)
	api.POST("/sessions/:id/chat", s.chat)

	api.GET("/memories", s.listMemories)
	api.POST("/memories/search", s.searchMemories)
	api.POST("/memories", s.addMemory)
	api.DELETE("/memories/:id", s.deleteMemory)
	api.POST("/memories/sync", s.syncMemories)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}

// Start serves in the background; startup failures other than a clean close
// are logged, not returned.
func (s *Server) Start(_ context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	go func() {
		if err := s.echoServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}
