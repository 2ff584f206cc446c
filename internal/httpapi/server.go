// Package httpapi exposes the runtime over HTTP for the chat UI: server
// management, tool listing and execution, discovery, and an SSE event feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mcpbridge/mcpbridge-go/internal/config"
	"github.com/mcpbridge/mcpbridge-go/internal/contracts"
	"github.com/mcpbridge/mcpbridge-go/internal/observability"
	"github.com/mcpbridge/mcpbridge-go/internal/registry"
	"github.com/mcpbridge/mcpbridge-go/internal/runtime"
	"github.com/mcpbridge/mcpbridge-go/internal/toolcall"
	"github.com/mcpbridge/mcpbridge-go/internal/tools"
)

// Server is the HTTP front of the runtime. It owns no domain state; every
// handler is a thin mapping onto the manager, tool factory, or processor.
type Server struct {
	manager   *runtime.Manager
	factory   *tools.Factory
	processor *toolcall.Processor
	metrics   *observability.Metrics
	logger    *zap.Logger
	router    *chi.Mux

	httpServer *http.Server
}

// NewServer wires the router over the given components.
func NewServer(manager *runtime.Manager, factory *tools.Factory, processor *toolcall.Processor, metrics *observability.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		manager:   manager,
		factory:   factory,
		processor: processor,
		metrics:   metrics,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start begins serving on the given address. Blocks until the listener fails
// or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP API listening", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware())

	// CORS headers for the browser UI.
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	s.router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	s.router.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ready":true}`))
	})
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/servers", s.handleListServers)
		r.Post("/servers", s.handleAddServer)
		r.Post("/servers/refresh", s.handleRefreshAll)
		r.Route("/servers/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetServer)
			r.Put("/", s.handleUpdateServer)
			r.Delete("/", s.handleDeleteServer)
			r.Post("/refresh", s.handleRefreshServer)
		})

		r.Post("/discover", s.handleDiscover)
		r.Post("/discover/auto", s.handleAutoDiscover)

		r.Get("/tools", s.handleListTools)
		r.Post("/tools/call", s.handleCallTool)

		r.Post("/chat/process", s.handleChatProcess)

		r.Get("/events", s.handleSSEEvents)
	})
}

func (s *Server) loggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			s.logger.Debug("HTTP request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)))
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, contracts.NewErrorResponse(message))
}

func (s *Server) writeSuccess(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, contracts.NewSuccessResponse(data))
}

// serverRequest is the add/update payload from the settings UI.
type serverRequest struct {
	Name    string             `json:"name"`
	BaseURL string             `json:"baseUrl"`
	Enabled *bool              `json:"enabled,omitempty"`
	Auth    *config.AuthConfig `json:"auth,omitempty"`
}

func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	s.writeSuccess(w, s.manager.GetAllStatuses())
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	status, err := s.manager.AddServer(r.Context(), req.Name, req.BaseURL, enabled, req.Auth)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, contracts.NewSuccessResponse(status))
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, ok := s.manager.GetStatus(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("server %q not found", id))
		return
	}
	s.writeSuccess(w, status)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req serverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	update := config.ServerUpdate{
		Enabled: req.Enabled,
		Auth:    req.Auth,
	}
	if req.Name != "" {
		update.Name = &req.Name
	}
	if req.BaseURL != "" {
		update.BaseURL = &req.BaseURL
	}

	if err := s.manager.UpdateServer(r.Context(), id, update); err != nil {
		s.writeManagerError(w, err)
		return
	}
	status, _ := s.manager.GetStatus(id)
	s.writeSuccess(w, status)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.RemoveServer(id); err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeSuccess(w, map[string]interface{}{"id": id, "removed": true})
}

func (s *Server) handleRefreshServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status := s.manager.CheckServerHealth(r.Context(), id)
	if status == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("server %q not found", id))
		return
	}
	s.writeSuccess(w, status)
}

func (s *Server) handleRefreshAll(w http.ResponseWriter, r *http.Request) {
	s.manager.RefreshAll(r.Context())
	s.writeSuccess(w, s.manager.GetAllStatuses())
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	port := s.discoveryPort(r)
	results := s.manager.DiscoverLocalServers(r.Context(), port)
	s.writeSuccess(w, results)
}

func (s *Server) handleAutoDiscover(w http.ResponseWriter, r *http.Request) {
	port := s.discoveryPort(r)
	added, err := s.manager.AutoDiscoverAndAddServers(r.Context(), port)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeSuccess(w, map[string]interface{}{"added": added})
}

// discoveryPort reads an optional {"port": n} body; absent or malformed
// bodies fall back to the default port.
func (s *Server) discoveryPort(r *http.Request) int {
	var req struct {
		Port int `json:"port"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Port > 0 {
		return req.Port
	}
	return runtime.DefaultDiscoveryPort
}

// toolSummary is the wire shape of one exposed tool.
type toolSummary struct {
	Name        string                 `json:"name"`
	ServerID    string                 `json:"serverId"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty"`
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	toolMap := s.factory.CreateTools(r.Context())

	summaries := make([]toolSummary, 0, len(toolMap))
	for _, tool := range toolMap {
		summaries = append(summaries, toolSummary{
			Name:        tool.Name,
			ServerID:    tool.ServerID,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })

	s.writeSuccess(w, map[string]interface{}{
		"tools":       summaries,
		"description": s.factory.GenerateToolDescription(r.Context()),
	})
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string                 `json:"name"`
		Args map[string]interface{} `json:"args,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "tool name is required")
		return
	}

	tool, ok := s.factory.CreateTools(r.Context())[req.Name]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("tool %q not found", req.Name))
		return
	}

	result, err := tool.Execute(r.Context(), req.Args)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeSuccess(w, map[string]interface{}{
		"name":   req.Name,
		"result": result,
	})
}

func (s *Server) handleChatProcess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	text, records := s.processor.Process(r.Context(), req.Message)
	s.writeSuccess(w, map[string]interface{}{
		"text":      text,
		"toolCalls": records,
	})
}

// handleSSEEvents streams registry events (server added/removed/updated,
// status changes) to the UI badge.
func (s *Server) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		s.logger.Warn("ResponseWriter does not support flushing, SSE may not work properly")
	}

	fmt.Fprint(w, ": connected\nretry: 5000\n\n")
	if canFlush {
		flusher.Flush()
	}

	// Buffered so a slow client skips events instead of blocking the
	// registry's synchronous emit path.
	events := make(chan registry.Event, 64)
	reg := s.manager.Registry()

	types := []registry.EventType{
		registry.EventAdded,
		registry.EventRemoved,
		registry.EventUpdated,
		registry.EventStatusChanged,
	}
	subs := make(map[registry.EventType]int, len(types))
	for _, eventType := range types {
		subs[eventType] = reg.Subscribe(eventType, func(e registry.Event) {
			select {
			case events <- e:
			default:
			}
		})
	}
	defer func() {
		for eventType, id := range subs {
			reg.Unsubscribe(eventType, id)
		}
	}()

	// Initial snapshot so the UI renders without waiting for a change.
	if err := s.writeSSEEvent(w, flusher, canFlush, "snapshot", s.manager.GetAllStatuses()); err != nil {
		return
	}

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := s.writeSSEEvent(w, flusher, canFlush, "ping", map[string]interface{}{
				"timestamp": time.Now().Unix(),
			}); err != nil {
				return
			}
		case event := <-events:
			if err := s.writeSSEEvent(w, flusher, canFlush, string(event.Type), event); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, canFlush bool, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if canFlush {
		flusher.Flush()
	}
	return nil
}

// writeManagerError maps manager errors to status codes: unknown ids are
// 404, everything else 500.
func (s *Server) writeManagerError(w http.ResponseWriter, err error) {
	if strings.Contains(err.Error(), "not found") {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}
