// Package httpapi exposes the interpreter, analyzer, pattern library, and
// run history over a small REST surface, plus a WebSocket endpoint that
// becomes the broadcaster's remote channel.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/jkoski/edgeflow/internal/broadcast"
	"github.com/jkoski/edgeflow/internal/guard"
	"github.com/jkoski/edgeflow/internal/history"
	"github.com/jkoski/edgeflow/internal/pattern"
	"github.com/jkoski/edgeflow/pkg/api"
)

// Server wires the HTTP surface. All fields are required except Logger.
type Server struct {
	Runner      api.Runner
	Library     *pattern.Library
	History     history.Store
	Broadcaster *broadcast.Broadcaster
	Logger      *slog.Logger

	echo     *echo.Echo
	upgrader websocket.Upgrader
}

// New builds the echo router around the given components.
func New(runner api.Runner, lib *pattern.Library, store history.Store, b *broadcast.Broadcaster, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Runner:      runner,
		Library:     lib,
		History:     store,
		Broadcaster: b,
		Logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The channel carries outbound telemetry only; origin checks are
			// the embedding application's concern.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	v1 := e.Group("/api/v1")
	v1.GET("/patterns", s.listPatterns)
	v1.GET("/patterns/:id", s.getPattern)
	v1.POST("/patterns/detect", s.detectPatterns)
	v1.POST("/patterns/:id/generate", s.generatePattern)
	v1.POST("/analyze", s.analyze)
	v1.POST("/run", s.run)
	v1.GET("/runs", s.listRuns)
	v1.GET("/runs/:id", s.getRun)

	e.GET("/ws", s.websocketChannel)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	s.echo = e
	return s
}

// Handler returns the root http.Handler, mostly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.Logger.Info("http server listening", "addr", addr)
	return s.echo.Start(addr)
}

// Close stops the server immediately.
func (s *Server) Close() error { return s.echo.Close() }

type errorResponse struct {
	Error             string   `json:"error"`
	MissingParameters []string `json:"missingParameters,omitempty"`
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(c echo.Context, err error) error {
	var ve *api.ValidationError
	if errors.As(err, &ve) {
		return c.JSON(http.StatusUnprocessableEntity, errorResponse{
			Error:             ve.Error(),
			MissingParameters: ve.MissingParameters,
		})
	}
	if api.IsConfigurationError(err) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	}
	if errors.Is(err, history.ErrRunNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// definitionRequest wraps a raw workflow document for detect and analyze.
type definitionRequest struct {
	Workflow json.RawMessage `json:"workflow"`
}

// bindDefinition parses the request's workflow document.
func bindDefinition(c echo.Context) (*api.Definition, error) {
	var req definitionRequest
	if err := c.Bind(&req); err != nil {
		return nil, &api.ConfigurationError{Reason: "invalid request body"}
	}
	if len(req.Workflow) == 0 {
		return nil, &api.ConfigurationError{Reason: "request has no workflow document"}
	}
	return api.ParseDefinition(req.Workflow)
}

type patternSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Complexity  string   `json:"complexity"`
	Parameters  []string `json:"parameters"`
}

func (s *Server) listPatterns(c echo.Context) error {
	patterns := s.Library.List(c.QueryParam("category"))
	out := make([]patternSummary, 0, len(patterns))
	for i := range patterns {
		p := &patterns[i]
		out = append(out, patternSummary{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Category:    p.Category,
			Complexity:  p.Complexity,
			Parameters:  p.Parameters(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"patterns": out})
}

func (s *Server) getPattern(c echo.Context) error {
	p, ok := s.Library.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "unknown pattern"})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"pattern":    p,
		"parameters": p.Parameters(),
	})
}

func (s *Server) detectPatterns(c echo.Context) error {
	def, err := bindDefinition(c)
	if err != nil {
		return writeError(c, err)
	}
	res, err := s.Library.Detect(def)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

type generateRequest struct {
	Parameters map[string]any `json:"parameters"`
}

func (s *Server) generatePattern(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	def, err := s.Library.Generate(c.Param("id"), req.Parameters)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, def)
}

func (s *Server) analyze(c echo.Context) error {
	def, err := bindDefinition(c)
	if err != nil {
		return writeError(c, err)
	}
	rep, err := guard.Analyze(def)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rep)
}

// runRequest keeps the workflow document raw: step order is carried by JSON
// key order, which a map round-trip would destroy.
type runRequest struct {
	Workflow     json.RawMessage `json:"workflow"`
	InitialState map[string]any  `json:"initialState"`
}

type runResponse struct {
	RunID        string         `json:"runId"`
	WorkflowID   string         `json:"workflowId"`
	Status       string         `json:"status"`
	Steps        int            `json:"steps"`
	State        map[string]any `json:"state"`
	Error        string         `json:"error,omitempty"`
	BranchErrors []string       `json:"branchErrors,omitempty"`
	DurationMS   int64          `json:"durationMs"`
}

// run executes the posted workflow synchronously and returns the outcome.
// Progress is observable live over /ws while the run is in flight.
func (s *Server) run(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	def, err := api.ParseDefinition(req.Workflow)
	if err != nil {
		return writeError(c, err)
	}

	res, err := s.Runner.Run(c.Request().Context(), def, req.InitialState)
	if err != nil && res == nil {
		return writeError(c, err)
	}

	out := runResponse{
		RunID:      res.RunID,
		WorkflowID: res.WorkflowID,
		Status:     string(res.Status),
		Steps:      res.Steps,
		State:      res.State,
		DurationMS: res.Duration().Milliseconds(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	for _, be := range res.BranchErrors {
		out.BranchErrors = append(out.BranchErrors, be.Error())
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) listRuns(c echo.Context) error {
	recs, err := s.History.ListRuns(c.Request().Context(), history.Filter{
		WorkflowID: c.QueryParam("workflowId"),
		Status:     c.QueryParam("status"),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": recs})
}

func (s *Server) getRun(c echo.Context) error {
	rec, err := s.History.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}

// websocketChannel upgrades the request and attaches the connection as the
// broadcaster's sink. Buffered events flush immediately; the connection stays
// open until the peer closes it, and the broadcaster degrades back to
// buffering on the first failed write.
func (s *Server) websocketChannel(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	sink := broadcast.NewWebSocketSink(conn)
	s.Broadcaster.AttachSink(sink)
	s.Broadcaster.SetConnected(true)
	s.Logger.Info("event channel connected", "remote", conn.RemoteAddr().String())

	// Drain inbound frames to notice the close; the channel is one-way.
	// Detach is sink-aware so a stale reader exiting after a reconnect
	// cannot disconnect the newer client's sink.
	go func() {
		defer func() {
			s.Broadcaster.DetachSink(sink)
			_ = sink.Close()
			s.Logger.Info("event channel disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return nil
}
