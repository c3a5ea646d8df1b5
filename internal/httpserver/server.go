// Package httpserver exposes the conversation API: session CRUD, turn
// commands, and a WebSocket event feed.
package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MuChengZJU/RPChat/internal/events"
	"github.com/MuChengZJU/RPChat/internal/llm"
	"github.com/MuChengZJU/RPChat/internal/orchestrator"
	"github.com/MuChengZJU/RPChat/internal/store"
)

// Server holds the router and its collaborators.
type Server struct {
	Router    *echo.Echo
	store     store.Store
	orch      *orchestrator.Orchestrator
	bus       *events.Bus
	llm       *llm.Client
	llmParams llm.Params
}

// New creates a configured Echo server instance with all routes mounted.
func New(st store.Store, orch *orchestrator.Orchestrator, bus *events.Bus, llmClient *llm.Client, params llm.Params) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{Router: e, store: st, orch: orch, bus: bus, llm: llmClient, llmParams: params}

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/test-connection", s.testConnection)

	e.POST("/api/sessions", s.createSession)
	e.GET("/api/sessions", s.listSessions)
	e.GET("/api/sessions/:id", s.getSession)
	e.PATCH("/api/sessions/:id", s.renameSession)
	e.DELETE("/api/sessions/:id", s.deleteSession)

	e.GET("/api/sessions/:id/messages", s.history)
	e.GET("/api/sessions/:id/state", s.state)
	e.GET("/api/sessions/:id/export", s.exportSession)
	e.POST("/api/sessions/import", s.importSession)

	e.POST("/api/sessions/:id/text", s.textTurn)
	e.POST("/api/sessions/:id/voice", s.voiceTurn)
	e.POST("/api/sessions/:id/interrupt", s.interrupt)
	e.POST("/api/sessions/:id/cancel", s.cancel)

	e.GET("/ws/events", s.eventFeed)

	return s
}

type createSessionRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

type textTurnRequest struct {
	Text string `json:"text"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
	}
	if req.Title == "" {
		req.Title = "New conversation"
	}
	sess, err := s.store.CreateSession(c.Request().Context(), req.Title, req.Model)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) listSessions(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	ctx := c.Request().Context()
	if q := c.QueryParam("q"); q != "" {
		sessions, err := s.store.SearchSessions(ctx, q, limit)
		if err != nil {
			return s.fail(c, err)
		}
		return c.JSON(http.StatusOK, sessions)
	}
	sessions, err := s.store.ListSessions(ctx, limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) renameSession(c echo.Context) error {
	var req renameSessionRequest
	if err := c.Bind(&req); err != nil || req.Title == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "title required"})
	}
	if err := s.store.RenameSession(c.Request().Context(), c.Param("id"), req.Title); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteSession(c echo.Context) error {
	id := c.Param("id")
	// Stop any in-flight turn before the rows disappear under it.
	_ = s.orch.Cancel(id)
	if err := s.store.DeleteSession(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) history(c echo.Context) error {
	msgs, err := s.store.History(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) state(c echo.Context) error {
	id := c.Param("id")
	if _, err := s.store.GetSession(c.Request().Context(), id); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"state": string(s.orch.State(id))})
}

func (s *Server) exportSession(c echo.Context) error {
	exp, err := s.store.ExportSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, exp)
}

func (s *Server) importSession(c echo.Context) error {
	var exp store.Export
	if err := c.Bind(&exp); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid export envelope"})
	}
	sess, err := s.store.ImportSession(c.Request().Context(), &exp)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) textTurn(c echo.Context) error {
	var req textTurnRequest
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "text required"})
	}
	if err := s.orch.StartTextTurn(c.Param("id"), req.Text); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) voiceTurn(c echo.Context) error {
	if err := s.orch.StartVoiceTurn(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) interrupt(c echo.Context) error {
	if err := s.orch.Interrupt(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "interrupting"})
}

func (s *Server) cancel(c echo.Context) error {
	if err := s.orch.Cancel(c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelling"})
}

func (s *Server) testConnection(c echo.Context) error {
	if err := s.llm.TestConnection(c.Request().Context(), s.llmParams); err != nil {
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// fail maps domain errors onto HTTP status codes.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "session not found"})
	case errors.Is(err, orchestrator.ErrBusy):
		return c.JSON(http.StatusConflict, errorResponse{Error: "session busy"})
	case errors.Is(err, orchestrator.ErrNoActiveTurn):
		return c.JSON(http.StatusConflict, errorResponse{Error: "no active turn"})
	default:
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
