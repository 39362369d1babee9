package main

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/brunoga/plank/internal/drag"
	"github.com/brunoga/plank/internal/notify"
	"github.com/brunoga/plank/internal/storage"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// Server exposes the board over HTTP and websocket sessions.
type Server struct {
	cfg  Config
	repo *storage.Repo
	hub  *notify.Hub
	echo *echo.Echo
	node string
}

func NewServer(cfg Config, repo *storage.Repo, hub *notify.Hub, node string) *Server {
	s := &Server{cfg: cfg, repo: repo, hub: hub, node: node}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.WithFields(log.Fields{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency,
			}).Debug("request")
			return nil
		},
	}))

	e.GET("/", s.handleIndex)
	e.GET("/healthz", s.handleHealth)
	e.GET("/ws", s.handleWS)

	api := e.Group("/api")
	api.GET("/boards/:id", s.handleBoard)
	api.POST("/boards/:id/lists", s.handleCreateList)
	api.POST("/lists/:id/cards", s.handleCreateCard)
	api.DELETE("/cards/:id", s.handleDeleteCard)
	api.POST("/moves", s.handleMove)
	api.GET("/history", s.handleHistory)
	api.DELETE("/history", s.handleClearHistory)
	api.POST("/admin/reset", s.handleReset)

	s.echo = e
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// confirmer applies moves to the database and tells every session of the
// board when one lands.
func (s *Server) confirmer(origin string) drag.Confirmer {
	return drag.ConfirmerFunc(func(ctx context.Context, req drag.MoveRequest) (drag.MoveResult, error) {
		m, err := s.repo.ApplyMove(ctx, req)
		if err == nil {
			s.hub.Publish(ctx, notify.Event{
				Type:    notify.EventBoardChanged,
				BoardID: m.BoardID,
				Origin:  origin,
				Summary: m.Summary,
			})
		}
		return storage.Result(err)
	})
}

func (s *Server) changed(ctx context.Context, boardID, origin, summary string) {
	s.hub.Publish(ctx, notify.Event{
		Type:    notify.EventBoardChanged,
		BoardID: boardID,
		Origin:  origin,
		Summary: summary,
	})
}

func (s *Server) changedList(ctx context.Context, listID, origin, summary string) {
	boardID, err := s.repo.BoardOf(ctx, listID)
	if err != nil {
		log.WithError(err).WithField("list", listID).Warn("cannot announce change")
		return
	}
	s.changed(ctx, boardID, origin, summary)
}

func (s *Server) boardParam(c echo.Context) string {
	if id := c.QueryParam("board"); id != "" {
		return id
	}
	return s.cfg.BoardID
}

func (s *Server) handleIndex(c echo.Context) error {
	data := struct {
		Title   string
		BoardID string
	}{
		Title:   s.cfg.BoardTitle,
		BoardID: s.boardParam(c),
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	return indexTmpl.Execute(c.Response(), data)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ok",
		"node":     s.node,
		"sessions": s.hub.Count(),
	})
}

func (s *Server) handleBoard(c echo.Context) error {
	b, err := s.repo.LoadBoard(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

type titleRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"due_date"`
}

func (s *Server) handleCreateList(c echo.Context) error {
	var req titleRequest
	if err := c.Bind(&req); err != nil || req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	ctx := c.Request().Context()
	l, err := s.repo.CreateList(ctx, c.Param("id"), req.Title)
	if err != nil {
		return httpError(err)
	}
	s.changed(ctx, l.BoardID, "http", "Added list "+strconv.Quote(l.Title))
	return c.JSON(http.StatusCreated, l)
}

func (s *Server) handleCreateCard(c echo.Context) error {
	var req titleRequest
	if err := c.Bind(&req); err != nil || req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title is required")
	}
	ctx := c.Request().Context()
	card, err := s.repo.CreateCard(ctx, c.Param("id"), req.Title, req.Description, req.DueDate)
	if err != nil {
		return httpError(err)
	}
	s.changedList(ctx, card.ListID, "http", "Added "+strconv.Quote(card.Title))
	return c.JSON(http.StatusCreated, card)
}

func (s *Server) handleDeleteCard(c echo.Context) error {
	ctx := c.Request().Context()
	listID, err := s.repo.DeleteCard(ctx, c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	s.changedList(ctx, listID, "http", "")
	return c.NoContent(http.StatusNoContent)
}

// handleMove confirms a move for clients that do not hold a websocket
// session. Rejections are answered with 200 and success=false.
func (s *Server) handleMove(c echo.Context) error {
	var req drag.MoveRequest
	if err := c.Bind(&req); err != nil || req.CardID == "" || req.TargetListID == "" {
		return c.JSON(http.StatusBadRequest, drag.MoveResult{Error: "cardId and targetListId are required"})
	}
	res, err := s.confirmer("http").ConfirmMove(c.Request().Context(), req)
	if err != nil {
		log.WithError(err).WithField("card", req.CardID).Error("move failed")
		return c.JSON(http.StatusInternalServerError, drag.MoveResult{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleHistory(c echo.Context) error {
	limit := 15
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	entries, err := s.repo.History(c.Request().Context(), s.boardParam(c), limit)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleClearHistory(c echo.Context) error {
	if err := s.repo.ClearHistory(c.Request().Context(), s.boardParam(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleReset(c echo.Context) error {
	ctx := c.Request().Context()
	boardID := s.boardParam(c)
	if err := s.repo.Reset(ctx, boardID, s.cfg.BoardTitle); err != nil {
		return httpError(err)
	}
	log.WithField("board", boardID).Info("board reset")
	s.hub.Publish(ctx, notify.Event{Type: notify.EventBoardReset, BoardID: boardID, Origin: "http"})
	return c.NoContent(http.StatusNoContent)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return err
}
