package main

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/brunoga/plank/internal/board"
	"github.com/brunoga/plank/internal/drag"
	"github.com/brunoga/plank/internal/notify"
)

const writeWait = 10 * time.Second

// Inbound messages: dragStart, dragOver, dragEnd, addCard, deleteCard, ping.
type inbound struct {
	Type   string `json:"type"`
	ListID string `json:"listId,omitempty"`
	CardID string `json:"cardId,omitempty"`
	Title  string `json:"title,omitempty"`
}

// Outbound messages: board and error.
type outbound struct {
	Type         string       `json:"type"`
	Lists        []board.List `json:"lists,omitempty"`
	State        string       `json:"state,omitempty"`
	ActiveCardID string       `json:"activeCardId,omitempty"`
	Version      uint64       `json:"version,omitempty"`
	CardID       string       `json:"cardId,omitempty"`
	Error        string       `json:"error,omitempty"`
}

// session is one websocket connection. It owns a private store and drag
// controller; other sessions reach it only through hub events.
type session struct {
	id      string
	boardID string
	srv     *Server
	conn    *websocket.Conn
	store   *board.Store
	ctrl    *drag.Controller
	out     chan outbound
	log     log.FieldLogger

	mu    sync.Mutex
	stale bool
}

func (s *Server) handleWS(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	sess := s.newSession(conn, s.boardParam(c))
	sess.run(c.Request().Context())
	return nil
}

func (s *Server) newSession(conn *websocket.Conn, boardID string) *session {
	id := uuid.New().String()
	sess := &session{
		id:      id,
		boardID: boardID,
		srv:     s,
		conn:    conn,
		store:   board.NewStore(),
		out:     make(chan outbound, 16),
		log:     log.WithFields(log.Fields{"session": id[:8], "board": boardID}),
	}
	sess.ctrl = drag.New(sess.store, s.confirmer(id), drag.NotifierFunc(sess.notice),
		drag.WithPolicy(s.cfg.Policy()),
		drag.WithTimeout(s.cfg.ConfirmTimeout),
		drag.WithLogger(sess.log),
		drag.WithSettleHook(sess.settled),
	)
	return sess
}

func (s *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	changes := s.store.Subscribe()
	defer s.store.Unsubscribe(changes)
	events := s.srv.hub.Subscribe()
	defer s.srv.hub.Unsubscribe(events)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.write(ctx, changes, events)
	}()

	s.log.Info("session opened")
	if err := s.reload(ctx); err != nil {
		s.log.WithError(err).Warn("cannot load board")
		s.push(outbound{Type: "error", Error: err.Error()})
	}

	for {
		var msg inbound
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.WithError(err).Debug("read failed")
			}
			break
		}
		s.srv.hub.Heartbeat(events)
		s.handle(ctx, msg)
	}

	cancel()
	wg.Wait()
	s.ctrl.Wait()
	s.log.Info("session closed")
}

func (s *session) handle(ctx context.Context, msg inbound) {
	switch msg.Type {
	case "dragStart":
		s.ctrl.DragStart(msg.CardID)
	case "dragOver":
		s.ctrl.DragOver(drag.Target{ListID: msg.ListID, CardID: msg.CardID})
	case "dragEnd":
		var t *drag.Target
		if msg.ListID != "" || msg.CardID != "" {
			t = &drag.Target{ListID: msg.ListID, CardID: msg.CardID}
		}
		if s.ctrl.DragEnd(t) == nil {
			s.refreshIfStale(ctx)
		}
	case "addCard":
		s.addCard(ctx, msg)
	case "deleteCard":
		s.deleteCard(ctx, msg)
	case "ping":
	default:
		s.log.WithField("type", msg.Type).Debug("unknown message")
	}
}

func (s *session) addCard(ctx context.Context, msg inbound) {
	title := msg.Title
	if title == "" {
		title = "New Task"
	}
	c, err := s.srv.repo.CreateCard(ctx, msg.ListID, title, "", nil)
	if err != nil {
		s.push(outbound{Type: "error", Error: err.Error()})
		return
	}
	s.store.AddCard(msg.ListID, c)
	s.srv.changed(ctx, s.boardID, s.id, "Added "+c.Title)
}

func (s *session) deleteCard(ctx context.Context, msg inbound) {
	listID, err := s.srv.repo.DeleteCard(ctx, msg.CardID)
	if err != nil {
		s.push(outbound{Type: "error", CardID: msg.CardID, Error: err.Error()})
		return
	}
	s.store.RemoveCard(listID, msg.CardID)
	s.srv.changed(ctx, s.boardID, s.id, "")
}

// write is the only goroutine writing to the connection.
func (s *session) write(ctx context.Context, changes chan board.Change, events chan notify.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			s.send(s.frame())
		case msg := <-s.out:
			s.send(msg)
		case ev, ok := <-events:
			if !ok {
				s.log.Info("dropped as idle")
				s.conn.Close()
				return
			}
			s.onEvent(ctx, ev)
		}
	}
}

func (s *session) send(msg outbound) {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.log.WithError(err).Debug("write failed")
		s.conn.Close()
	}
}

// push queues msg for the writer. A session too slow to drain its queue
// misses the message; the next board frame carries the current state.
func (s *session) push(msg outbound) {
	select {
	case s.out <- msg:
	default:
		s.log.WithField("type", msg.Type).Warn("outbound queue full")
	}
}

func (s *session) frame() outbound {
	snap := s.store.Snapshot()
	return outbound{
		Type:         "board",
		Lists:        snap.Lists(),
		State:        s.ctrl.State().String(),
		ActiveCardID: s.ctrl.ActiveCard(),
		Version:      snap.Version(),
	}
}

// onEvent reloads the board when another session changed it. A reload in
// the middle of a gesture would move cards under the pointer, so it waits
// until the controller is idle.
func (s *session) onEvent(ctx context.Context, ev notify.Event) {
	if ev.BoardID != s.boardID || ev.Origin == s.id {
		return
	}
	if s.ctrl.State() != drag.Idle {
		s.mu.Lock()
		s.stale = true
		s.mu.Unlock()
		return
	}
	if err := s.reload(ctx); err != nil {
		s.log.WithError(err).Warn("reload failed")
	}
}

func (s *session) refreshIfStale(ctx context.Context) {
	if s.ctrl.State() != drag.Idle {
		return
	}
	s.mu.Lock()
	stale := s.stale
	s.stale = false
	s.mu.Unlock()
	if !stale {
		return
	}
	if err := s.reload(ctx); err != nil {
		s.log.WithError(err).Warn("reload failed")
	}
}

func (s *session) reload(ctx context.Context) error {
	b, err := s.srv.repo.LoadBoard(ctx, s.boardID)
	if err != nil {
		return err
	}
	s.store.SetLists(b.Lists)
	return nil
}

func (s *session) notice(n drag.Notice) {
	s.push(outbound{Type: "error", CardID: n.CardID, Error: n.Message})
}

// settled publishes the state change and catches up with edits that
// arrived while the move was in flight.
func (s *session) settled(_ *drag.Command, _ error) {
	s.push(s.frame())
	s.refreshIfStale(context.Background())
}
