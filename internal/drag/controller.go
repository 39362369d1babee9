// Package drag turns pointer gestures into optimistic board moves and
// reconciles them with the server's answer.
package drag

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brunoga/plank/internal/board"
	"github.com/brunoga/plank/internal/position"
)

// State of the current gesture.
type State int

const (
	Idle State = iota
	Dragging
	Confirming
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dragging:
		return "dragging"
	case Confirming:
		return "confirming"
	}
	return "unknown"
}

// Target is what the pointer is over: a card when CardID is set, otherwise
// the body of the list.
type Target struct {
	ListID string `json:"listId,omitempty"`
	CardID string `json:"cardId,omitempty"`
}

// Policy decides what a failed confirmation undoes.
type Policy int

const (
	// PolicyLatest reverts the card only if the failed move is still its
	// most recent one. Later moves of the card are left alone.
	PolicyLatest Policy = iota
	// PolicyNaive restores the whole board as it was before the failed
	// move, including anything that happened since.
	PolicyNaive
)

func (p Policy) String() string {
	if p == PolicyNaive {
		return "naive"
	}
	return "latest"
}

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch s {
	case "", "latest":
		return PolicyLatest, true
	case "naive":
		return PolicyNaive, true
	}
	return PolicyLatest, false
}

// Notice is surfaced once for every failed confirmation.
type Notice struct {
	Token      uint64
	CardID     string
	Message    string
	RolledBack bool
}

type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type Option func(*Controller)

func WithPolicy(p Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithTimeout bounds each confirmation call.
func WithTimeout(d time.Duration) Option {
	return func(c *Controller) { c.timeout = d }
}

func WithLogger(l log.FieldLogger) Option {
	return func(c *Controller) { c.log = l }
}

// WithContext sets the parent context of confirmation calls.
func WithContext(ctx context.Context) Option {
	return func(c *Controller) { c.ctx = ctx }
}

// WithSettleHook runs fn after every confirmation has settled, once the
// store and the state machine reflect the outcome.
func WithSettleHook(fn func(cmd *Command, err error)) Option {
	return func(c *Controller) { c.settled = fn }
}

type origin struct {
	listID string
	index  int
}

// Controller is the drag state machine for one editing session. Pointer
// events and confirmation results may arrive from different goroutines;
// they are serialized here.
type Controller struct {
	store     *board.Store
	confirmer Confirmer
	notifier  Notifier
	settled   func(*Command, error)
	policy    Policy
	timeout   time.Duration
	log       log.FieldLogger
	ctx       context.Context

	mu          sync.Mutex
	state       State
	active      string
	from        origin
	pre         board.Snapshot
	provisional bool
	pending     uint64
	nextToken   uint64
	latest      map[string]uint64
	inflight    sync.WaitGroup
}

func New(store *board.Store, confirmer Confirmer, notifier Notifier, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		confirmer: confirmer,
		notifier:  notifier,
		timeout:   10 * time.Second,
		log:       log.StandardLogger(),
		ctx:       context.Background(),
		latest:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(func(Notice) {})
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveCard is the card being dragged or awaiting confirmation.
func (c *Controller) ActiveCard() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// DragStart picks up a card. It is ignored while another drag is under way
// or when the card is unknown.
func (c *Controller) DragStart(cardID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Dragging {
		return false
	}
	listID, idx, ok := c.store.Locate(cardID)
	if !ok {
		return false
	}

	c.state = Dragging
	c.active = cardID
	c.from = origin{listID: listID, index: idx}
	c.pre = c.store.Snapshot()
	c.provisional = false
	c.log.WithFields(log.Fields{"card": cardID, "list": listID}).Debug("drag started")
	return true
}

// DragOver gives live feedback by moving the card under the pointer to a
// provisional position. The final key is worked out on drop.
func (c *Controller) DragOver(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Dragging || t.CardID == c.active {
		return
	}
	curList, _, ok := c.store.Locate(c.active)
	if !ok {
		return
	}

	if t.CardID != "" {
		over, ok := c.store.Card(t.CardID)
		if !ok {
			return
		}
		if c.store.MoveCard(c.active, curList, over.ListID, c.hoverPositionLocked(curList, over)) {
			c.provisional = true
		}
		return
	}

	if t.ListID == "" || t.ListID == curList {
		return
	}
	l, ok := c.store.List(t.ListID)
	if !ok {
		return
	}
	var tail *float64
	if n := len(l.Cards); n > 0 {
		tail = &l.Cards[n-1].Position
	}
	if c.store.MoveCard(c.active, curList, t.ListID, position.Between(tail, nil)) {
		c.provisional = true
	}
}

// DragEnd drops the card. A nil target means it was released outside any
// list. It returns the committed command, or nil when nothing was moved.
func (c *Controller) DragEnd(t *Target) *Command {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Dragging {
		return nil
	}
	cardID := c.active
	fields := log.Fields{"card": cardID}

	listID, k, ok := c.resolveLocked(t)
	if !ok || (listID == c.from.listID && k == c.from.index) {
		c.cancelLocked()
		c.log.WithFields(fields).Debug("drag ended without a move")
		return nil
	}

	c.putBackLocked()
	source, _, ok := c.store.Locate(cardID)
	if !ok {
		c.cancelLocked()
		c.log.WithFields(fields).Debug("card vanished before drop, nothing to confirm")
		return nil
	}
	before := c.store.SaveState()

	l, _ := c.store.List(listID)
	others := without(l.Cards, cardID)
	var prev, next *float64
	if k > 0 {
		prev = &others[k-1].Position
	}
	if k < len(others) {
		next = &others[k].Position
	}
	if position.Exhausted(prev, next) {
		c.log.WithFields(fields).WithField("list", listID).Warn("position gap exhausted, card order may be unstable")
	}

	c.nextToken++
	cmd := &Command{
		Token: c.nextToken,
		Request: MoveRequest{
			CardID:       cardID,
			TargetListID: listID,
			NewPosition:  position.Between(prev, next),
		},
		SourceListID: source,
		Before:       before,
		store:        c.store,
	}
	if !cmd.Apply() {
		c.cancelLocked()
		c.log.WithFields(fields).Debug("card vanished before drop, nothing to confirm")
		return nil
	}
	c.latest[cardID] = cmd.Token

	c.state = Confirming
	c.pending = cmd.Token
	c.provisional = false
	c.pre = board.Snapshot{}

	c.log.WithFields(fields).WithFields(log.Fields{
		"token":    cmd.Token,
		"list":     listID,
		"position": cmd.Request.NewPosition,
	}).Info("move applied, confirming")

	c.inflight.Add(1)
	go c.confirm(cmd)
	return cmd
}

// Wait blocks until every confirmation in flight has been settled.
func (c *Controller) Wait() {
	c.inflight.Wait()
}

func (c *Controller) confirm(cmd *Command) {
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	err := cmd.Confirm(ctx, c.confirmer)
	cancel()

	fields := log.Fields{"card": cmd.Request.CardID, "token": cmd.Token}

	c.mu.Lock()
	var notice *Notice
	if err != nil {
		rolledBack := false
		switch {
		case c.policy == PolicyNaive:
			cmd.Revert()
			rolledBack = true
		case c.latest[cmd.Request.CardID] == cmd.Token:
			cmd.RevertCard()
			rolledBack = true
		default:
			c.log.WithFields(fields).Info("stale confirmation failed, newer move kept")
		}
		if rolledBack && c.state == Dragging && c.active == cmd.Request.CardID {
			c.rebaseLocked()
		}
		c.log.WithFields(fields).WithError(err).Warn("move rejected")
		notice = &Notice{
			Token:      cmd.Token,
			CardID:     cmd.Request.CardID,
			Message:    err.Error(),
			RolledBack: rolledBack,
		}
	} else {
		c.log.WithFields(fields).Debug("move confirmed")
	}
	if c.latest[cmd.Request.CardID] == cmd.Token {
		delete(c.latest, cmd.Request.CardID)
	}
	c.store.Discard(cmd.Before)
	if c.state == Confirming && c.pending == cmd.Token {
		c.state = Idle
		c.active = ""
		c.pending = 0
	}
	c.mu.Unlock()

	if notice != nil {
		c.notifier.Notify(*notice)
	}
	if c.settled != nil {
		c.settled(cmd, err)
	}
}

// resolveLocked maps a drop target to a list and an insertion index among
// that list's cards with the dragged card left out.
func (c *Controller) resolveLocked(t *Target) (string, int, bool) {
	if t == nil {
		return "", 0, false
	}

	if t.CardID == "" {
		if t.ListID == "" {
			return "", 0, false
		}
		l, ok := c.store.List(t.ListID)
		if !ok {
			return "", 0, false
		}
		if curList, idx, ok := c.store.Locate(c.active); ok && curList == t.ListID {
			return t.ListID, idx, true
		}
		return t.ListID, len(without(l.Cards, c.active)), true
	}

	if t.CardID == c.active {
		listID, idx, ok := c.store.Locate(c.active)
		return listID, idx, ok
	}

	listID, _, ok := c.store.Locate(t.CardID)
	if !ok {
		return "", 0, false
	}
	l, _ := c.store.List(listID)
	others := without(l.Cards, c.active)
	j := indexOf(others, t.CardID)
	if listID == c.from.listID && c.from.index <= j {
		return listID, j + 1, true
	}
	return listID, j, true
}

func (c *Controller) cancelLocked() {
	c.putBackLocked()
	c.state = Idle
	c.active = ""
	c.pre = board.Snapshot{}
}

// rebaseLocked makes the card's current place the origin of the gesture
// under way. A rollback that moved the dragged card mid-gesture leaves the
// drag-start location pointing at a state the server refused.
func (c *Controller) rebaseLocked() {
	listID, idx, ok := c.store.Locate(c.active)
	if !ok {
		return
	}
	c.from = origin{listID: listID, index: idx}
	c.pre = c.store.Snapshot()
	c.provisional = false
	c.log.WithFields(log.Fields{"card": c.active, "list": listID}).Debug("drag origin moved by rollback")
}

// hoverPositionLocked is the provisional key for hovering over. Going down
// its own list the card lands just past the hovered card, anywhere else it
// takes the hovered card's key and so its slot.
func (c *Controller) hoverPositionLocked(curList string, over board.Card) float64 {
	if over.ListID != curList {
		return over.Position
	}
	l, _ := c.store.List(curList)
	i, j := indexOf(l.Cards, c.active), indexOf(l.Cards, over.ID)
	if i < 0 || j < 0 || i > j {
		return over.Position
	}
	var next *float64
	if j+1 < len(l.Cards) {
		next = &l.Cards[j+1].Position
	}
	return position.Between(&over.Position, next)
}

// putBackLocked undoes drag-over feedback by returning the active card to
// where it was picked up. Other cards are not touched.
func (c *Controller) putBackLocked() {
	if !c.provisional {
		return
	}
	c.provisional = false
	orig, ok := c.pre.Locate(c.active)
	if !ok {
		return
	}
	if cur, _, ok := c.store.Locate(c.active); ok {
		c.store.MoveCard(c.active, cur, orig.ListID, orig.Position)
	}
}

func without(cards []board.Card, cardID string) []board.Card {
	out := make([]board.Card, 0, len(cards))
	for _, c := range cards {
		if c.ID != cardID {
			out = append(out, c)
		}
	}
	return out
}

func indexOf(cards []board.Card, cardID string) int {
	for i, c := range cards {
		if c.ID == cardID {
			return i
		}
	}
	return -1
}
