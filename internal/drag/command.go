package drag

import (
	"context"
	"errors"

	"github.com/brunoga/plank/internal/board"
)

// MoveRequest asks the persistence side to accept a card's new place.
type MoveRequest struct {
	CardID       string  `json:"cardId"`
	TargetListID string  `json:"targetListId"`
	NewPosition  float64 `json:"newPosition"`
}

// MoveResult is the persistence side's answer. Error is only displayed,
// never interpreted.
type MoveResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Confirmer confirms a move that has already been applied locally.
type Confirmer interface {
	ConfirmMove(ctx context.Context, req MoveRequest) (MoveResult, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, req MoveRequest) (MoveResult, error)

func (f ConfirmerFunc) ConfirmMove(ctx context.Context, req MoveRequest) (MoveResult, error) {
	return f(ctx, req)
}

// ErrRejected is reported when the confirmer says no without a reason.
var ErrRejected = errors.New("move rejected")

// Command is one user-initiated move: the state before it, the optimistic
// mutation, and the confirmation that decides whether it sticks.
type Command struct {
	Token        uint64
	Request      MoveRequest
	SourceListID string
	Before       board.Snapshot

	store *board.Store
}

// Apply performs the optimistic mutation.
func (c *Command) Apply() bool {
	return c.store.MoveCard(c.Request.CardID, c.SourceListID, c.Request.TargetListID, c.Request.NewPosition)
}

// Confirm asks confirmer to accept the move. Transport errors and
// rejections both come back as an error carrying the text to show.
func (c *Command) Confirm(ctx context.Context, confirmer Confirmer) error {
	res, err := confirmer.ConfirmMove(ctx, c.Request)
	if err != nil {
		return err
	}
	if !res.Success {
		if res.Error == "" {
			return ErrRejected
		}
		return errors.New(res.Error)
	}
	return nil
}

// Revert restores the whole board to Before. Any change made after the
// command was applied is lost too.
func (c *Command) Revert() {
	c.store.Restore(c.Before)
}

// RevertCard puts only this command's card back where Before had it,
// leaving other cards alone. It reports whether the card moved.
func (c *Command) RevertCard() bool {
	orig, ok := c.Before.Locate(c.Request.CardID)
	if !ok {
		return false
	}
	cur, _, ok := c.store.Locate(c.Request.CardID)
	if !ok {
		return false
	}
	return c.store.MoveCard(c.Request.CardID, cur, orig.ListID, orig.Position)
}
