package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/brunoga/plank/internal/drag"
)

// Move records an accepted card move.
type Move struct {
	BoardID  string
	CardID   string
	FromList string
	ToList   string
	Position float64
	At       time.Time
	Summary  string
}

// ApplyMove files a card under a new list at a new position. The card and
// the target list must exist and belong to the same board.
func (r *Repo) ApplyMove(ctx context.Context, req drag.MoveRequest) (Move, error) {
	m := Move{CardID: req.CardID, ToList: req.TargetListID, Position: req.NewPosition, At: time.Now().UTC()}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var title string
		err := tx.QueryRowContext(ctx, `SELECT c.list_id, l.board_id, c.title FROM cards c JOIN lists l ON l.id = c.list_id WHERE c.id = ?`,
			req.CardID).Scan(&m.FromList, &m.BoardID, &title)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("card %s: %w", req.CardID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("loading card: %w", err)
		}

		targetBoard, err := boardOfList(ctx, tx, req.TargetListID)
		if err != nil {
			return err
		}
		if targetBoard != m.BoardID {
			return fmt.Errorf("list %s is on another board: %w", req.TargetListID, ErrConflict)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE cards SET list_id = ?, position = ? WHERE id = ?`,
			req.TargetListID, req.NewPosition, req.CardID); err != nil {
			return fmt.Errorf("updating card: %w", err)
		}

		var from, to string
		if err := tx.QueryRowContext(ctx, `SELECT title FROM lists WHERE id = ?`, m.FromList).Scan(&from); err != nil {
			return fmt.Errorf("loading source list: %w", err)
		}
		if err := tx.QueryRowContext(ctx, `SELECT title FROM lists WHERE id = ?`, m.ToList).Scan(&to); err != nil {
			return fmt.Errorf("loading target list: %w", err)
		}
		if m.FromList == m.ToList {
			m.Summary = fmt.Sprintf("Reordered %q in %s", title, to)
		} else {
			m.Summary = fmt.Sprintf("Moved %q from %s to %s", title, from, to)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO moves (board_id, card_id, from_list, to_list, position, created_at, summary) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.BoardID, m.CardID, m.FromList, m.ToList, m.Position, m.At.Format(time.RFC3339Nano), m.Summary); err != nil {
			return fmt.Errorf("recording move: %w", err)
		}
		return nil
	})
	if err != nil {
		return Move{}, err
	}
	log.WithFields(log.Fields{"card": m.CardID, "list": m.ToList, "board": m.BoardID}).Info(m.Summary)
	return m, nil
}

// ConfirmMove implements drag.Confirmer.
func (r *Repo) ConfirmMove(ctx context.Context, req drag.MoveRequest) (drag.MoveResult, error) {
	_, err := r.ApplyMove(ctx, req)
	return Result(err)
}

// Result turns an ApplyMove error into a confirmation answer. Missing rows
// and cross-board moves are rejections; anything else stays an error.
func Result(err error) (drag.MoveResult, error) {
	switch {
	case err == nil:
		return drag.MoveResult{Success: true}, nil
	case errors.Is(err, ErrConflict):
		return drag.MoveResult{Error: ErrConflict.Error()}, nil
	case errors.Is(err, ErrNotFound):
		return drag.MoveResult{Error: err.Error()}, nil
	}
	return drag.MoveResult{}, err
}

// History returns the newest move summaries of a board first.
func (r *Repo) History(ctx context.Context, boardID string, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT summary FROM moves WHERE board_id = ? ORDER BY id DESC LIMIT ?`, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	history := []string{}
	for rows.Next() {
		var summary string
		if err := rows.Scan(&summary); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		history = append(history, summary)
	}
	return history, rows.Err()
}

func (r *Repo) ClearHistory(ctx context.Context, boardID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM moves WHERE board_id = ?`, boardID); err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}
