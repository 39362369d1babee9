package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/brunoga/plank/internal/board"
	"github.com/brunoga/plank/internal/position"
)

// Board is the tree handed to a session when it loads a board.
type Board struct {
	ID    string       `json:"id"`
	Title string       `json:"title"`
	Lists []board.List `json:"lists"`
}

var defaultLists = []string{"To Do", "In Progress", "Done"}

// Seed creates boardID with the default lists and a welcome card unless it
// already exists.
func (r *Repo) Seed(ctx context.Context, boardID, title string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards WHERE id = ?`, boardID).Scan(&n); err != nil {
			return fmt.Errorf("checking board: %w", err)
		}
		if n > 0 {
			return nil
		}
		return seedTx(ctx, tx, boardID, title)
	})
}

func seedTx(ctx context.Context, tx *sql.Tx, boardID, title string) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO boards (id, title) VALUES (?, ?)`, boardID, title); err != nil {
		return fmt.Errorf("inserting board: %w", err)
	}
	var firstList string
	for i, pos := range position.Spread(len(defaultLists)) {
		id := uuid.New().String()
		if i == 0 {
			firstList = id
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)`,
			id, boardID, defaultLists[i], pos); err != nil {
			return fmt.Errorf("inserting list: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO cards (id, list_id, title, description, position) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), firstList, "Try Plank", "Drag this card to another list.", position.First); err != nil {
		return fmt.Errorf("inserting card: %w", err)
	}
	log.WithField("board", boardID).Info("seeded board")
	return nil
}

// LoadBoard returns the board with its lists and cards ordered by position.
func (r *Repo) LoadBoard(ctx context.Context, boardID string) (Board, error) {
	b := Board{ID: boardID, Lists: []board.List{}}
	err := r.db.QueryRowContext(ctx, `SELECT title FROM boards WHERE id = ?`, boardID).Scan(&b.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return Board{}, fmt.Errorf("board %s: %w", boardID, ErrNotFound)
	}
	if err != nil {
		return Board{}, fmt.Errorf("loading board: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, position FROM lists WHERE board_id = ? ORDER BY position, rowid`, boardID)
	if err != nil {
		return Board{}, fmt.Errorf("loading lists: %w", err)
	}
	index := map[string]int{}
	for rows.Next() {
		l := board.List{BoardID: boardID, Cards: []board.Card{}}
		if err := rows.Scan(&l.ID, &l.Title, &l.Position); err != nil {
			rows.Close()
			return Board{}, fmt.Errorf("scanning list: %w", err)
		}
		index[l.ID] = len(b.Lists)
		b.Lists = append(b.Lists, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Board{}, fmt.Errorf("loading lists: %w", err)
	}

	rows, err = r.db.QueryContext(ctx, `
		SELECT c.id, c.list_id, c.title, c.description, c.position, c.due_date
		FROM cards c JOIN lists l ON l.id = c.list_id
		WHERE l.board_id = ?
		ORDER BY c.position, c.rowid`, boardID)
	if err != nil {
		return Board{}, fmt.Errorf("loading cards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return Board{}, err
		}
		i := index[c.ListID]
		b.Lists[i].Cards = append(b.Lists[i].Cards, c)
	}
	if err := rows.Err(); err != nil {
		return Board{}, fmt.Errorf("loading cards: %w", err)
	}
	return b, nil
}

// CreateList appends a list to the end of a board.
func (r *Repo) CreateList(ctx context.Context, boardID, title string) (board.List, error) {
	l := board.List{ID: uuid.New().String(), BoardID: boardID, Title: title, Cards: []board.Card{}}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards WHERE id = ?`, boardID).Scan(&n); err != nil {
			return fmt.Errorf("checking board: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("board %s: %w", boardID, ErrNotFound)
		}
		tail, err := tailPosition(ctx, tx, `SELECT MAX(position) FROM lists WHERE board_id = ?`, boardID)
		if err != nil {
			return err
		}
		l.Position = position.Between(tail, nil)
		if _, err := tx.ExecContext(ctx, `INSERT INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)`,
			l.ID, boardID, title, l.Position); err != nil {
			return fmt.Errorf("inserting list: %w", err)
		}
		return nil
	})
	if err != nil {
		return board.List{}, err
	}
	return l, nil
}

// CreateCard appends a card to the end of a list.
func (r *Repo) CreateCard(ctx context.Context, listID, title, description string, due *time.Time) (board.Card, error) {
	c := board.Card{ID: uuid.New().String(), ListID: listID, Title: title, Description: description, DueDate: due}
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := boardOfList(ctx, tx, listID); err != nil {
			return err
		}
		tail, err := tailPosition(ctx, tx, `SELECT MAX(position) FROM cards WHERE list_id = ?`, listID)
		if err != nil {
			return err
		}
		c.Position = position.Between(tail, nil)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cards (id, list_id, title, description, position, due_date) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, listID, title, description, c.Position, formatDue(due)); err != nil {
			return fmt.Errorf("inserting card: %w", err)
		}
		return nil
	})
	if err != nil {
		return board.Card{}, err
	}
	return c, nil
}

// DeleteCard removes a card and returns the list it was in.
func (r *Repo) DeleteCard(ctx context.Context, cardID string) (string, error) {
	var listID string
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT list_id FROM cards WHERE id = ?`, cardID).Scan(&listID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("loading card: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, cardID); err != nil {
			return fmt.Errorf("deleting card: %w", err)
		}
		return nil
	})
	return listID, err
}

// Reset wipes a board and its history and seeds it again.
func (r *Repo) Reset(ctx context.Context, boardID, title string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM moves WHERE board_id = ?`, boardID); err != nil {
			return fmt.Errorf("clearing moves: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM boards WHERE id = ?`, boardID); err != nil {
			return fmt.Errorf("deleting board: %w", err)
		}
		return seedTx(ctx, tx, boardID, title)
	})
}

// BoardOf returns the board a list belongs to.
func (r *Repo) BoardOf(ctx context.Context, listID string) (string, error) {
	var boardID string
	err := r.inTx(ctx, func(tx *sql.Tx) (err error) {
		boardID, err = boardOfList(ctx, tx, listID)
		return err
	})
	return boardID, err
}

func boardOfList(ctx context.Context, tx *sql.Tx, listID string) (string, error) {
	var boardID string
	err := tx.QueryRowContext(ctx, `SELECT board_id FROM lists WHERE id = ?`, listID).Scan(&boardID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("list %s: %w", listID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("loading list: %w", err)
	}
	return boardID, nil
}

func tailPosition(ctx context.Context, tx *sql.Tx, query string, arg string) (*float64, error) {
	var tail sql.NullFloat64
	if err := tx.QueryRowContext(ctx, query, arg).Scan(&tail); err != nil {
		return nil, fmt.Errorf("finding tail position: %w", err)
	}
	if !tail.Valid {
		return nil, nil
	}
	return &tail.Float64, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (board.Card, error) {
	var (
		c   board.Card
		due sql.NullString
	)
	if err := s.Scan(&c.ID, &c.ListID, &c.Title, &c.Description, &c.Position, &due); err != nil {
		return board.Card{}, fmt.Errorf("scanning card: %w", err)
	}
	if due.Valid && due.String != "" {
		t, err := time.Parse(time.RFC3339, due.String)
		if err != nil {
			return board.Card{}, fmt.Errorf("parsing due date of card %s: %w", c.ID, err)
		}
		c.DueDate = &t
	}
	return c, nil
}

func formatDue(due *time.Time) any {
	if due == nil {
		return nil
	}
	return due.UTC().Format(time.RFC3339)
}
