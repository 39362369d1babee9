package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunoga/plank/internal/drag"
)

func setupTestRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := Open(filepath.Join(t.TempDir(), "plank.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seeded(t *testing.T, repo *Repo, boardID string) Board {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.Seed(ctx, boardID, "Test Board"))
	b, err := repo.LoadBoard(ctx, boardID)
	require.NoError(t, err)
	return b
}

func TestRepo_SeedCreatesDefaultBoard(t *testing.T) {
	repo := setupTestRepo(t)
	b := seeded(t, repo, "main")

	assert.Equal(t, "Test Board", b.Title)
	require.Len(t, b.Lists, 3)
	assert.Equal(t, "To Do", b.Lists[0].Title)
	assert.Equal(t, "Done", b.Lists[2].Title)
	require.Len(t, b.Lists[0].Cards, 1)
	assert.Equal(t, b.Lists[0].ID, b.Lists[0].Cards[0].ListID)
	assert.Empty(t, b.Lists[1].Cards)
	assert.NotNil(t, b.Lists[1].Cards)
}

func TestRepo_SeedIsIdempotent(t *testing.T) {
	repo := setupTestRepo(t)
	first := seeded(t, repo, "main")
	second := seeded(t, repo, "main")
	assert.Equal(t, first, second)
}

func TestRepo_LoadBoardNotFound(t *testing.T) {
	repo := setupTestRepo(t)
	_, err := repo.LoadBoard(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_CreateListAndCardAppend(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	b := seeded(t, repo, "main")

	l, err := repo.CreateList(ctx, "main", "Review")
	require.NoError(t, err)
	assert.Equal(t, 4.0, l.Position)

	todo := b.Lists[0].ID
	due := time.Date(2026, 11, 1, 9, 0, 0, 0, time.UTC)
	c, err := repo.CreateCard(ctx, todo, "Write docs", "all of them", &due)
	require.NoError(t, err)
	assert.Equal(t, 2.0, c.Position)

	b, err = repo.LoadBoard(ctx, "main")
	require.NoError(t, err)
	require.Len(t, b.Lists, 4)
	assert.Equal(t, "Review", b.Lists[3].Title)
	require.Len(t, b.Lists[0].Cards, 2)
	got := b.Lists[0].Cards[1]
	assert.Equal(t, "Write docs", got.Title)
	assert.Equal(t, "all of them", got.Description)
	require.NotNil(t, got.DueDate)
	assert.True(t, due.Equal(*got.DueDate))

	_, err = repo.CreateList(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.CreateCard(ctx, "nope", "x", "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_DeleteCard(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	b := seeded(t, repo, "main")
	card := b.Lists[0].Cards[0]

	listID, err := repo.DeleteCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Lists[0].ID, listID)

	_, err = repo.DeleteCard(ctx, card.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepo_ConfirmMoveAcceptsAndRecords(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	b := seeded(t, repo, "main")
	card := b.Lists[0].Cards[0]
	doing := b.Lists[1]

	res, err := repo.ConfirmMove(ctx, drag.MoveRequest{CardID: card.ID, TargetListID: doing.ID, NewPosition: 1})
	require.NoError(t, err)
	assert.Equal(t, drag.MoveResult{Success: true}, res)

	b, err = repo.LoadBoard(ctx, "main")
	require.NoError(t, err)
	assert.Empty(t, b.Lists[0].Cards)
	require.Len(t, b.Lists[1].Cards, 1)
	assert.Equal(t, doing.ID, b.Lists[1].Cards[0].ListID)

	history, err := repo.History(ctx, "main", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, `Moved "Try Plank" from To Do to In Progress`, history[0])
}

func TestRepo_ConfirmMoveOrdersByPosition(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	b := seeded(t, repo, "main")
	todo := b.Lists[0].ID
	second, err := repo.CreateCard(ctx, todo, "Second", "", nil)
	require.NoError(t, err)

	res, err := repo.ConfirmMove(ctx, drag.MoveRequest{CardID: second.ID, TargetListID: todo, NewPosition: 0.5})
	require.NoError(t, err)
	require.True(t, res.Success)

	b, err = repo.LoadBoard(ctx, "main")
	require.NoError(t, err)
	require.Len(t, b.Lists[0].Cards, 2)
	assert.Equal(t, second.ID, b.Lists[0].Cards[0].ID)

	history, err := repo.History(ctx, "main", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{`Reordered "Second" in To Do`}, history)
}

func TestRepo_ConfirmMoveRejections(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	mainBoard := seeded(t, repo, "main")
	other := seeded(t, repo, "other")
	card := mainBoard.Lists[0].Cards[0]

	res, err := repo.ConfirmMove(ctx, drag.MoveRequest{CardID: card.ID, TargetListID: other.Lists[1].ID, NewPosition: 1})
	require.NoError(t, err)
	assert.Equal(t, drag.MoveResult{Error: "conflict"}, res)

	res, err = repo.ConfirmMove(ctx, drag.MoveRequest{CardID: "ghost", TargetListID: mainBoard.Lists[1].ID, NewPosition: 1})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")

	res, err = repo.ConfirmMove(ctx, drag.MoveRequest{CardID: card.ID, TargetListID: "ghost", NewPosition: 1})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not found")

	b, err := repo.LoadBoard(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, mainBoard, b, "rejected moves must not change the board")
}

func TestRepo_ConfirmMoveHonoursContext(t *testing.T) {
	repo := setupTestRepo(t)
	b := seeded(t, repo, "main")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := repo.ConfirmMove(ctx, drag.MoveRequest{CardID: b.Lists[0].Cards[0].ID, TargetListID: b.Lists[1].ID, NewPosition: 1})
	assert.Error(t, err)
}

func TestRepo_ClearHistoryAndReset(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()
	b := seeded(t, repo, "main")
	_, err := repo.ApplyMove(ctx, drag.MoveRequest{CardID: b.Lists[0].Cards[0].ID, TargetListID: b.Lists[2].ID, NewPosition: 1})
	require.NoError(t, err)

	require.NoError(t, repo.ClearHistory(ctx, "main"))
	history, err := repo.History(ctx, "main", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = repo.CreateList(ctx, "main", "Extra")
	require.NoError(t, err)
	require.NoError(t, repo.Reset(ctx, "main", "Fresh"))

	b, err = repo.LoadBoard(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", b.Title)
	assert.Len(t, b.Lists, 3)
	assert.Len(t, b.Lists[0].Cards, 1)
}

func TestRepo_BoardOf(t *testing.T) {
	repo := setupTestRepo(t)
	b := seeded(t, repo, "b1")

	got, err := repo.BoardOf(context.Background(), b.Lists[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "b1", got)

	_, err = repo.BoardOf(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
