package board

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.SetLists([]List{
		{ID: "L1", Title: "To Do", Position: 1, Cards: []Card{
			{ID: "C1", Title: "first", Position: 1},
			{ID: "C2", Title: "second", Position: 2},
		}},
		{ID: "L2", Title: "Doing", Position: 2},
		{ID: "L3", Title: "Done", Position: 3},
	})
	return s
}

func cardIDs(t *testing.T, s *Store, listID string) []string {
	t.Helper()
	l, ok := s.List(listID)
	require.True(t, ok, "list %s", listID)
	ids := make([]string, 0, len(l.Cards))
	for _, c := range l.Cards {
		ids = append(ids, c.ID)
	}
	return ids
}

func assertSorted(t *testing.T, s *Store) {
	t.Helper()
	seen := map[string]string{}
	for _, l := range s.Lists() {
		for i, c := range l.Cards {
			assert.Equal(t, l.ID, c.ListID, "card %s", c.ID)
			if i > 0 {
				assert.LessOrEqual(t, l.Cards[i-1].Position, c.Position, "list %s out of order", l.ID)
			}
			prev, dup := seen[c.ID]
			assert.False(t, dup, "card %s in both %s and %s", c.ID, prev, l.ID)
			seen[c.ID] = l.ID
		}
	}
}

func TestStore_SetListsSortsAndFixesMembership(t *testing.T) {
	s := NewStore()
	s.SetLists([]List{
		{ID: "B", Position: 2, Cards: []Card{{ID: "y", Position: 5, ListID: "wrong"}, {ID: "x", Position: 1}}},
		{ID: "A", Position: 1},
	})

	lists := s.Lists()
	require.Len(t, lists, 2)
	assert.Equal(t, "A", lists[0].ID)
	assert.Equal(t, []string{"x", "y"}, cardIDs(t, s, "B"))
	c, ok := s.Card("y")
	require.True(t, ok)
	assert.Equal(t, "B", c.ListID)
}

func TestStore_SetListsCopiesInput(t *testing.T) {
	in := []List{{ID: "L1", Cards: []Card{{ID: "C1", Title: "orig", Position: 1}}}}
	s := NewStore()
	s.SetLists(in)
	in[0].Cards[0].Title = "changed"

	c, _ := s.Card("C1")
	assert.Equal(t, "orig", c.Title)
}

func TestStore_AddListAndCard(t *testing.T) {
	s := newTestStore(t)
	s.AddList(List{ID: "L0", Title: "Backlog", Position: 0.5})
	s.AddCard("L1", Card{ID: "C3", Title: "third", Position: 1.5})
	s.AddCard("missing", Card{ID: "C4", Position: 1})
	s.AddCard("L2", Card{ID: "C1", Position: 9})

	lists := s.Lists()
	assert.Equal(t, "L0", lists[0].ID)
	assert.Equal(t, []string{"C1", "C3", "C2"}, cardIDs(t, s, "L1"))
	assert.Empty(t, cardIDs(t, s, "L2"))
	_, ok := s.Card("C4")
	assert.False(t, ok)
}

func TestStore_RemoveCard(t *testing.T) {
	s := newTestStore(t)
	s.RemoveCard("L1", "C1")
	s.RemoveCard("L1", "nope")
	s.RemoveCard("L9", "C2")

	assert.Equal(t, []string{"C2"}, cardIDs(t, s, "L1"))
}

func TestStore_MoveIntoEmptyList(t *testing.T) {
	s := newTestStore(t)
	require.True(t, s.MoveCard("C1", "L1", "L2", 1))

	c, _ := s.Card("C1")
	assert.Equal(t, "L2", c.ListID)
	assert.Equal(t, 1.0, c.Position)
	assert.Equal(t, []string{"C2"}, cardIDs(t, s, "L1"))
	assert.Equal(t, []string{"C1"}, cardIDs(t, s, "L2"))
}

func TestStore_MoveWithinListResorts(t *testing.T) {
	s := newTestStore(t)
	s.MoveCard("C2", "L1", "L1", 0.5)

	l, _ := s.List("L1")
	require.Len(t, l.Cards, 2)
	assert.Equal(t, "C2", l.Cards[0].ID)
	assert.Equal(t, 0.5, l.Cards[0].Position)
	assert.Equal(t, "C1", l.Cards[1].ID)
	assert.Equal(t, 1.0, l.Cards[1].Position)
}

func TestStore_MoveOntoEqualPositionTakesSlot(t *testing.T) {
	s := newTestStore(t)
	s.MoveCard("C2", "L1", "L1", 1)
	assert.Equal(t, []string{"C2", "C1"}, cardIDs(t, s, "L1"))
}

func TestStore_MoveIsIdempotent(t *testing.T) {
	for _, target := range []string{"L1", "L2"} {
		s := newTestStore(t)
		s.MoveCard("C1", "L1", target, 7)
		once := s.Lists()
		version := s.Version()

		s.MoveCard("C1", "L1", target, 7)
		assert.Equal(t, once, s.Lists(), "target %s", target)
		assert.Equal(t, version, s.Version(), "target %s", target)
	}
}

func TestStore_MoveMissingIsNoop(t *testing.T) {
	s := newTestStore(t)
	before := s.Lists()

	assert.False(t, s.MoveCard("C9", "L1", "L2", 1))
	assert.False(t, s.MoveCard("C1", "L2", "L3", 1))
	assert.False(t, s.MoveCard("C1", "L1", "L9", 1))
	assert.False(t, s.MoveCard("C1", "L9", "L2", 1))
	assert.Equal(t, before, s.Lists())
}

func TestStore_RollbackRestoresExactState(t *testing.T) {
	s := newTestStore(t)
	before := s.Lists()

	s.SaveState()
	s.MoveCard("C1", "L1", "L2", 1)
	s.MoveCard("C2", "L1", "L3", 1)
	s.MoveCard("C1", "L2", "L3", 0.5)

	require.True(t, s.Rollback())
	assert.Equal(t, before, s.Lists())
	assertSorted(t, s)
}

func TestStore_RollbackConsumesSnapshot(t *testing.T) {
	s := newTestStore(t)
	assert.False(t, s.Rollback())

	s.SaveState()
	s.MoveCard("C1", "L1", "L2", 1)
	require.True(t, s.Rollback())

	s.MoveCard("C1", "L1", "L3", 1)
	assert.False(t, s.Rollback())
	c, _ := s.Card("C1")
	assert.Equal(t, "L3", c.ListID)
}

func TestStore_SnapshotIsImmutable(t *testing.T) {
	s := newTestStore(t)
	snap := s.Snapshot()

	got := snap.Lists()
	got[0].Cards[0].Title = "tampered"
	s.MoveCard("C1", "L1", "L2", 1)

	c, ok := snap.Locate("C1")
	require.True(t, ok)
	assert.Equal(t, "first", c.Title)
	assert.Equal(t, "L1", c.ListID)

	s.Restore(snap)
	assert.Equal(t, []string{"C1", "C2"}, cardIDs(t, s, "L1"))
}

func TestStore_ResetBoard(t *testing.T) {
	s := newTestStore(t)
	s.SaveState()
	s.ResetBoard()

	assert.Empty(t, s.Lists())
	assert.False(t, s.Rollback())
}

func TestStore_RandomMovesKeepInvariants(t *testing.T) {
	s := newTestStore(t)
	for i := 3; i <= 12; i++ {
		s.AddCard("L1", Card{ID: "C" + string(rune('A'+i)), Position: float64(i)})
	}
	initial := s.Lists()
	s.SaveState()

	rng := rand.New(rand.NewSource(42))
	listIDs := []string{"L1", "L2", "L3"}
	for i := 0; i < 500; i++ {
		lists := s.Lists()
		src := lists[rng.Intn(len(lists))]
		if len(src.Cards) == 0 {
			continue
		}
		card := src.Cards[rng.Intn(len(src.Cards))]
		s.MoveCard(card.ID, src.ID, listIDs[rng.Intn(len(listIDs))], rng.Float64()*20)
		assertSorted(t, s)
	}

	require.True(t, s.Rollback())
	assert.Equal(t, initial, s.Lists())
}

func TestStore_SubscribersSeeChanges(t *testing.T) {
	s := newTestStore(t)
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	s.MoveCard("C1", "L1", "L2", 1)
	change := <-ch
	assert.Equal(t, ChangeMoveCard, change.Kind)
	assert.Equal(t, "C1", change.CardID)
	assert.Equal(t, s.Version(), change.Version)

	s.MoveCard("C1", "L1", "L2", 1)
	select {
	case c := <-ch:
		t.Fatalf("unexpected change for no-op move: %+v", c)
	default:
	}
}

func TestStore_UnsubscribeClosesOnce(t *testing.T) {
	s := NewStore()
	ch := s.Subscribe()
	s.Unsubscribe(ch)
	s.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)
}

func TestStore_DiscardOnlyClearsMatchingSlot(t *testing.T) {
	s := NewStore()
	s.SetLists([]List{{ID: "L1", Position: 1}, {ID: "L2", Position: 2}})
	s.AddCard("L1", Card{ID: "C1", Position: 1})

	older := s.SaveState()
	require.True(t, s.MoveCard("C1", "L1", "L2", 1))
	newer := s.SaveState()

	assert.False(t, s.Discard(older))
	assert.True(t, s.Discard(newer))
	assert.False(t, s.Discard(newer))
	assert.False(t, s.Rollback())
	c, ok := s.Card("C1")
	require.True(t, ok)
	assert.Equal(t, "L2", c.ListID)
}
