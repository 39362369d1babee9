// Package board holds the optimistic, in-memory view of a board that an
// editing session renders from and mutates before the server agrees.
package board

import (
	"sort"
	"sync"

	"github.com/brunoga/deep"
	log "github.com/sirupsen/logrus"
)

// ChangeKind says what kind of mutation produced a Change.
type ChangeKind int

const (
	ChangeLoad ChangeKind = iota
	ChangeReset
	ChangeAddList
	ChangeAddCard
	ChangeRemoveCard
	ChangeMoveCard
	ChangeRestore
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeLoad:
		return "load"
	case ChangeReset:
		return "reset"
	case ChangeAddList:
		return "add-list"
	case ChangeAddCard:
		return "add-card"
	case ChangeRemoveCard:
		return "remove-card"
	case ChangeMoveCard:
		return "move-card"
	case ChangeRestore:
		return "restore"
	}
	return "unknown"
}

// Change is delivered to subscribers after every mutation.
type Change struct {
	Kind    ChangeKind
	Version uint64
	ListID  string
	CardID  string
}

// Store is the mutable source of truth for one editing session. Instances
// are independent; nothing here is global.
type Store struct {
	mu      sync.RWMutex
	lists   []List
	saved   *Snapshot
	version uint64
	subs    map[chan Change]struct{}
}

func NewStore() *Store {
	return &Store{
		subs: make(map[chan Change]struct{}),
	}
}

// SetLists replaces the whole collection, typically after a board load.
func (s *Store) SetLists(lists []List) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := cloneLists(lists)
	sort.SliceStable(next, func(i, j int) bool { return next[i].Position < next[j].Position })
	for i := range next {
		if next[i].Cards == nil {
			next[i].Cards = []Card{}
		}
		for j := range next[i].Cards {
			next[i].Cards[j].ListID = next[i].ID
		}
		cards := next[i].Cards
		sort.SliceStable(cards, func(a, b int) bool { return cards[a].Position < cards[b].Position })
	}
	s.lists = next
	s.commitLocked(Change{Kind: ChangeLoad})
}

// AddList appends a list. A list whose ID is already present is ignored.
func (s *Store) AddList(l List) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listIndexLocked(l.ID) >= 0 {
		return
	}
	l = cloneList(l)
	if l.Cards == nil {
		l.Cards = []Card{}
	}
	for i := range l.Cards {
		l.Cards[i].ListID = l.ID
	}
	idx := sort.Search(len(s.lists), func(i int) bool { return s.lists[i].Position > l.Position })
	s.lists = append(s.lists, List{})
	copy(s.lists[idx+1:], s.lists[idx:])
	s.lists[idx] = l
	s.commitLocked(Change{Kind: ChangeAddList, ListID: l.ID})
}

// AddCard files a card under listID. Unknown lists and duplicate card IDs
// are ignored.
func (s *Store) AddCard(listID string, c Card) {
	s.mu.Lock()
	defer s.mu.Unlock()

	li := s.listIndexLocked(listID)
	if li < 0 {
		return
	}
	if _, _, ok := s.locateLocked(c.ID); ok {
		return
	}
	c = cloneCard(c)
	c.ListID = listID
	s.insertLocked(li, c)
	s.commitLocked(Change{Kind: ChangeAddCard, ListID: listID, CardID: c.ID})
}

// RemoveCard drops a card from a list. Missing cards are ignored.
func (s *Store) RemoveCard(listID, cardID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	li := s.listIndexLocked(listID)
	if li < 0 {
		return
	}
	ci := cardIndex(s.lists[li].Cards, cardID)
	if ci < 0 {
		return
	}
	s.lists[li].Cards = removeAt(s.lists[li].Cards, ci)
	s.commitLocked(Change{Kind: ChangeRemoveCard, ListID: listID, CardID: cardID})
}

// MoveCard refiles a card from sourceListID into targetListID at
// newPosition. It reports whether anything changed. A card that is not in
// the source list, or a target list that does not exist, makes the call a
// no-op: the caller may be acting on a stale event.
func (s *Store) MoveCard(cardID, sourceListID, targetListID string, newPosition float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	si := s.listIndexLocked(sourceListID)
	ti := s.listIndexLocked(targetListID)
	if si < 0 || ti < 0 {
		return false
	}
	ci := cardIndex(s.lists[si].Cards, cardID)
	if ci < 0 {
		return false
	}

	card := s.lists[si].Cards[ci]
	if si == ti && card.Position == newPosition {
		return false
	}

	s.lists[si].Cards = removeAt(s.lists[si].Cards, ci)
	card.Position = newPosition
	card.ListID = targetListID
	s.insertLocked(ti, card)
	s.commitLocked(Change{Kind: ChangeMoveCard, ListID: targetListID, CardID: cardID})
	return true
}

// Snapshot captures the current lists without touching the rollback slot.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// SaveState captures the current lists into the rollback slot, replacing
// any earlier unconsumed snapshot, and returns it.
func (s *Store) SaveState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	s.saved = &snap
	return snap
}

// Rollback restores the snapshot taken by the last SaveState and consumes
// it. Without one it does nothing.
func (s *Store) Rollback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved == nil {
		return false
	}
	snap := *s.saved
	s.saved = nil
	s.restoreLocked(snap)
	return true
}

// Discard empties the rollback slot if it still holds snap, once the move
// it was saved for has settled. A slot refilled by a later SaveState is
// left alone.
func (s *Store) Discard(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saved == nil || s.saved.version != snap.version {
		return false
	}
	s.saved = nil
	return true
}

// Restore replaces the current state with snap wholesale.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(snap)
}

// ResetBoard empties the store, including any saved snapshot.
func (s *Store) ResetBoard() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists = nil
	s.saved = nil
	s.commitLocked(Change{Kind: ChangeReset})
}

// Lists returns a copy of every list with its cards.
func (s *Store) Lists() []List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneLists(s.lists)
}

// List returns a copy of one list.
func (s *Store) List(listID string) (List, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	li := s.listIndexLocked(listID)
	if li < 0 {
		return List{}, false
	}
	return cloneList(s.lists[li]), true
}

// Card returns a copy of one card.
func (s *Store) Card(cardID string) (Card, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	li, ci, ok := s.locateLocked(cardID)
	if !ok {
		return Card{}, false
	}
	return cloneCard(s.lists[li].Cards[ci]), true
}

// Locate returns the list holding cardID and the card's index in it.
func (s *Store) Locate(cardID string) (listID string, index int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	li, ci, ok := s.locateLocked(cardID)
	if !ok {
		return "", -1, false
	}
	return s.lists[li].ID, ci, true
}

// Version increases by one on every mutation.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

func (s *Store) Subscribe() chan Change {
	ch := make(chan Change, 64)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[ch] = struct{}{}
	return ch
}

func (s *Store) Unsubscribe(ch chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[ch]; !ok {
		return
	}
	delete(s.subs, ch)
	close(ch)
}

func (s *Store) commitLocked(c Change) {
	s.version++
	c.Version = s.version
	for ch := range s.subs {
		select {
		case ch <- c:
		default:
			log.WithField("change", c.Kind).Debug("board subscriber is behind, dropping change")
		}
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{lists: cloneLists(s.lists), version: s.version}
}

func (s *Store) restoreLocked(snap Snapshot) {
	s.lists = cloneLists(snap.lists)
	s.commitLocked(Change{Kind: ChangeRestore})
}

// insertLocked places c in list li after every card whose position is
// strictly lower, so a card dropped on an equal key takes that slot.
func (s *Store) insertLocked(li int, c Card) {
	cards := s.lists[li].Cards
	idx := sort.Search(len(cards), func(i int) bool { return cards[i].Position >= c.Position })
	cards = append(cards, Card{})
	copy(cards[idx+1:], cards[idx:])
	cards[idx] = c
	s.lists[li].Cards = cards
}

func (s *Store) listIndexLocked(listID string) int {
	for i := range s.lists {
		if s.lists[i].ID == listID {
			return i
		}
	}
	return -1
}

func (s *Store) locateLocked(cardID string) (int, int, bool) {
	for li := range s.lists {
		if ci := cardIndex(s.lists[li].Cards, cardID); ci >= 0 {
			return li, ci, true
		}
	}
	return -1, -1, false
}

func cardIndex(cards []Card, cardID string) int {
	for i := range cards {
		if cards[i].ID == cardID {
			return i
		}
	}
	return -1
}

func removeAt(cards []Card, i int) []Card {
	out := make([]Card, 0, len(cards)-1)
	out = append(out, cards[:i]...)
	return append(out, cards[i+1:]...)
}

func cloneLists(lists []List) []List {
	if lists == nil {
		return nil
	}
	return deep.MustCopy(lists)
}

func cloneList(l List) List {
	return deep.MustCopy(l)
}

func cloneCard(c Card) Card {
	return deep.MustCopy(c)
}
