package board

import "time"

// Card is a single work item. ListID is the only record of membership; the
// store keeps it equal to the list the card is filed under.
type Card struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Position    float64    `json:"position"`
	ListID      string     `json:"list_id"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// List is an ordered column of cards within a board.
type List struct {
	ID       string  `json:"id"`
	BoardID  string  `json:"board_id,omitempty"`
	Title    string  `json:"title"`
	Position float64 `json:"position"`
	Cards    []Card  `json:"cards"`
}

// Snapshot is a point-in-time copy of every list and card. It is never
// mutated after capture; Lists hands out copies.
type Snapshot struct {
	lists   []List
	version uint64
}

// Lists returns a copy of the captured lists.
func (s Snapshot) Lists() []List {
	return cloneLists(s.lists)
}

// Version is the store version the snapshot was taken at.
func (s Snapshot) Version() uint64 {
	return s.version
}

// IsZero reports whether s was never captured.
func (s Snapshot) IsZero() bool {
	return s.lists == nil && s.version == 0
}

// Locate finds a card inside the snapshot.
func (s Snapshot) Locate(cardID string) (Card, bool) {
	for _, l := range s.lists {
		for _, c := range l.Cards {
			if c.ID == cardID {
				return c, true
			}
		}
	}
	return Card{}, false
}
