// Package ordering computes position repairs for cards kept in dense,
// zero-based order within their list. It performs no I/O: callers execute
// the returned shifts against their store inside one unit of work.
package ordering

import (
	"fmt"
	"sort"
)

// Unbounded marks a shift range with no upper limit.
const Unbounded = -1

// Shift adds Delta to the position of every card in ListID whose position
// lies in [Min, Max], skipping ExcludeID.
type Shift struct {
	ListID    string
	Min       int
	Max       int
	Delta     int
	ExcludeID string
}

// Covers reports whether a card at pos falls inside the shift range.
func (s Shift) Covers(pos int) bool {
	if pos < s.Min {
		return false
	}
	return s.Max == Unbounded || pos <= s.Max
}

// Move is the plan for relocating one card.
type Move struct {
	CardID       string
	SourceListID string
	DestListID   string
	OldPosition  int
	NewPosition  int
	Shifts       []Shift
}

func (m Move) SameList() bool {
	return m.SourceListID == m.DestListID
}

// NoOp is true when the card stays where it is.
func (m Move) NoOp() bool {
	return m.SameList() && m.OldPosition == m.NewPosition
}

// ClampIndex bounds a requested index to the valid insertion slots.
// destCount is the number of cards currently in the destination list; for a
// same-list move it includes the moving card, so the last slot is destCount-1.
func ClampIndex(target, destCount int, sameList bool) int {
	upper := destCount
	if sameList {
		upper = destCount - 1
	}
	if upper < 0 {
		upper = 0
	}
	if target < 0 {
		return 0
	}
	if target > upper {
		return upper
	}
	return target
}

// PlanMove computes the shifts that keep both affected lists dense when the
// card at oldPos in sourceListID is moved to index target of destListID.
func PlanMove(cardID, sourceListID, destListID string, oldPos, destCount, target int) Move {
	sameList := sourceListID == destListID
	newPos := ClampIndex(target, destCount, sameList)
	move := Move{
		CardID:       cardID,
		SourceListID: sourceListID,
		DestListID:   destListID,
		OldPosition:  oldPos,
		NewPosition:  newPos,
	}

	if sameList {
		switch {
		case oldPos < newPos:
			move.Shifts = []Shift{{ListID: sourceListID, Min: oldPos + 1, Max: newPos, Delta: -1, ExcludeID: cardID}}
		case oldPos > newPos:
			move.Shifts = []Shift{{ListID: sourceListID, Min: newPos, Max: oldPos - 1, Delta: 1, ExcludeID: cardID}}
		}
		return move
	}

	move.Shifts = []Shift{
		{ListID: sourceListID, Min: oldPos + 1, Max: Unbounded, Delta: -1, ExcludeID: cardID},
		{ListID: destListID, Min: newPos, Max: Unbounded, Delta: 1, ExcludeID: cardID},
	}
	return move
}

// PlanRemoval closes the gap left by deleting the card at pos.
func PlanRemoval(listID, cardID string, pos int) Shift {
	return Shift{ListID: listID, Min: pos + 1, Max: Unbounded, Delta: -1, ExcludeID: cardID}
}

// NextPosition is the tail slot of a container whose highest position is
// maxPos; an empty container reports maxPos as -1.
func NextPosition(maxPos int) int {
	if maxPos < 0 {
		return 0
	}
	return maxPos + 1
}

// Placement is the authoritative location of a card.
type Placement struct {
	ID       string
	ListID   string
	Position int
}

// ApplyShift applies s to placements in place.
func ApplyShift(placements []Placement, s Shift) {
	for i := range placements {
		p := &placements[i]
		if p.ListID != s.ListID || p.ID == s.ExcludeID {
			continue
		}
		if s.Covers(p.Position) {
			p.Position += s.Delta
		}
	}
}

// Apply returns a copy of placements with the move applied.
func Apply(placements []Placement, m Move) []Placement {
	out := make([]Placement, len(placements))
	copy(out, placements)
	if m.NoOp() {
		return out
	}
	for _, s := range m.Shifts {
		ApplyShift(out, s)
	}
	for i := range out {
		if out[i].ID == m.CardID {
			out[i].ListID = m.DestListID
			out[i].Position = m.NewPosition
		}
	}
	return out
}

// Verify checks that positions in every list named in lists (or in every
// list present when lists is empty) are exactly 0..n-1.
func Verify(placements []Placement, lists ...string) error {
	byList := make(map[string][]int)
	for _, p := range placements {
		byList[p.ListID] = append(byList[p.ListID], p.Position)
	}
	if len(lists) == 0 {
		for id := range byList {
			lists = append(lists, id)
		}
		sort.Strings(lists)
	}
	for _, listID := range lists {
		positions := byList[listID]
		sort.Ints(positions)
		for i, pos := range positions {
			if pos != i {
				return fmt.Errorf("list %s: expected position %d, found %d", listID, i, pos)
			}
		}
	}
	return nil
}
