package ordering

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listOf(listID string, ids ...string) []Placement {
	out := make([]Placement, 0, len(ids))
	for i, id := range ids {
		out = append(out, Placement{ID: id, ListID: listID, Position: i})
	}
	return out
}

func order(placements []Placement, listID string) []string {
	byPos := map[int]string{}
	for _, p := range placements {
		if p.ListID == listID {
			byPos[p.Position] = p.ID
		}
	}
	out := make([]string, 0, len(byPos))
	for i := 0; i < len(byPos); i++ {
		out = append(out, byPos[i])
	}
	return out
}

func TestSameListMoveDown(t *testing.T) {
	cards := listOf("L1", "a", "b", "c", "d")
	m := PlanMove("a", "L1", "L1", 0, 4, 2)

	require.Len(t, m.Shifts, 1)
	assert.Equal(t, Shift{ListID: "L1", Min: 1, Max: 2, Delta: -1, ExcludeID: "a"}, m.Shifts[0])

	got := Apply(cards, m)
	assert.Equal(t, []string{"b", "c", "a", "d"}, order(got, "L1"))
	require.NoError(t, Verify(got))
}

func TestSameListMoveUp(t *testing.T) {
	cards := listOf("L1", "a", "b", "c", "d")
	m := PlanMove("d", "L1", "L1", 3, 4, 1)

	require.Len(t, m.Shifts, 1)
	assert.Equal(t, Shift{ListID: "L1", Min: 1, Max: 2, Delta: 1, ExcludeID: "d"}, m.Shifts[0])

	got := Apply(cards, m)
	assert.Equal(t, []string{"a", "d", "b", "c"}, order(got, "L1"))
	require.NoError(t, Verify(got))
}

func TestCrossListMove(t *testing.T) {
	cards := append(listOf("L1", "a", "b", "c"), listOf("L2", "x", "y")...)
	m := PlanMove("b", "L1", "L2", 1, 2, 1)

	require.Len(t, m.Shifts, 2)
	got := Apply(cards, m)
	assert.Equal(t, []string{"a", "c"}, order(got, "L1"))
	assert.Equal(t, []string{"x", "b", "y"}, order(got, "L2"))
	require.NoError(t, Verify(got))
}

func TestCrossListMoveIntoEmptyList(t *testing.T) {
	cards := listOf("L1", "a", "b")
	m := PlanMove("a", "L1", "L2", 0, 0, 5)

	assert.Equal(t, 0, m.NewPosition)
	got := Apply(cards, m)
	assert.Equal(t, []string{"b"}, order(got, "L1"))
	assert.Equal(t, []string{"a"}, order(got, "L2"))
	require.NoError(t, Verify(got))
}

func TestClampIndex(t *testing.T) {
	cases := []struct {
		name      string
		target    int
		destCount int
		sameList  bool
		want      int
	}{
		{name: "same list past end", target: 9, destCount: 3, sameList: true, want: 2},
		{name: "cross list past end appends", target: 9, destCount: 3, sameList: false, want: 3},
		{name: "cross list tail slot", target: 3, destCount: 3, sameList: false, want: 3},
		{name: "negative", target: -4, destCount: 3, sameList: false, want: 0},
		{name: "empty destination", target: 2, destCount: 0, sameList: false, want: 0},
		{name: "in range", target: 1, destCount: 3, sameList: true, want: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClampIndex(tc.target, tc.destCount, tc.sameList))
		})
	}
}

func TestNoOpMove(t *testing.T) {
	cards := listOf("L1", "a", "b", "c")
	m := PlanMove("b", "L1", "L1", 1, 3, 1)

	assert.True(t, m.NoOp())
	assert.Empty(t, m.Shifts)
	assert.Equal(t, cards, Apply(cards, m))
}

func TestSameListClampToTailIsNoOpForLastCard(t *testing.T) {
	m := PlanMove("c", "L1", "L1", 2, 3, 50)
	assert.True(t, m.NoOp())
}

func TestPlanRemoval(t *testing.T) {
	cards := listOf("L1", "a", "b", "c", "d")
	remaining := make([]Placement, 0, len(cards))
	for _, p := range cards {
		if p.ID != "b" {
			remaining = append(remaining, p)
		}
	}
	ApplyShift(remaining, PlanRemoval("L1", "b", 1))

	assert.Equal(t, []string{"a", "c", "d"}, order(remaining, "L1"))
	require.NoError(t, Verify(remaining))
}

func TestNextPosition(t *testing.T) {
	assert.Equal(t, 0, NextPosition(-1))
	assert.Equal(t, 4, NextPosition(3))
}

func TestVerifyDetectsGapsAndDuplicates(t *testing.T) {
	assert.Error(t, Verify([]Placement{{ID: "a", ListID: "L1", Position: 0}, {ID: "b", ListID: "L1", Position: 2}}))
	assert.Error(t, Verify([]Placement{{ID: "a", ListID: "L1", Position: 0}, {ID: "b", ListID: "L1", Position: 0}}))
	assert.NoError(t, Verify(nil, "L1"))
}

// Every combination of source slot and requested target keeps both lists
// dense and loses no card.
func TestMovesPreserveDensity(t *testing.T) {
	for size := 1; size <= 5; size++ {
		for from := 0; from < size; from++ {
			for target := -1; target <= size+1; target++ {
				ids := make([]string, size)
				for i := range ids {
					ids[i] = fmt.Sprintf("c%d", i)
				}
				card := ids[from]

				t.Run(fmt.Sprintf("same/%d/%d/%d", size, from, target), func(t *testing.T) {
					got := Apply(listOf("L1", ids...), PlanMove(card, "L1", "L1", from, size, target))
					require.NoError(t, Verify(got))
					assert.Len(t, order(got, "L1"), size)
				})

				t.Run(fmt.Sprintf("cross/%d/%d/%d", size, from, target), func(t *testing.T) {
					cards := append(listOf("L1", ids...), listOf("L2", "x", "y")...)
					m := PlanMove(card, "L1", "L2", from, 2, target)
					got := Apply(cards, m)
					require.NoError(t, Verify(got, "L1", "L2"))
					assert.Len(t, order(got, "L1"), size-1)
					assert.Len(t, order(got, "L2"), 3)
					assert.Equal(t, card, order(got, "L2")[m.NewPosition])
				})
			}
		}
	}
}
