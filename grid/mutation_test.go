package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func remove(id int) Mutation {
	return RemoveTupleMutation{Key: NewEntityKey("t", []string{"id"}, id)}
}

func TestFlatten_KeepsOrderAcrossGroupKinds(t *testing.T) {
	t.Parallel()
	ak := AssociationKey{Table: "a", Columns: []string{"id"}, Values: []any{1}}
	queue := []Mutation{
		remove(1),
		EntityChanges{Changes: []Mutation{
			remove(2),
			AssociationChanges{Key: ak, Changes: []Mutation{remove(3), remove(4)}},
			remove(5),
		}},
		&AssociationChanges{Key: ak, Changes: []Mutation{remove(6)}},
		&EntityChanges{},
		remove(7),
	}

	got := Flatten(queue, GroupMembers)
	assert.Equal(t, []Mutation{remove(1), remove(2), remove(3), remove(4), remove(5), remove(6), remove(7)}, got)
}

func TestFlatten_CustomPredicate(t *testing.T) {
	t.Parallel()
	queue := []Mutation{
		EntityChanges{Changes: []Mutation{remove(1)}},
		AssociationChanges{Changes: []Mutation{remove(2)}},
	}
	onlyEntities := func(m Mutation) ([]Mutation, bool) {
		g, ok := m.(EntityChanges)
		return g.Changes, ok
	}

	got := Flatten(queue, onlyEntities)
	require.Len(t, got, 2)
	assert.Equal(t, remove(1), got[0])
	assert.IsType(t, AssociationChanges{}, got[1])
}

// nestedQueue builds a random tree of groups and returns it together with
// its leaves in depth-first order.
func nestedQueue(t *rapid.T, depth int, next *int) ([]Mutation, []Mutation) {
	n := rapid.IntRange(0, 4).Draw(t, "width")
	var queue, leaves []Mutation
	for i := 0; i < n; i++ {
		if depth > 0 && rapid.Bool().Draw(t, "group") {
			inner, innerLeaves := nestedQueue(t, depth-1, next)
			if rapid.Bool().Draw(t, "entity") {
				queue = append(queue, EntityChanges{Changes: inner})
			} else {
				queue = append(queue, AssociationChanges{Changes: inner})
			}
			leaves = append(leaves, innerLeaves...)
			continue
		}
		*next++
		m := remove(*next)
		queue = append(queue, m)
		leaves = append(leaves, m)
	}
	return queue, leaves
}

func TestFlatten_Property(t *testing.T) {
	t.Parallel()
	rapid.Check(t, func(t *rapid.T) {
		counter := 0
		queue, leaves := nestedQueue(t, 3, &counter)
		got := Flatten(queue, GroupMembers)
		if len(leaves) == 0 {
			require.Empty(t, got)
			return
		}
		require.Equal(t, leaves, got)
	})
}
