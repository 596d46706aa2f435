package grid

// Mutation is one queued write. The set is closed: the four leaf kinds
// below plus the two grouping shapes.
type Mutation interface {
	mutation()
}

type InsertOrUpdateTupleMutation struct {
	Key   EntityKey
	Tuple Tuple
}

type RemoveTupleMutation struct {
	Key EntityKey
}

type InsertOrUpdateAssociationMutation struct {
	Key         AssociationKey
	Association *Association
}

type RemoveAssociationMutation struct {
	Key AssociationKey
}

// EntityChanges gathers queued writes for one entity so a store can send
// them together.
type EntityChanges struct {
	Key     EntityKey
	Changes []Mutation
}

// AssociationChanges gathers queued writes for one association.
type AssociationChanges struct {
	Key     AssociationKey
	Changes []Mutation
}

func (InsertOrUpdateTupleMutation) mutation()       {}
func (RemoveTupleMutation) mutation()               {}
func (InsertOrUpdateAssociationMutation) mutation() {}
func (RemoveAssociationMutation) mutation()         {}
func (EntityChanges) mutation()                     {}
func (AssociationChanges) mutation()                {}

// GroupMembers is the grouping predicate for the two grouping shapes.
func GroupMembers(m Mutation) ([]Mutation, bool) {
	switch g := m.(type) {
	case EntityChanges:
		return g.Changes, true
	case *EntityChanges:
		return g.Changes, true
	case AssociationChanges:
		return g.Changes, true
	case *AssociationChanges:
		return g.Changes, true
	default:
		return nil, false
	}
}

// Flatten replaces every mutation that members reports as a group with its
// members, recursively and depth first. Relative order is kept, so the
// result lists writes in the order they were queued.
func Flatten(queue []Mutation, members func(Mutation) ([]Mutation, bool)) []Mutation {
	out := make([]Mutation, 0, len(queue))
	var walk func([]Mutation)
	walk = func(ms []Mutation) {
		for _, m := range ms {
			if inner, ok := members(m); ok {
				walk(inner)
				continue
			}
			out = append(out, m)
		}
	}
	walk(queue)
	return out
}
