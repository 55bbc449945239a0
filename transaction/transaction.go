// Package transaction contains the unit of communication between sensor models and the graph: an
// atomic bundle of added and removed variables and constraints with a time stamp.
package transaction

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"go.viam.com/fuse/constraint"
	"go.viam.com/fuse/variable"
)

// A Transaction is an immutable set of graph edits. It is safe to share between goroutines.
type Transaction struct {
	stamp              time.Time
	involvedStamps     []time.Time
	addedVariables     []variable.Variable
	addedConstraints   []constraint.Constraint
	removedVariables   []uuid.UUID
	removedConstraints []uuid.UUID
}

// Stamp is the time the transaction was generated.
func (tx *Transaction) Stamp() time.Time {
	return tx.stamp
}

// InvolvedStamps returns the stamps of the states the transaction touches, sorted and unique.
func (tx *Transaction) InvolvedStamps() []time.Time {
	return append([]time.Time(nil), tx.involvedStamps...)
}

// MinStamp returns the earliest of the transaction stamp and the involved stamps.
func (tx *Transaction) MinStamp() time.Time {
	if len(tx.involvedStamps) > 0 && tx.involvedStamps[0].Before(tx.stamp) {
		return tx.involvedStamps[0]
	}
	return tx.stamp
}

// MaxStamp returns the latest of the transaction stamp and the involved stamps.
func (tx *Transaction) MaxStamp() time.Time {
	if n := len(tx.involvedStamps); n > 0 && tx.involvedStamps[n-1].After(tx.stamp) {
		return tx.involvedStamps[n-1]
	}
	return tx.stamp
}

// AddedVariables returns copies of the added variables in the order they were added.
func (tx *Transaction) AddedVariables() []variable.Variable {
	return lo.Map(tx.addedVariables, func(v variable.Variable, _ int) variable.Variable {
		return v.Clone()
	})
}

// AddedConstraints returns the added constraints in the order they were added.
func (tx *Transaction) AddedConstraints() []constraint.Constraint {
	return append([]constraint.Constraint(nil), tx.addedConstraints...)
}

// RemovedVariables returns the ids of the variables to remove.
func (tx *Transaction) RemovedVariables() []uuid.UUID {
	return append([]uuid.UUID(nil), tx.removedVariables...)
}

// RemovedConstraints returns the ids of the constraints to remove.
func (tx *Transaction) RemovedConstraints() []uuid.UUID {
	return append([]uuid.UUID(nil), tx.removedConstraints...)
}

// Empty reports whether the transaction edits nothing. Stamps alone do not count as edits.
func (tx *Transaction) Empty() bool {
	return len(tx.addedVariables) == 0 && len(tx.addedConstraints) == 0 &&
		len(tx.removedVariables) == 0 && len(tx.removedConstraints) == 0
}

func (tx *Transaction) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Stamp: %d\n", tx.stamp.UnixNano())
	sb.WriteString("Involved Timestamps:\n")
	for _, stamp := range tx.involvedStamps {
		fmt.Fprintf(&sb, " - %d\n", stamp.UnixNano())
	}
	sb.WriteString("Added Variables:\n")
	for _, v := range tx.addedVariables {
		fmt.Fprintf(&sb, " - %s %s\n", v.Type(), v.ID())
	}
	sb.WriteString("Added Constraints:\n")
	for _, c := range tx.addedConstraints {
		fmt.Fprintf(&sb, " - %s %s\n", c.Type(), c.ID())
	}
	sb.WriteString("Removed Variables:\n")
	for _, id := range tx.removedVariables {
		fmt.Fprintf(&sb, " - %s\n", id)
	}
	sb.WriteString("Removed Constraints:\n")
	for _, id := range tx.removedConstraints {
		fmt.Fprintf(&sb, " - %s\n", id)
	}
	return sb.String()
}

// Builder accumulates edits for a Transaction. A Builder is not safe for concurrent use.
//
// Adding an item whose removal was already requested cancels the removal instead, since the
// receiver still holds that item. Likewise removing an item added through the same builder drops
// the addition.
type Builder struct {
	stamp              time.Time
	involvedStamps     map[int64]time.Time
	addedVariables     *orderedSet[variable.Variable]
	addedConstraints   *orderedSet[constraint.Constraint]
	removedVariables   *orderedSet[uuid.UUID]
	removedConstraints *orderedSet[uuid.UUID]
}

// NewBuilder returns an empty builder for a transaction generated at stamp.
func NewBuilder(stamp time.Time) *Builder {
	return &Builder{
		stamp:              stamp,
		involvedStamps:     map[int64]time.Time{},
		addedVariables:     newOrderedSet[variable.Variable](),
		addedConstraints:   newOrderedSet[constraint.Constraint](),
		removedVariables:   newOrderedSet[uuid.UUID](),
		removedConstraints: newOrderedSet[uuid.UUID](),
	}
}

// SetStamp changes the transaction stamp.
func (b *Builder) SetStamp(stamp time.Time) *Builder {
	b.stamp = stamp
	return b
}

// AddInvolvedStamp records that the transaction touches the state at stamp. Duplicates are
// ignored.
func (b *Builder) AddInvolvedStamp(stamp time.Time) *Builder {
	b.involvedStamps[stamp.UnixNano()] = stamp
	return b
}

// AddVariable adds a variable. An existing addition with the same id is kept unless overwrite is
// set.
func (b *Builder) AddVariable(v variable.Variable, overwrite bool) *Builder {
	if b.removedVariables.delete(v.ID()) {
		return b
	}
	b.addedVariables.put(v.ID(), v.Clone(), overwrite)
	return b
}

// RemoveVariable removes a variable added through this builder, or marks it for removal.
func (b *Builder) RemoveVariable(id uuid.UUID) *Builder {
	if b.addedVariables.delete(id) {
		return b
	}
	b.removedVariables.put(id, id, false)
	return b
}

// AddConstraint adds a constraint. An existing addition with the same id is kept unless
// overwrite is set.
func (b *Builder) AddConstraint(c constraint.Constraint, overwrite bool) *Builder {
	if b.removedConstraints.delete(c.ID()) {
		return b
	}
	b.addedConstraints.put(c.ID(), c, overwrite)
	return b
}

// RemoveConstraint removes a constraint added through this builder, or marks it for removal.
func (b *Builder) RemoveConstraint(id uuid.UUID) *Builder {
	if b.addedConstraints.delete(id) {
		return b
	}
	b.removedConstraints.put(id, id, false)
	return b
}

// Merge folds another transaction into the builder. The stamp becomes the later of the two.
func (b *Builder) Merge(other *Transaction, overwrite bool) *Builder {
	if other.stamp.After(b.stamp) {
		b.stamp = other.stamp
	}
	for _, stamp := range other.involvedStamps {
		b.AddInvolvedStamp(stamp)
	}
	for _, c := range other.addedConstraints {
		b.AddConstraint(c, overwrite)
	}
	for _, id := range other.removedConstraints {
		b.RemoveConstraint(id)
	}
	for _, v := range other.addedVariables {
		b.AddVariable(v, overwrite)
	}
	for _, id := range other.removedVariables {
		b.RemoveVariable(id)
	}
	return b
}

// Build returns the transaction built so far. The builder may continue to be used.
func (b *Builder) Build() *Transaction {
	stamps := lo.Values(b.involvedStamps)
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	return &Transaction{
		stamp:          b.stamp,
		involvedStamps: stamps,
		addedVariables: lo.Map(b.addedVariables.values(), func(v variable.Variable, _ int) variable.Variable {
			return v.Clone()
		}),
		addedConstraints:   b.addedConstraints.values(),
		removedVariables:   b.removedVariables.values(),
		removedConstraints: b.removedConstraints.values(),
	}
}

// orderedSet is a map from id to item that remembers insertion order.
type orderedSet[T any] struct {
	order []uuid.UUID
	items map[uuid.UUID]T
}

func newOrderedSet[T any]() *orderedSet[T] {
	return &orderedSet[T]{items: map[uuid.UUID]T{}}
}

func (s *orderedSet[T]) put(id uuid.UUID, item T, overwrite bool) {
	if _, ok := s.items[id]; ok {
		if overwrite {
			s.items[id] = item
		}
		return
	}
	s.order = append(s.order, id)
	s.items[id] = item
}

func (s *orderedSet[T]) delete(id uuid.UUID) bool {
	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	s.order = lo.Without(s.order, id)
	return true
}

func (s *orderedSet[T]) values() []T {
	return lo.Map(s.order, func(id uuid.UUID, _ int) T { return s.items[id] })
}
