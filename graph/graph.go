// Package graph holds the variables and constraints of the estimation problem. A Graph only
// changes through whole transactions, so readers never observe a partially applied one.
package graph

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/fuse/constraint"
	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/variable"
)

// A Graph is the current set of variables and constraints. It is safe for concurrent use.
type Graph struct {
	mu          sync.RWMutex
	stamp       time.Time
	variables   map[uuid.UUID]variable.Variable
	constraints map[uuid.UUID]constraint.Constraint
	// connections maps each variable to the constraints that reference it.
	connections map[uuid.UUID]map[uuid.UUID]struct{}
	held        map[uuid.UUID]struct{}
}

// New returns an empty graph.
func New() *Graph {
	g := &Graph{}
	g.reset()
	return g
}

func (g *Graph) reset() {
	g.stamp = time.Time{}
	g.variables = map[uuid.UUID]variable.Variable{}
	g.constraints = map[uuid.UUID]constraint.Constraint{}
	g.connections = map[uuid.UUID]map[uuid.UUID]struct{}{}
	g.held = map[uuid.UUID]struct{}{}
}

// Apply validates the transaction against the graph and then applies it in full: variables are
// added, then constraints are added, then constraints are removed, then variables are removed.
// A rejected transaction returns a *ValidationError and leaves the graph untouched.
func (g *Graph) Apply(tx *transaction.Transaction) error {
	addedVariables := tx.AddedVariables()
	addedConstraints := tx.AddedConstraints()
	removedVariables := tx.RemovedVariables()
	removedConstraints := tx.RemovedConstraints()

	g.mu.Lock()
	defer g.mu.Unlock()

	newVariables, err := g.validate(addedVariables, addedConstraints, removedVariables, removedConstraints)
	if err != nil {
		return err
	}

	for _, v := range newVariables {
		g.variables[v.ID()] = v
		g.connections[v.ID()] = map[uuid.UUID]struct{}{}
	}
	for _, c := range addedConstraints {
		g.addConstraint(c)
	}
	for _, id := range removedConstraints {
		g.removeConstraint(id)
	}
	for _, id := range removedVariables {
		delete(g.variables, id)
		delete(g.connections, id)
		delete(g.held, id)
	}
	if stamp := tx.MaxStamp(); stamp.After(g.stamp) {
		g.stamp = stamp
	}
	return nil
}

// validate checks every rule before anything is mutated and returns the variables that are new
// to the graph. Callers must hold the write lock.
func (g *Graph) validate(
	addedVariables []variable.Variable,
	addedConstraints []constraint.Constraint,
	removedVariables, removedConstraints []uuid.UUID,
) ([]variable.Variable, error) {
	removedVariableSet := lo.SliceToMap(removedVariables, func(id uuid.UUID) (uuid.UUID, struct{}) {
		return id, struct{}{}
	})
	removedConstraintSet := lo.SliceToMap(removedConstraints, func(id uuid.UUID) (uuid.UUID, struct{}) {
		return id, struct{}{}
	})

	var newVariables []variable.Variable
	addedVariableSet := map[uuid.UUID]struct{}{}
	for _, v := range addedVariables {
		if _, dup := addedVariableSet[v.ID()]; dup {
			return nil, invalidVariable(v.ID(), "is added more than once")
		}
		addedVariableSet[v.ID()] = struct{}{}
		if existing, ok := g.variables[v.ID()]; ok {
			// Identity is derived from type, stamp and source, so a second sensor describing the
			// same quantity adds nothing new.
			if existing.Type() != v.Type() {
				return nil, invalidVariable(v.ID(), "already exists with type %s, cannot add it as %s", existing.Type(), v.Type())
			}
			continue
		}
		newVariables = append(newVariables, v)
	}

	addedConstraintSet := map[uuid.UUID]struct{}{}
	for _, c := range addedConstraints {
		if _, dup := addedConstraintSet[c.ID()]; dup {
			return nil, invalidConstraint(c.ID(), "is added more than once")
		}
		addedConstraintSet[c.ID()] = struct{}{}
		if _, ok := g.constraints[c.ID()]; ok {
			return nil, invalidConstraint(c.ID(), "already exists")
		}
		for _, varID := range c.Variables() {
			_, inGraph := g.variables[varID]
			_, inTx := addedVariableSet[varID]
			if !inGraph && !inTx {
				return nil, invalidConstraint(c.ID(), "references variable %s which does not exist", varID)
			}
			if _, removed := removedVariableSet[varID]; removed {
				return nil, invalidConstraint(c.ID(), "references variable %s which the same transaction removes", varID)
			}
		}
	}

	for _, id := range removedConstraints {
		if _, ok := g.constraints[id]; !ok {
			return nil, invalidConstraint(id, "cannot be removed because it does not exist")
		}
	}

	for _, id := range removedVariables {
		if _, ok := g.variables[id]; !ok {
			return nil, invalidVariable(id, "cannot be removed because it does not exist")
		}
		for cID := range g.connections[id] {
			if _, removed := removedConstraintSet[cID]; !removed {
				return nil, invalidVariable(id, "cannot be removed while constraint %s references it", cID)
			}
		}
	}

	return lo.Map(newVariables, func(v variable.Variable, _ int) variable.Variable { return v.Clone() }), nil
}

func (g *Graph) addConstraint(c constraint.Constraint) {
	g.constraints[c.ID()] = c
	for _, varID := range c.Variables() {
		g.connections[varID][c.ID()] = struct{}{}
	}
}

func (g *Graph) removeConstraint(id uuid.UUID) {
	c := g.constraints[id]
	for _, varID := range c.Variables() {
		delete(g.connections[varID], id)
	}
	delete(g.constraints, id)
}

// Clear removes every variable and constraint and resets the stamp.
func (g *Graph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}

// Clone returns a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	clone := New()
	clone.stamp = g.stamp
	for id, v := range g.variables {
		clone.variables[id] = v.Clone()
		clone.connections[id] = map[uuid.UUID]struct{}{}
	}
	for _, c := range g.constraints {
		clone.addConstraint(c)
	}
	for id := range g.held {
		clone.held[id] = struct{}{}
	}
	return clone
}

// Stamp returns the latest stamp of any applied transaction.
func (g *Graph) Stamp() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stamp
}

// Empty reports whether the graph holds no variables and no constraints.
func (g *Graph) Empty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.variables) == 0 && len(g.constraints) == 0
}

// NumVariables returns the number of variables in the graph.
func (g *Graph) NumVariables() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.variables)
}

// NumConstraints returns the number of constraints in the graph.
func (g *Graph) NumConstraints() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.constraints)
}

// VariableExists reports whether the graph holds the variable.
func (g *Graph) VariableExists(id uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.variables[id]
	return ok
}

// ConstraintExists reports whether the graph holds the constraint.
func (g *Graph) ConstraintExists(id uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.constraints[id]
	return ok
}

// Variable returns a copy of the variable.
func (g *Graph) Variable(id uuid.UUID) (variable.Variable, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.variables[id]
	if !ok {
		return nil, NewVariableNotFoundError(id)
	}
	return v.Clone(), nil
}

// Constraint returns the constraint.
func (g *Graph) Constraint(id uuid.UUID) (constraint.Constraint, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.constraints[id]
	if !ok {
		return nil, NewConstraintNotFoundError(id)
	}
	return c, nil
}

// Variables returns copies of every variable, sorted by id.
func (g *Graph) Variables() []variable.Variable {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedVariables(lo.Keys(g.variables))
}

// Constraints returns every constraint, sorted by id.
func (g *Graph) Constraints() []constraint.Constraint {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedConstraints(lo.Keys(g.constraints))
}

// ConnectedConstraints returns the constraints that reference the variable, sorted by id.
func (g *Graph) ConnectedConstraints(varID uuid.UUID) ([]constraint.Constraint, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	connected, ok := g.connections[varID]
	if !ok {
		return nil, NewVariableNotFoundError(varID)
	}
	return g.sortedConstraints(lo.Keys(connected)), nil
}

// ConnectedVariables returns copies of the variables the constraint references, in the
// constraint's order.
func (g *Graph) ConnectedVariables(constraintID uuid.UUID) ([]variable.Variable, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.constraints[constraintID]
	if !ok {
		return nil, NewConstraintNotFoundError(constraintID)
	}
	return lo.Map(c.Variables(), func(id uuid.UUID, _ int) variable.Variable {
		return g.variables[id].Clone()
	}), nil
}

// HoldVariable marks the variable as constant (or not) for the optimizer.
func (g *Graph) HoldVariable(id uuid.UUID, hold bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.variables[id]; !ok {
		return NewVariableNotFoundError(id)
	}
	if hold {
		g.held[id] = struct{}{}
	} else {
		delete(g.held, id)
	}
	return nil
}

// IsVariableOnHold reports whether the optimizer must leave the variable unchanged.
func (g *Graph) IsVariableOnHold(id uuid.UUID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.held[id]
	return ok
}

// SetValues writes new values for some variables, all or nothing. Each value must be a valid
// point of the variable's manifold, and held variables cannot be written.
func (g *Graph) SetValues(values map[uuid.UUID][]float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, data := range values {
		v, ok := g.variables[id]
		if !ok {
			return NewVariableNotFoundError(id)
		}
		if _, held := g.held[id]; held {
			return errors.Errorf("variable %s is on hold", id)
		}
		if _, err := v.Manifold().Minus(data, data); err != nil {
			return errors.Wrapf(err, "variable %s", id)
		}
	}
	for id, data := range values {
		if err := g.variables[id].SetData(data); err != nil {
			// Unreachable after the manifold check, which covers length and finiteness.
			return err
		}
	}
	return nil
}

// ConstraintCost is the evaluation of one constraint at the graph's current values.
type ConstraintCost struct {
	ID       uuid.UUID
	Residual []float64
	// Cost is half of the constraint's loss applied to the squared norm of Residual.
	Cost float64
	// Err is set when the residual is unusable at the current values.
	Err error
}

// ConstraintCosts evaluates the given constraints, or every constraint when ids is empty. An
// unknown id is an error; a constraint that cannot be evaluated reports it in its Err field.
func (g *Graph) ConstraintCosts(ids ...uuid.UUID) ([]ConstraintCost, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(ids) == 0 {
		ids = sortIDs(lo.Keys(g.constraints))
	}
	costs := make([]ConstraintCost, 0, len(ids))
	for _, id := range ids {
		c, ok := g.constraints[id]
		if !ok {
			return nil, NewConstraintNotFoundError(id)
		}
		values := lo.Map(c.Variables(), func(varID uuid.UUID, _ int) []float64 {
			return g.variables[varID].Data()
		})
		residual, err := c.Evaluate(values)
		cost := ConstraintCost{ID: id, Residual: residual, Err: err}
		if err == nil {
			cost.Cost = constraint.RobustCost(c, residual)
		}
		costs = append(costs, cost)
	}
	return costs, nil
}

// AsTransaction returns a transaction that adds every variable and constraint of the graph, with
// the stamps of all stamped variables as involved stamps.
func (g *Graph) AsTransaction(stamp time.Time) *transaction.Transaction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	b := transaction.NewBuilder(stamp)
	for _, v := range g.sortedVariables(lo.Keys(g.variables)) {
		b.AddVariable(v, false)
		if stamped, ok := v.(variable.Stamped); ok {
			b.AddInvolvedStamp(stamped.Stamp())
		}
	}
	for _, c := range g.sortedConstraints(lo.Keys(g.constraints)) {
		b.AddConstraint(c, false)
	}
	return b.Build()
}

func (g *Graph) sortedVariables(ids []uuid.UUID) []variable.Variable {
	return lo.Map(sortIDs(ids), func(id uuid.UUID, _ int) variable.Variable {
		return g.variables[id].Clone()
	})
}

func (g *Graph) sortedConstraints(ids []uuid.UUID) []constraint.Constraint {
	return lo.Map(sortIDs(ids), func(id uuid.UUID, _ int) constraint.Constraint {
		return g.constraints[id]
	})
}

func sortIDs(ids []uuid.UUID) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}
