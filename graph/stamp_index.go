package graph

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"go.viam.com/fuse/transaction"
	"go.viam.com/fuse/variable"
)

// StampIndex tracks the time associated with every variable of a graph. The time of a variable is
// the latest stamp among itself and the stamped variables it shares a constraint with, so a
// variable only looks old once everything it is tied to is old. A variable with no stamped
// neighbours has the zero time.
type StampIndex struct {
	mu sync.RWMutex
	// stamps holds the stamp of each stamped variable.
	stamps map[uuid.UUID]time.Time
	// variables maps every tracked variable to the constraints that reference it.
	variables   map[uuid.UUID]map[uuid.UUID]struct{}
	constraints map[uuid.UUID][]uuid.UUID
	current     time.Time
}

// NewStampIndex returns an empty index.
func NewStampIndex() *StampIndex {
	idx := &StampIndex{}
	idx.reset()
	return idx
}

func (idx *StampIndex) reset() {
	idx.stamps = map[uuid.UUID]time.Time{}
	idx.variables = map[uuid.UUID]map[uuid.UUID]struct{}{}
	idx.constraints = map[uuid.UUID][]uuid.UUID{}
	idx.current = time.Time{}
}

// AddNewTransaction updates the index with a transaction that was applied to the graph.
func (idx *StampIndex) AddNewTransaction(tx *transaction.Transaction) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addVariables(tx)
	for _, c := range tx.AddedConstraints() {
		vars := c.Variables()
		idx.constraints[c.ID()] = vars
		for _, id := range vars {
			if _, ok := idx.variables[id]; !ok {
				idx.variables[id] = map[uuid.UUID]struct{}{}
			}
			idx.variables[id][c.ID()] = struct{}{}
		}
	}
	idx.remove(tx)
}

// AddMarginalTransaction updates the index with the result of marginalizing variables out of the
// graph. The constraints it adds summarize removed information and do not change any variable's
// time.
func (idx *StampIndex) AddMarginalTransaction(tx *transaction.Transaction) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.addVariables(tx)
	idx.remove(tx)
}

func (idx *StampIndex) addVariables(tx *transaction.Transaction) {
	for _, v := range tx.AddedVariables() {
		if stamped, ok := v.(variable.Stamped); ok {
			idx.stamps[v.ID()] = stamped.Stamp()
			if stamped.Stamp().After(idx.current) {
				idx.current = stamped.Stamp()
			}
		}
		if _, ok := idx.variables[v.ID()]; !ok {
			idx.variables[v.ID()] = map[uuid.UUID]struct{}{}
		}
	}
}

func (idx *StampIndex) remove(tx *transaction.Transaction) {
	for _, cID := range tx.RemovedConstraints() {
		for _, id := range idx.constraints[cID] {
			delete(idx.variables[id], cID)
		}
		delete(idx.constraints, cID)
	}
	for _, id := range tx.RemovedVariables() {
		delete(idx.stamps, id)
		delete(idx.variables, id)
	}
}

// CurrentStamp returns the latest stamp of any stamped variable added so far, or the zero time.
func (idx *StampIndex) CurrentStamp() time.Time {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.current
}

// Query returns the variables whose time is strictly before stamp, sorted by id.
func (idx *StampIndex) Query(stamp time.Time) []uuid.UUID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var ids []uuid.UUID
	for id, connected := range idx.variables {
		latest := idx.stamps[id]
		for cID := range connected {
			for _, other := range idx.constraints[cID] {
				if s, ok := idx.stamps[other]; ok && s.After(latest) {
					latest = s
				}
			}
		}
		if latest.Before(stamp) {
			ids = append(ids, id)
		}
	}
	return sortIDs(ids)
}

// Size returns the number of variables in the index.
func (idx *StampIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.variables)
}

// Empty reports whether the index holds no variables.
func (idx *StampIndex) Empty() bool {
	return idx.Size() == 0
}

// Clear forgets every variable and resets the current stamp.
func (idx *StampIndex) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.reset()
}
