package graph

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"

	"go.viam.com/fuse/constraint"
	"go.viam.com/fuse/variable"
)

// snapshot is the BSON layout of a serialized graph.
type snapshot struct {
	Stamp       int64               `bson:"stamp"`
	Variables   []variable.Record   `bson:"variables"`
	Constraints []constraint.Record `bson:"constraints"`
	Held        []string            `bson:"held,omitempty"`
}

// Serialize encodes the full content of the graph.
func (g *Graph) Serialize() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var doc snapshot
	if !g.stamp.IsZero() {
		doc.Stamp = g.stamp.UnixNano()
	}
	for _, v := range g.sortedVariables(lo.Keys(g.variables)) {
		rec, err := variable.ToRecord(v)
		if err != nil {
			return nil, err
		}
		doc.Variables = append(doc.Variables, rec)
	}
	for _, c := range g.sortedConstraints(lo.Keys(g.constraints)) {
		rec, err := constraint.ToRecord(c)
		if err != nil {
			return nil, err
		}
		doc.Constraints = append(doc.Constraints, rec)
	}
	doc.Held = lo.Map(sortIDs(lo.Keys(g.held)), func(id uuid.UUID, _ int) string { return id.String() })

	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "serializing graph")
	}
	return data, nil
}

// Deserialize rebuilds a graph written by Serialize.
func Deserialize(data []byte) (*Graph, error) {
	var doc snapshot
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "deserializing graph")
	}
	g := New()
	if doc.Stamp != 0 {
		g.stamp = time.Unix(0, doc.Stamp)
	}
	for _, rec := range doc.Variables {
		v, err := variable.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		if _, dup := g.variables[v.ID()]; dup {
			return nil, errors.Errorf("serialized graph holds variable %s twice", v.ID())
		}
		g.variables[v.ID()] = v
		g.connections[v.ID()] = map[uuid.UUID]struct{}{}
	}
	for _, rec := range doc.Constraints {
		c, err := constraint.FromRecord(rec)
		if err != nil {
			return nil, err
		}
		if _, dup := g.constraints[c.ID()]; dup {
			return nil, errors.Errorf("serialized graph holds constraint %s twice", c.ID())
		}
		for _, varID := range c.Variables() {
			if _, ok := g.variables[varID]; !ok {
				return nil, errors.Errorf("serialized constraint %s references missing variable %s", c.ID(), varID)
			}
		}
		g.addConstraint(c)
	}
	for _, s := range doc.Held {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrap(err, "held variable id")
		}
		if _, ok := g.variables[id]; !ok {
			return nil, errors.Errorf("serialized graph holds missing variable %s", id)
		}
		g.held[id] = struct{}{}
	}
	return g, nil
}
