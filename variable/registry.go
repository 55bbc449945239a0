package variable

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	registryMu sync.RWMutex
	registry   = map[string]Kind{}
)

func init() {
	for _, kind := range Builtins() {
		RegisterKind(kind)
	}
}

// RegisterKind makes a kind decodable from records. It panics when a different manifold is
// already registered under the same name.
func RegisterKind(kind Kind) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if existing, ok := registry[kind.Name]; ok && existing != kind {
		panic(errors.Errorf("trying to register two different variable kinds named %q", kind.Name))
	}
	if kind.Manifold == nil {
		panic(errors.Errorf("variable kind %q has no manifold", kind.Name))
	}
	registry[kind.Name] = kind
}

// LookupKind returns the kind registered under name.
func LookupKind(name string) (Kind, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kind, ok := registry[name]
	return kind, ok
}

// RegisteredKinds returns the names of all registered kinds, sorted.
func RegisteredKinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Record is the encoded form of a stamped variable.
type Record struct {
	ID     string    `bson:"id" json:"id"`
	Type   string    `bson:"type" json:"type"`
	Stamp  int64     `bson:"stamp" json:"stamp"`
	Source string    `bson:"source,omitempty" json:"source,omitempty"`
	Data   []float64 `bson:"data" json:"data"`
}

// ToRecord encodes a variable. Only stamped variables can be encoded.
func ToRecord(v Variable) (Record, error) {
	stamped, ok := v.(Stamped)
	if !ok {
		return Record{}, errors.Errorf("variable %s of type %s is not stamped and cannot be encoded", v.ID(), v.Type())
	}
	return Record{
		ID:     stamped.ID().String(),
		Type:   stamped.Type(),
		Stamp:  stamped.Stamp().UnixNano(),
		Source: stamped.Source(),
		Data:   stamped.Data(),
	}, nil
}

// FromRecord decodes a variable. The kind must be registered and the recorded id must match the
// id derived from the record's type, stamp and source.
func FromRecord(r Record) (Variable, error) {
	kind, ok := LookupKind(r.Type)
	if !ok {
		return nil, errors.Errorf("unknown variable type %q", r.Type)
	}
	v := NewStamped(kind, time.Unix(0, r.Stamp), r.Source)
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "variable record of type %s", r.Type)
	}
	if id != v.ID() {
		return nil, errors.Errorf("variable record id %s does not match derived id %s", id, v.ID())
	}
	if err := v.SetData(r.Data); err != nil {
		return nil, err
	}
	return v, nil
}
