// Package sensor defines the lifecycle of a sensor model: a component that turns inputs into
// transactions and hands them to the optimizer through a callback.
package sensor

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/fuse/graph"
	"go.viam.com/fuse/transaction"
)

var (
	// ErrAlreadyInitialized is returned by a second call to Initialize.
	ErrAlreadyInitialized = errors.New("sensor model is already initialized")
	// ErrNotInitialized is returned by lifecycle calls made before Initialize.
	ErrNotInitialized = errors.New("sensor model is not initialized")
	// ErrShutdown is returned by lifecycle calls made after Close.
	ErrShutdown = errors.New("sensor model is shut down")
	// ErrNotStarted is returned when a model tries to emit a transaction while it is not started.
	ErrNotStarted = errors.New("sensor model is not started")
)

// A TransactionCallback receives every transaction a model produces and returns the outcome of
// applying it.
type TransactionCallback func(ctx context.Context, tx *transaction.Transaction) error

// A Model produces transactions from its inputs.
//
// Initialize is called exactly once. Start and Stop may be called any number of times after that
// and are idempotent. Once Stop returns the model emits nothing until it is started again. Close
// stops the model for good.
type Model interface {
	Name() string
	Initialize(ctx context.Context, name string, callback TransactionCallback) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Close(ctx context.Context) error
}

// A GraphUpdater is a model that wants to see the graph after every optimization pass.
type GraphUpdater interface {
	GraphUpdated(ctx context.Context, g *graph.Graph)
}

// State is a position in the model lifecycle.
type State int32

// The lifecycle states. Shutdown is terminal.
const (
	StateUninitialized State = iota
	StateInitialized
	StateStarted
	StateStopped
	StateShutdown
	// StateStarting and StateStopping last while a Start or Stop hook runs.
	StateStarting
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateShutdown:
		return "shutdown"
	case StateStarting:
		return "starting"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}
