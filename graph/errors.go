package graph

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// The kinds of object a ValidationError can name.
const (
	ObjectVariable   = "variable"
	ObjectConstraint = "constraint"
)

// A ValidationError explains why a transaction was rejected. The graph is unchanged when one is
// returned.
type ValidationError struct {
	ID     uuid.UUID
	Object string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction: %s %s %s", e.Object, e.ID, e.Reason)
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func invalidVariable(id uuid.UUID, format string, args ...interface{}) error {
	return &ValidationError{ID: id, Object: ObjectVariable, Reason: fmt.Sprintf(format, args...)}
}

func invalidConstraint(id uuid.UUID, format string, args ...interface{}) error {
	return &ValidationError{ID: id, Object: ObjectConstraint, Reason: fmt.Sprintf(format, args...)}
}

// NewVariableNotFoundError is returned when reading a variable the graph does not hold.
func NewVariableNotFoundError(id uuid.UUID) error {
	return errors.Errorf("variable %s does not exist", id)
}

// NewConstraintNotFoundError is returned when reading a constraint the graph does not hold.
func NewConstraintNotFoundError(id uuid.UUID) error {
	return errors.Errorf("constraint %s does not exist", id)
}
