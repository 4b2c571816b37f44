package payroll

import (
	"errors"
	"fmt"
)

var (
	ErrConfigurationMissing  = errors.New("payroll configuration missing")
	ErrInvalidRequest        = errors.New("invalid payroll request")
	ErrPayRunNotFound        = errors.New("pay run not found")
	ErrComputationInProgress = errors.New("pay run computation already in progress")
)

// PersistenceError marks a failure of the underlying store. The pay run was
// not changed and the whole computation can be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("payroll persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
