package taskmanager

import (
	"fmt"
)

// UserInputError marks failures caused by invalid caller input (bad address,
// unknown chain, address not tracked). Returned to the caller, never logged
// as critical.
type UserInputError struct {
	Err error
}

func (e *UserInputError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Err)
}

func (e *UserInputError) Unwrap() error {
	return e.Err
}
