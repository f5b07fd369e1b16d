package sandbox

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/criyle/go-spawn/pkg/forkexec"
)

// SetupError is returned when the child could not be created. Step names the
// setup step that failed.
type SetupError struct {
	Step string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("sandbox: %s: %v", e.Step, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func setupError(step string, err error) error {
	return &SetupError{Step: step, Err: err}
}

// startError names the step after the child location when available
func startError(err error) error {
	var ce forkexec.ChildError
	if errors.As(err, &ce) {
		return setupError(ce.Location.String(), err)
	}
	return setupError("sync", err)
}
