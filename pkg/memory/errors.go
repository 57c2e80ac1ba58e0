package memory

import (
	"errors"
	"fmt"
)

// ErrInvalidAttempt is returned by Record for attempts that cannot be indexed.
var ErrInvalidAttempt = errors.New("memory: invalid attempt")

// PersistenceError reports that an attempt could not be made durable after
// the retry budget. The attempt is still held in memory.
type PersistenceError struct {
	AttemptID string
	Tries     int
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("memory: persist attempt %s failed after %d tries: %v", e.AttemptID, e.Tries, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
