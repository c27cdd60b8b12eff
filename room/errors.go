package room

import (
	"errors"
	"fmt"

	"github.com/wfunc/triviaserver/persistence"
	"github.com/wfunc/triviaserver/state"
)

// Every error below is recoverable: callers report it and send the player
// back to a safe screen.
var (
	ErrNotFound         = errors.New("room not found")
	ErrAlreadyStarted   = state.ErrAlreadyStarted
	ErrForbidden        = state.ErrForbidden
	ErrNotPlaying       = state.ErrNotPlaying
	ErrNotInRoom        = state.ErrNotInRoom
	ErrStaleQuestion    = state.ErrStaleQuestion
	ErrQuestionShortage = errors.New("not enough questions available")
	ErrTransientIO      = errors.New("temporary storage or network failure")
	ErrInvalidInput     = state.ErrInvalidInput
)

// ShortageError reports how many questions the provider actually returned.
// It matches ErrQuestionShortage with errors.Is.
type ShortageError struct {
	Requested int
	Received  int
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("not enough questions available: requested %d, received %d", e.Requested, e.Received)
}

func (e *ShortageError) Unwrap() error {
	return ErrQuestionShortage
}

// storeError maps store failures onto the room taxonomy. Version conflicts
// pass through so the retry loop can see them.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrVersionConflict):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
}
