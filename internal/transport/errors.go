package transport

import (
	"errors"
	"fmt"
)

// PermanentRejection reports that a target is permanently unreachable:
// the bot was blocked or kicked, or the chat no longer exists.
//
// Everything else coming back from the platform is treated as transient.
type PermanentRejection struct {
	Code        int
	Description string
}

func (e *PermanentRejection) Error() string {
	return fmt.Sprintf("permanent rejection (%d): %s", e.Code, e.Description)
}

func IsPermanentRejection(err error) bool {
	var pr *PermanentRejection
	return errors.As(err, &pr)
}
