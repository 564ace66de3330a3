package blob

import (
	"errors"
	"fmt"

	"github.com/roach88/flowstore/internal/checkpoint"
)

// IntegrityError reports a stored blob whose tag does not match its contents.
type IntegrityError struct {
	RunID checkpoint.RunID

	// ZeroTag is set when the stored tag is the legacy all-zero placeholder
	// and legacy tags are not accepted.
	ZeroTag bool
}

func (e *IntegrityError) Error() string {
	if e.ZeroTag {
		return fmt.Sprintf("blob integrity check failed for flow %s: legacy zero tag not accepted", e.RunID)
	}
	return fmt.Sprintf("blob integrity check failed for flow %s: tag mismatch", e.RunID)
}

// IsIntegrityError returns true if err is or wraps an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
