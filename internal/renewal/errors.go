package renewal

import (
	"errors"
	"fmt"

	"github.com/subsnooze/renewal-service/internal/domain"
)

var (
	// ErrMalformedDate is matched by every *MalformedDateError.
	ErrMalformedDate = errors.New("renewal: malformed date")
	// ErrAdvanceLimit is matched by every *AdvanceLimitError.
	ErrAdvanceLimit = errors.New("renewal: advance iteration limit exceeded")
	// ErrUnknownCycle is returned for billing cycles the engine cannot step.
	ErrUnknownCycle = errors.New("renewal: unknown billing cycle")
)

// MalformedDateError reports a stored renewal date that is not a valid
// YYYY-MM-DD calendar date.
type MalformedDateError struct {
	Value string
}

func (e *MalformedDateError) Error() string {
	return fmt.Sprintf("renewal: malformed date %q, want YYYY-MM-DD", e.Value)
}

func (e *MalformedDateError) Is(target error) bool {
	return target == ErrMalformedDate
}

// AdvanceLimitError is the renewal advance runtime error: AdvanceToFuture
// returns it when it gives up after MaxAdvanceIterations steps. Jobs report
// it under the "advance_limit" stage.
type AdvanceLimitError struct {
	Cycle      domain.BillingCycle
	From       string
	Iterations int
}

func (e *AdvanceLimitError) Error() string {
	return fmt.Sprintf("renewal: could not advance %s from %s after %d iterations", e.Cycle, e.From, e.Iterations)
}

func (e *AdvanceLimitError) Is(target error) bool {
	return target == ErrAdvanceLimit
}
