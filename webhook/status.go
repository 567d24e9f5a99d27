package webhook

import "fmt"

/* Status represents the current state of a delivery
 * Follows the lifecycle: Pending -> Delivered/Failed
 * Failed deliveries re-enter dispatch until the retry budget runs out.
 */
type Status int

const (
	Pending Status = iota + 1
	Delivered
	Failed
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewStatus creates a Status from a string. Unknown strings are rejected so
// admin writes and query filters cannot smuggle in a bogus state.
func NewStatus(str string) (Status, error) {
	switch str {
	case "pending":
		return Pending, nil
	case "delivered":
		return Delivered, nil
	case "failed":
		return Failed, nil
	default:
		return 0, fmt.Errorf("unknown status %q", str)
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if no further automatic attempts will ever happen.
// Delivered is always terminal; Failed is only terminal once the endpoint's
// retry budget is exhausted, which this method cannot see, so it reports
// false for Failed.
func (s Status) IsFinal() bool {
	return s == Delivered
}
