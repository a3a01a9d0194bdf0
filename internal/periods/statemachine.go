package periods

import "github.com/odyssey-erp/audithub/internal/shared"

// Action names a lifecycle edge.
type Action string

const (
	ActionClose    Action = "close"
	ActionLock     Action = "lock"
	ActionFinalize Action = "finalize"
	ActionAmend    Action = "amend"
)

// Transition returns the status reached by applying action to current. Every
// edge moves forward; anything else is a SequenceError.
func Transition(current Status, action Action) (Status, error) {
	switch current {
	case StatusOpen:
		if action == ActionClose {
			return StatusReview, nil
		}
	case StatusReview:
		if action == ActionLock {
			return StatusLocked, nil
		}
	case StatusLocked:
		if action == ActionFinalize {
			return StatusFinalized, nil
		}
	case StatusFinalized:
		if action == ActionAmend {
			return StatusAmended, nil
		}
	case StatusAmended:
	default:
		return "", shared.E(shared.KindSequence, "periods.Transition", "unknown status %q", current)
	}
	return "", shared.E(shared.KindSequence, "periods.Transition", "cannot %s a period in %s", action, current)
}
