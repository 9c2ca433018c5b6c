package redaction

import "github.com/raaihank/doc-sentinel/internal/model"

// State is a step of the export state machine:
// Review -> Ready -> Redacting -> Verifying -> Exported | Blocked
type State string

const (
	StateReview    State = "review"
	StateReady     State = "ready"
	StateRedacting State = "redacting"
	StateVerifying State = "verifying"
	StateExported  State = "exported"
	StateBlocked   State = "blocked"
)

// StateFor returns Review while any entity is pending, Ready otherwise
func StateFor(entities []*model.PIIEntity) State {
	if CountPending(entities) > 0 {
		return StateReview
	}
	return StateReady
}

// CountPending returns the number of pending entities
func CountPending(entities []*model.PIIEntity) int {
	n := 0
	for _, e := range entities {
		if e.Status == model.StatusPending {
			n++
		}
	}
	return n
}
