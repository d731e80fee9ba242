package workflow

import "github.com/beihilfepay/beihilfepay/internal/models"

// State is the processing status of an invoice
type State = models.ProcessingStatus

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerSubmit    Trigger = "submit"
	TriggerReview    Trigger = "review"
	TriggerReimburse Trigger = "reimburse"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsTerminal reports whether no further transitions leave s
func IsTerminal(s State) bool {
	return s == models.StatusReimbursed
}
