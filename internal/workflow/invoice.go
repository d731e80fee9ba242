package workflow

import (
	"fmt"

	"github.com/beihilfepay/beihilfepay/internal/models"
)

var invoiceLifecycle = func() Builder {
	b := NewBuilder()
	b.Configure(models.StatusInProgress).
		Permit(TriggerSubmit, models.StatusSubmitted)
	b.Configure(models.StatusSubmitted).
		Permit(TriggerReview, models.StatusUnderReview).
		Permit(TriggerReimburse, models.StatusReimbursed)
	b.Configure(models.StatusUnderReview).
		Permit(TriggerReimburse, models.StatusReimbursed)
	return b
}()

// NewInvoiceMachine returns a lifecycle machine positioned at status
func NewInvoiceMachine(status models.ProcessingStatus) (StateMachine, error) {
	return invoiceLifecycle.Build(status)
}

// Transition moves an invoice from current to target and returns the trigger
// that was fired. Setting the current status again is not a transition.
func Transition(current, target models.ProcessingStatus) (Trigger, error) {
	if !target.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidState, target)
	}

	m, err := NewInvoiceMachine(current)
	if err != nil {
		return "", err
	}

	for _, trigger := range m.PermittedTriggers() {
		candidate, _ := NewInvoiceMachine(current)
		if err := candidate.Fire(trigger); err == nil && candidate.State() == target {
			return trigger, m.Fire(trigger)
		}
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}
