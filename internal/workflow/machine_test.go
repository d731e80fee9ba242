package workflow

import (
	"errors"
	"testing"

	"github.com/beihilfepay/beihilfepay/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{models.StatusInProgress, false},
		{models.StatusSubmitted, false},
		{models.StatusUnderReview, false},
		{models.StatusReimbursed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsTerminal(tt.state); got != tt.expected {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	if got := TriggerSubmit.String(); got != "submit" {
		t.Errorf("Trigger.String() = %v, want %v", got, "submit")
	}
}

func TestBuilder_ConfigureInvalidStatePanics(t *testing.T) {
	assert.Panics(t, func() { NewBuilder().Configure(State("archived")) })
	assert.Panics(t, func() {
		NewBuilder().Configure(models.StatusInProgress).Permit(TriggerSubmit, State("archived"))
	})
}

func TestBuilder_BuildRejectsUnknownState(t *testing.T) {
	_, err := NewBuilder().Build(State("archived"))
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Build() error = %v, want ErrInvalidState", err)
	}
}

func TestBuilder_MachinesAreIndependent(t *testing.T) {
	b := NewBuilder()
	b.Configure(models.StatusInProgress).Permit(TriggerSubmit, models.StatusSubmitted)

	m, err := b.Build(models.StatusInProgress)
	require.NoError(t, err)

	// Later configuration does not leak into built machines
	b.Configure(models.StatusInProgress).Permit(TriggerReimburse, models.StatusReimbursed)

	assert.False(t, m.CanFire(TriggerReimburse))
	assert.True(t, m.CanFire(TriggerSubmit))
}

func TestInvoiceMachine_Fire(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		triggers []Trigger
		want     State
		wantErr  bool
	}{
		{"submit", models.StatusInProgress, []Trigger{TriggerSubmit}, models.StatusSubmitted, false},
		{"full path", models.StatusInProgress, []Trigger{TriggerSubmit, TriggerReview, TriggerReimburse}, models.StatusReimbursed, false},
		{"reimburse without review", models.StatusSubmitted, []Trigger{TriggerReimburse}, models.StatusReimbursed, false},
		{"review before submit", models.StatusInProgress, []Trigger{TriggerReview}, models.StatusInProgress, true},
		{"reimbursed is terminal", models.StatusReimbursed, []Trigger{TriggerSubmit}, models.StatusReimbursed, true},
		{"no second review", models.StatusUnderReview, []Trigger{TriggerReview}, models.StatusUnderReview, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewInvoiceMachine(tt.from)
			require.NoError(t, err)

			var fireErr error
			for _, trigger := range tt.triggers {
				if fireErr = m.Fire(trigger); fireErr != nil {
					break
				}
			}

			if (fireErr != nil) != tt.wantErr {
				t.Errorf("Fire() error = %v, wantErr %v", fireErr, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(fireErr, ErrInvalidTransition) {
				t.Errorf("Fire() error = %v, want ErrInvalidTransition", fireErr)
			}
			if m.State() != tt.want {
				t.Errorf("State() = %v, want %v", m.State(), tt.want)
			}
		})
	}
}

func TestInvoiceMachine_PermittedTriggers(t *testing.T) {
	m, err := NewInvoiceMachine(models.StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, []Trigger{TriggerReimburse, TriggerReview}, m.PermittedTriggers())

	m, err = NewInvoiceMachine(models.StatusReimbursed)
	require.NoError(t, err)
	assert.Empty(t, m.PermittedTriggers())
}

func TestTransition(t *testing.T) {
	tests := []struct {
		name        string
		from, to    State
		wantTrigger Trigger
		wantErr     error
	}{
		{"submit", models.StatusInProgress, models.StatusSubmitted, TriggerSubmit, nil},
		{"review", models.StatusSubmitted, models.StatusUnderReview, TriggerReview, nil},
		{"reimburse from review", models.StatusUnderReview, models.StatusReimbursed, TriggerReimburse, nil},
		{"reimburse directly", models.StatusSubmitted, models.StatusReimbursed, TriggerReimburse, nil},
		{"skip submit", models.StatusInProgress, models.StatusReimbursed, "", ErrInvalidTransition},
		{"back to start", models.StatusReimbursed, models.StatusInProgress, "", ErrInvalidTransition},
		{"same status", models.StatusSubmitted, models.StatusSubmitted, "", ErrInvalidTransition},
		{"unknown target", models.StatusSubmitted, State("paid"), "", ErrInvalidState},
		{"unknown current", State("paid"), models.StatusSubmitted, "", ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, err := Transition(tt.from, tt.to)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTrigger, trigger)
		})
	}
}
