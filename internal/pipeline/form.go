package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beihilfepay/beihilfepay/internal/models"
)

// Form field names accepted by FormState.Edit
const (
	FieldProvider = "provider"
	FieldAmount   = "amount"
	FieldDate     = "date"
	FieldCategory = "treatment_category"
)

// FormState is the user-editable result of the extraction runs for one
// form. Every run gets an ID from Begin; only the result of the most recent
// run is merged, stale runs are discarded silently.
type FormState struct {
	mu     sync.Mutex
	latest uint64
	values models.ExtractionResult
}

// NewFormState creates an empty form
func NewFormState() *FormState {
	return &FormState{}
}

// Begin issues the ID for a new run. Earlier runs become stale.
func (f *FormState) Begin() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest++
	return f.latest
}

// Apply merges result into the form if runID is still the latest run.
// Populated fields are never overwritten. It reports whether the result
// was applied.
func (f *FormState) Apply(runID uint64, result models.ExtractionResult) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if runID != f.latest {
		return false
	}
	f.values.Merge(result)
	return true
}

// Edit sets a field by hand, overwriting any extracted value
func (f *FormState) Edit(field, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch field {
	case FieldProvider:
		f.values.Provider = value
	case FieldAmount:
		f.values.Amount = value
	case FieldDate:
		f.values.Date = value
	case FieldCategory:
		if strings.TrimSpace(value) == "" {
			f.values.Category = ""
			return nil
		}
		c, ok := models.ParseTreatmentCategory(value)
		if !ok {
			return fmt.Errorf("unknown treatment category %q", value)
		}
		f.values.Category = c
	default:
		return fmt.Errorf("unknown form field %q", field)
	}
	return nil
}

// Values returns a copy of the current form values
func (f *FormState) Values() models.ExtractionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values
}

// DefaultMaxForms bounds the number of open forms kept by Forms
const DefaultMaxForms = 256

// Forms keeps the open forms by client-chosen ID. When full, the form
// used least recently is dropped.
type Forms struct {
	max int
	now func() time.Time

	mu    sync.Mutex
	forms map[string]*openForm
}

type openForm struct {
	state    *FormState
	lastUsed time.Time
}

// NewForms creates a registry holding at most max forms
func NewForms(max int) *Forms {
	if max <= 0 {
		max = DefaultMaxForms
	}
	return &Forms{
		max:   max,
		now:   time.Now,
		forms: make(map[string]*openForm),
	}
}

// Get returns the form with id, creating it if needed
func (f *Forms) Get(id string) *FormState {
	f.mu.Lock()
	defer f.mu.Unlock()

	if open, ok := f.forms[id]; ok {
		open.lastUsed = f.now()
		return open.state
	}

	if len(f.forms) >= f.max {
		f.evictOldestLocked()
	}
	open := &openForm{state: NewFormState(), lastUsed: f.now()}
	f.forms[id] = open
	return open.state
}

// Lookup returns the form with id if it is open
func (f *Forms) Lookup(id string) (*FormState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	open, ok := f.forms[id]
	if !ok {
		return nil, false
	}
	open.lastUsed = f.now()
	return open.state, true
}

// Drop forgets the form with id
func (f *Forms) Drop(id string) {
	f.mu.Lock()
	delete(f.forms, id)
	f.mu.Unlock()
}

// Len returns the number of open forms
func (f *Forms) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forms)
}

func (f *Forms) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, open := range f.forms {
		if oldestID == "" || open.lastUsed.Before(oldest) {
			oldestID, oldest = id, open.lastUsed
		}
	}
	delete(f.forms, oldestID)
}
