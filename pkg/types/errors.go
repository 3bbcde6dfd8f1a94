package types

import (
	"fmt"
	"strings"
)

// ValidationError describes one failed check of a SimulationInput field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors aggregates every failed check of a request. It is returned
// before any simulation work begins, never after partial progress.
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return "invalid simulation input: " + strings.Join(msgs, "; ")
}

// Messages returns the individual error strings for serialization.
func (e *ValidationErrors) Messages() []string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return msgs
}

// ComputationError records a numeric impossibility encountered mid-run, for
// example a zero-volatility estimate in volatility sizing. The engine
// degrades to a documented fallback instead of aborting; the error itself is
// carried only for logging and telemetry.
type ComputationError struct {
	BarIndex int
	Op       string
	Fallback string
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation error at bar %d in %s, using fallback %s",
		e.BarIndex, e.Op, e.Fallback)
}
