package harness

import "fmt"

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success.
	// True if all assertions match.
	Pass bool `json:"pass"`

	// Trace contains one line per observable effect, in order.
	Trace []string `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a formatted trace line.
func (r *Result) AddTrace(format string, args ...any) {
	r.Trace = append(r.Trace, fmt.Sprintf(format, args...))
}
