package models

import "time"

// StepDescriptor is one entry of an execution's linearized step list. It is
// created once, at assignment time, from the flow definition; the completion
// fields mutate over the step's lifetime.
type StepDescriptor struct {
	NodeID       string    `json:"nodeId"`
	NodeType     NodeType  `json:"nodeType"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	FormID       string    `json:"formId,omitempty"`
	FormName     string    `json:"formName,omitempty"`
	DelayMinutes int       `json:"delayMinutes,omitempty"`
	Order        int       `json:"order"`

	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	AvailableAt *time.Time `json:"availableAt,omitempty"`
	Response    any        `json:"response,omitempty"`
}

// StepCursor is the persisted position of one execution inside its step list.
// The whole cursor is stored as a single JSON document on the execution row so
// the step list and the current index always move atomically together.
type StepCursor struct {
	Steps            []StepDescriptor `json:"steps"`
	CurrentStepIndex int              `json:"currentStepIndex"`
}

// CurrentStep returns the step the cursor points at, or nil when the cursor
// has run past the end of the list.
func (c *StepCursor) CurrentStep() *StepDescriptor {
	if c.CurrentStepIndex < 0 || c.CurrentStepIndex >= len(c.Steps) {
		return nil
	}

	return &c.Steps[c.CurrentStepIndex]
}

// Advance moves the cursor to the next step. It reports false once the end of
// the list is reached.
func (c *StepCursor) Advance() bool {
	if c.CurrentStepIndex >= len(c.Steps)-1 {
		c.CurrentStepIndex = len(c.Steps)
		return false
	}

	c.CurrentStepIndex++

	return true
}

// CompletedCount returns the number of completed steps in the list.
func (c *StepCursor) CompletedCount() int {
	count := 0

	for _, step := range c.Steps {
		if step.Completed {
			count++
		}
	}

	return count
}
