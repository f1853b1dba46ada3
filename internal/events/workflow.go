package events

import "time"

// Execution statuses
const (
	ExecutionRunning   = "RUNNING"
	ExecutionCompleted = "COMPLETED"
	ExecutionFailed    = "FAILED"
)

// Step statuses
const (
	StepStatusPending   = "PENDING"
	StepStatusRunning   = "RUNNING"
	StepStatusCompleted = "COMPLETED"
	StepStatusFailed    = "FAILED"
)

// Step is one named stage of a workflow execution
type Step struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	StartedAt   Time   `json:"startedAt"`
	CompletedAt Time   `json:"completedAt"`
	Error       string `json:"error,omitempty"`
}

// Execution is the aggregate built from workflow events; the REST endpoints return
// the same shape
type Execution struct {
	ExecutionID  string `json:"executionId"`
	WorkflowID   string `json:"workflowId,omitempty"`
	WorkflowName string `json:"workflowName,omitempty"`
	Status       string `json:"status"`
	StartedAt    Time   `json:"startedAt"`
	CompletedAt  Time   `json:"completedAt"`
	Error        string `json:"error,omitempty"`
	Steps        []Step `json:"steps"`
}

// NewExecution creates the aggregate from a WORKFLOW_STARTED event
func NewExecution(ev WorkflowExecutionEvent) *Execution {
	return &Execution{
		ExecutionID:  ev.ExecutionID,
		WorkflowID:   ev.WorkflowID,
		WorkflowName: ev.WorkflowName,
		Status:       ExecutionRunning,
		StartedAt:    ev.Timestamp,
		Steps:        []Step{},
	}
}

// Terminal reports whether the execution reached COMPLETED or FAILED
func (e *Execution) Terminal() bool {
	return e.Status == ExecutionCompleted || e.Status == ExecutionFailed
}

// Apply folds one event into the execution. Status never moves backwards, so
// replaying or reordering duplicates cannot regress the aggregate. It reports
// whether anything changed.
func (e *Execution) Apply(ev WorkflowExecutionEvent) bool {
	if ev.ExecutionID != e.ExecutionID {
		return false
	}

	switch ev.EventType {
	case WorkflowStarted:
		changed := false
		if e.WorkflowID == "" && ev.WorkflowID != "" {
			e.WorkflowID = ev.WorkflowID
			changed = true
		}
		if e.WorkflowName == "" && ev.WorkflowName != "" {
			e.WorkflowName = ev.WorkflowName
			changed = true
		}
		if e.StartedAt.IsZero() && !ev.Timestamp.IsZero() {
			e.StartedAt = ev.Timestamp
			changed = true
		}
		return changed

	case WorkflowCompleted, WorkflowFailed:
		if e.Terminal() {
			return false
		}
		e.Status = ExecutionCompleted
		if ev.EventType == WorkflowFailed {
			e.Status = ExecutionFailed
			e.Error = ev.Error
		}
		e.CompletedAt = ev.Timestamp
		return true

	case StepStarted, StepCompleted, StepFailed:
		return e.applyStep(ev)
	}
	return false
}

func (e *Execution) applyStep(ev WorkflowExecutionEvent) bool {
	idx := -1
	for i := range e.Steps {
		if e.Steps[i].Name == ev.StepName {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.Steps = append(e.Steps, Step{Name: ev.StepName, Status: StepStatusPending})
		idx = len(e.Steps) - 1
	}
	step := &e.Steps[idx]

	target := StepStatusRunning
	switch ev.EventType {
	case StepCompleted:
		target = StepStatusCompleted
	case StepFailed:
		target = StepStatusFailed
	}
	if stepRank(target) <= stepRank(step.Status) {
		return false
	}

	switch target {
	case StepStatusRunning:
		step.StartedAt = ev.Timestamp
	case StepStatusCompleted, StepStatusFailed:
		if step.StartedAt.IsZero() {
			step.StartedAt = ev.Timestamp
		}
		step.CompletedAt = ev.Timestamp
		step.Error = ev.Error
	}
	step.Status = target
	return true
}

// Merge adopts a server snapshot of the same execution unless that would move the
// execution or any of its steps backwards. It reports whether anything changed.
func (e *Execution) Merge(snap Execution) bool {
	if snap.ExecutionID != e.ExecutionID {
		return false
	}
	changed := false

	if executionRank(snap.Status) > executionRank(e.Status) {
		e.Status = snap.Status
		e.CompletedAt = snap.CompletedAt
		e.Error = snap.Error
		changed = true
	}
	if e.WorkflowID == "" && snap.WorkflowID != "" {
		e.WorkflowID = snap.WorkflowID
		changed = true
	}
	if e.WorkflowName == "" && snap.WorkflowName != "" {
		e.WorkflowName = snap.WorkflowName
		changed = true
	}
	if e.StartedAt.IsZero() && !snap.StartedAt.IsZero() {
		e.StartedAt = snap.StartedAt
		changed = true
	}

	for _, s := range snap.Steps {
		found := false
		for i := range e.Steps {
			if e.Steps[i].Name != s.Name {
				continue
			}
			found = true
			if stepRank(s.Status) > stepRank(e.Steps[i].Status) {
				e.Steps[i] = s
				changed = true
			}
			break
		}
		if !found {
			e.Steps = append(e.Steps, s)
			changed = true
		}
	}
	return changed
}

// Events lists the events a snapshot implies have already happened
func (e *Execution) Events() []WorkflowExecutionEvent {
	evs := []WorkflowExecutionEvent{{
		ExecutionID: e.ExecutionID,
		EventType:   WorkflowStarted,
	}}
	for _, s := range e.Steps {
		if stepRank(s.Status) >= stepRank(StepStatusRunning) {
			evs = append(evs, WorkflowExecutionEvent{ExecutionID: e.ExecutionID, EventType: StepStarted, StepName: s.Name})
		}
		switch s.Status {
		case StepStatusCompleted:
			evs = append(evs, WorkflowExecutionEvent{ExecutionID: e.ExecutionID, EventType: StepCompleted, StepName: s.Name})
		case StepStatusFailed:
			evs = append(evs, WorkflowExecutionEvent{ExecutionID: e.ExecutionID, EventType: StepFailed, StepName: s.Name})
		}
	}
	switch e.Status {
	case ExecutionCompleted:
		evs = append(evs, WorkflowExecutionEvent{ExecutionID: e.ExecutionID, EventType: WorkflowCompleted})
	case ExecutionFailed:
		evs = append(evs, WorkflowExecutionEvent{ExecutionID: e.ExecutionID, EventType: WorkflowFailed})
	}
	return evs
}

// Clone returns a deep copy
func (e *Execution) Clone() Execution {
	c := *e
	c.Steps = append([]Step(nil), e.Steps...)
	if c.Steps == nil {
		c.Steps = []Step{}
	}
	return c
}

// Duration is the wall time of a finished execution, or zero
func (e *Execution) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt.Time)
}

func stepRank(status string) int {
	switch status {
	case StepStatusRunning:
		return 1
	case StepStatusCompleted, StepStatusFailed:
		return 2
	default:
		return 0
	}
}

func executionRank(status string) int {
	switch status {
	case ExecutionCompleted, ExecutionFailed:
		return 1
	default:
		return 0
	}
}
