// Package objective defines the drey domain model: objectives, their plan steps,
// the lifecycle state machine, and the events exchanged on the objective stream.
//
// An Objective is created at ingest time in the staging status, gains a drafted plan
// while it waits for a human decision, and is committed to the relational store once
// the plan is approved. From then on it only changes through step completion, which
// recalculates the weighted progress (WorkDone) and drives the status to in_progress
// and finally completed.
package objective

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Objective is the committed unit of user intent with an approved plan and progress tracking.
type Objective struct {
	ID             string     `json:"id" yaml:"id"`
	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	What           string     `json:"what" yaml:"what"`
	Why            string     `json:"why,omitempty" yaml:"why,omitempty"`
	Context        string     `json:"context" yaml:"context"`
	ExpectedOutput string     `json:"expected_output" yaml:"expected_output"`
	Outcome        string     `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	Tags           []string   `json:"tags" yaml:"tags"`
	Plan           []PlanStep `json:"plan,omitempty" yaml:"plan,omitempty"`
	Status         Status     `json:"status" yaml:"status"`
	WorkDone       int        `json:"workdone" yaml:"workdone"`
}

// Status is the lifecycle state of an objective.
type Status string

const (
	// StatusStaging is the initial state assigned at ingest
	StatusStaging Status = "staging"

	// StatusPlanning means the raw text has been structured and a plan is being drafted
	StatusPlanning Status = "planning"

	// StatusAwaitingApproval means a draft plan is staged and waits for a human decision
	StatusAwaitingApproval Status = "awaiting_approval"

	// StatusApproved means the plan was accepted and the objective committed
	StatusApproved Status = "approved"

	// StatusInProgress means at least one step has been completed
	StatusInProgress Status = "in_progress"

	// StatusCompleted means every step has been completed
	StatusCompleted Status = "completed"

	// StatusFailed means the draft plan was rejected
	StatusFailed Status = "failed"
)

// StepStatus is the completion state of a single plan step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepCompleted StepStatus = "completed"
)

// PlanStep is one weighted, independently completable action within a plan.
type PlanStep struct {
	StepNumber  int        `json:"step_number" yaml:"step_number"`
	Description string     `json:"description" yaml:"description"`
	Weight      float64    `json:"weight" yaml:"weight"`
	Status      StepStatus `json:"status" yaml:"status"`
}

// allowedTransitions lists the explicit status changes. Progress recalculation
// moves approved/in_progress objectives forward on its own.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusStaging: {
		StatusPlanning: {},
		StatusFailed:   {},
	},
	StatusPlanning: {
		StatusAwaitingApproval: {},
		StatusApproved:         {},
		StatusFailed:           {},
	},
	StatusAwaitingApproval: {
		StatusApproved: {},
		StatusFailed:   {},
	},
	StatusApproved: {
		StatusInProgress: {},
		StatusCompleted:  {},
	},
	StatusInProgress: {
		StatusCompleted: {},
	},
}

// New returns a fresh objective in the staging status with a new UUID.
func New() *Objective {
	return &Objective{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Tags:      []string{},
		Status:    StatusStaging,
	}
}

// CanTransition reports whether an explicit status change from -> to is allowed.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsPreCommit reports whether the status belongs to the staging half of the lifecycle.
func (s Status) IsPreCommit() bool {
	switch s {
	case StatusStaging, StatusPlanning, StatusAwaitingApproval:
		return true
	}
	return false
}

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusStaging, StatusPlanning, StatusAwaitingApproval, StatusApproved,
		StatusInProgress, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown objective status: %q", s)
	}
}

// Validate checks if the StepStatus is a valid enum value.
func (s StepStatus) Validate() error {
	switch s {
	case StepPending, StepCompleted:
		return nil
	default:
		return fmt.Errorf("unknown step status: %q", s)
	}
}

// Transition moves the objective to a new status, enforcing the lifecycle.
func (o *Objective) Transition(to Status) error {
	if o.Status == to {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return fmt.Errorf("invalid status transition %s -> %s", o.Status, to)
	}
	o.Status = to
	return nil
}

// ApprovePlan attaches the approved plan and moves the objective to approved.
// Steps are normalised (default weight 1, default status pending) and validated first.
func (o *Objective) ApprovePlan(steps []PlanStep) error {
	plan := NormalizePlan(steps)
	if err := ValidatePlan(plan); err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	if err := o.Transition(StatusApproved); err != nil {
		return err
	}
	o.Plan = plan
	return nil
}

// Reject marks a staged objective as failed.
func (o *Objective) Reject() error {
	if !o.Status.IsPreCommit() {
		return fmt.Errorf("cannot reject objective in status %s", o.Status)
	}
	o.Status = StatusFailed
	return nil
}

// MarkStepCompleted completes a plan step and recalculates progress.
// Completing an already-completed step is a no-op.
func (o *Objective) MarkStepCompleted(stepNumber int) error {
	if len(o.Plan) == 0 {
		return fmt.Errorf("objective %s has no plan attached", o.ID)
	}

	idx := -1
	for i := range o.Plan {
		if o.Plan[i].StepNumber == stepNumber {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("step %d not found in objective %s", stepNumber, o.ID)
	}

	if o.Plan[idx].Status == StepCompleted {
		return nil
	}

	o.Plan[idx].Status = StepCompleted
	o.recalculateProgress()
	return nil
}

// recalculateProgress applies the weighted progress invariant:
// workdone = floor(100 * completed weight / total weight), never decreasing,
// and the status follows it.
func (o *Objective) recalculateProgress() {
	if len(o.Plan) == 0 {
		return
	}

	var total, completed float64
	for _, s := range o.Plan {
		total += s.Weight
		if s.Status == StepCompleted {
			completed += s.Weight
		}
	}
	if total <= 0 {
		return
	}

	workDone := int(math.Floor(completed*100/total + 1e-9))
	if workDone > 100 {
		workDone = 100
	}
	if workDone > o.WorkDone {
		o.WorkDone = workDone
	}

	if o.WorkDone >= 100 {
		o.Status = StatusCompleted
	} else {
		o.Status = StatusInProgress
	}
}

// EmbeddingText returns the text used to embed the objective into the vector index.
func (o *Objective) EmbeddingText() string {
	parts := []string{o.What, o.Context, o.ExpectedOutput}
	if len(o.Tags) > 0 {
		parts = append(parts, strings.Join(o.Tags, " "))
	}
	return strings.Join(parts, " ")
}

// Clone returns a deep copy of the objective.
func (o *Objective) Clone() *Objective {
	c := *o
	if o.Tags != nil {
		c.Tags = append([]string(nil), o.Tags...)
	}
	if o.Plan != nil {
		c.Plan = append([]PlanStep(nil), o.Plan...)
	}
	return &c
}

// Validate checks if the Objective has valid field values.
func (o *Objective) Validate() error {
	if _, err := uuid.Parse(o.ID); err != nil {
		return fmt.Errorf("invalid objective ID: not a valid UUID")
	}
	if strings.TrimSpace(o.What) == "" {
		return fmt.Errorf("objective what cannot be empty")
	}
	if strings.TrimSpace(o.Context) == "" {
		return fmt.Errorf("objective context cannot be empty")
	}
	if strings.TrimSpace(o.ExpectedOutput) == "" {
		return fmt.Errorf("objective expected_output cannot be empty")
	}
	if err := o.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}
	if o.WorkDone < 0 || o.WorkDone > 100 {
		return fmt.Errorf("invalid workdone: must be within 0-100, got %d", o.WorkDone)
	}
	if len(o.Plan) > 0 {
		if err := ValidatePlan(o.Plan); err != nil {
			return fmt.Errorf("invalid plan: %w", err)
		}
	}
	return nil
}

// NormalizePlan returns a copy of steps with defaults applied:
// a zero weight becomes 1 and an empty status becomes pending.
func NormalizePlan(steps []PlanStep) []PlanStep {
	if steps == nil {
		return nil
	}
	out := make([]PlanStep, len(steps))
	for i, s := range steps {
		if s.Weight == 0 {
			s.Weight = 1
		}
		if s.Status == "" {
			s.Status = StepPending
		}
		out[i] = s
	}
	return out
}

// ValidatePlan checks step numbers are unique, weights positive and statuses known.
func ValidatePlan(steps []PlanStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("plan must contain at least one step")
	}
	seen := make(map[int]struct{}, len(steps))
	for i, s := range steps {
		if _, dup := seen[s.StepNumber]; dup {
			return fmt.Errorf("duplicate step_number %d at index %d", s.StepNumber, i)
		}
		seen[s.StepNumber] = struct{}{}

		if !(s.Weight > 0) || math.IsInf(s.Weight, 0) {
			return fmt.Errorf("step %d: weight must be positive, got %v", s.StepNumber, s.Weight)
		}
		if err := s.Status.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", s.StepNumber, err)
		}
	}
	return nil
}
