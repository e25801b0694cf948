package workflow

// Decision explains the outcome of an automation rule.
type Decision string

const (
	DecisionMove              Decision = "move"
	DecisionNoop              Decision = "noop"
	DecisionMissingInProgress Decision = "missingInProgress"
	DecisionMissingClosed     Decision = "missingClosed"
)

// Transition is the result of evaluating an automation rule against an issue.
type Transition struct {
	From     string
	To       string
	Decision Decision
}

// NextOnBranchCreated moves an issue whose current status is open-typed to the
// first in_progress status. Issues already in progress or closed, or whose
// status is not part of the workflow, are left alone.
func NextOnBranchCreated(w *Workflow, current string) Transition {
	t := Transition{From: current, To: current, Decision: DecisionNoop}
	cur, ok := w.Find(current)
	if !ok || cur.Type != TypeOpen {
		return t
	}
	target, ok := w.FirstOfType(TypeInProgress)
	if !ok {
		t.Decision = DecisionMissingInProgress
		return t
	}
	t.To = target.Key
	t.Decision = DecisionMove
	return t
}

// NextOnPRMerged moves an issue to the first closed status regardless of
// where it is now.
func NextOnPRMerged(w *Workflow, current string) Transition {
	t := Transition{From: current, To: current, Decision: DecisionNoop}
	target, ok := w.FirstOfType(TypeClosed)
	if !ok {
		t.Decision = DecisionMissingClosed
		return t
	}
	t.To = target.Key
	if target.Key != current {
		t.Decision = DecisionMove
	}
	return t
}
