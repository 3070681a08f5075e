package challenge

import "time"

// Action is the poll loop's next step.
type Action int

const (
	Continue Action = iota
	Succeed
	Escalate
	Timeout
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Succeed:
		return "succeed"
	case Escalate:
		return "escalate"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// State is the pollable state of a session at one attempt.
// Attempt 1 is the check right after the page settles; attempt n follows
// n-1 poll cycles.
type State struct {
	Attempt   int
	Elapsed   time.Duration
	Escalated bool
}

// Cycles returns the number of completed poll cycles.
func (s State) Cycles() int {
	if s.Attempt <= 1 {
		return 0
	}
	return s.Attempt - 1
}

// Decide is the poll loop transition function. Success is checked before
// either bound, so content found on the last allowed attempt still wins.
func Decide(s State, v Verdict, p Policy) Action {
	if v.Cleared || (v.HasContent && !v.Challenged) {
		return Succeed
	}
	if s.Attempt >= p.MaxAttempts || s.Elapsed >= p.Deadline {
		return Timeout
	}
	if !s.Escalated && s.Cycles() >= p.EscalateAfter {
		return Escalate
	}
	return Continue
}
