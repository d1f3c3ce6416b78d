package domain

// DispatchState is the per-post delivery state machine:
//
//	Pending -> Dispatching -> {Sent | PartiallySent | FullyFailed}
type DispatchState string

const (
	StatePending       DispatchState = "pending"
	StateDispatching   DispatchState = "dispatching"
	StateSent          DispatchState = "sent"
	StatePartiallySent DispatchState = "partially_sent"
	StateFullyFailed   DispatchState = "fully_failed"
)

// Terminal reports whether no further transition is possible.
func (s DispatchState) Terminal() bool {
	return s == StateSent || s == StatePartiallySent || s == StateFullyFailed
}

// Summarize maps a complete result list to its terminal state.
// An empty list counts as fully failed: nothing was delivered.
func Summarize(results []DispatchResult) DispatchState {
	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	switch {
	case len(results) > 0 && ok == len(results):
		return StateSent
	case ok > 0:
		return StatePartiallySent
	default:
		return StateFullyFailed
	}
}

// Counts returns (succeeded, failed).
func Counts(results []DispatchResult) (int, int) {
	ok := 0
	for _, r := range results {
		if r.OK {
			ok++
		}
	}
	return ok, len(results) - ok
}
