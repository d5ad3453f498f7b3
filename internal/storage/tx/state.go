package tx

// State represents the state of a transaction.
type State int

const (
	// Active indicates the transaction is in progress.
	Active State = iota
	// Committed indicates the transaction was committed.
	Committed
	// Aborted indicates the transaction was aborted.
	Aborted
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case Active:
		return "Active"
	case Committed:
		return "Committed"
	case Aborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Finished reports whether the state is terminal.
func (s State) Finished() bool {
	return s == Committed || s == Aborted
}
