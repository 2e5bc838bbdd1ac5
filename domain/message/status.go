package message

type Status string

const (
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
)

// rank orders the happy path SENDING → SENT → DELIVERED → READ.
// FAILED sits outside the ordering and is handled separately.
var rank = map[Status]int{
	StatusSending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Terminal reports whether no further transition is allowed.
// FAILED doubles as the status of a recalled message.
func (s Status) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// CanTransition reports whether moving from s to next is a legal
// forward step. Skipping intermediate states is allowed (a read receipt
// can arrive before the delivery confirmation); going backward is not.
// FAILED is reachable from any non-terminal status.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, ok := rank[s]
	if !ok {
		return false
	}
	to, ok := rank[next]
	if !ok {
		return false
	}
	return to > from
}
