package models

// DeliveryStatus tracks how far a message has travelled toward its recipient.
// The only legal transitions are sent -> delivered, delivered -> read and
// sent -> read (the delivered step collapses when the recipient is already
// viewing the conversation). A status never moves backwards.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

var statusRank = map[DeliveryStatus]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Valid reports whether s is one of the known delivery statuses.
func (s DeliveryStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// CanAdvance reports whether moving from s to next is a legal transition.
// Staying in place or moving backwards is not an advance.
func (s DeliveryStatus) CanAdvance(next DeliveryStatus) bool {
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

// Advance returns the status after attempting a transition to next. Illegal
// or duplicate transitions leave the status unchanged and report false; they
// are never errors so duplicate and out-of-order acknowledgements stay
// harmless on retry.
func (s DeliveryStatus) Advance(next DeliveryStatus) (DeliveryStatus, bool) {
	if !s.CanAdvance(next) {
		return s, false
	}
	return next, true
}

// StatusPredecessors lists the statuses from which next may be reached.
// Used by the store to guard status updates at the SQL level.
func StatusPredecessors(next DeliveryStatus) []DeliveryStatus {
	switch next {
	case StatusDelivered:
		return []DeliveryStatus{StatusSent}
	case StatusRead:
		return []DeliveryStatus{StatusSent, StatusDelivered}
	default:
		return nil
	}
}
