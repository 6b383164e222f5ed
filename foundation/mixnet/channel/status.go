package channel

import (
	"fmt"
	"time"
)

// StatusKind is the compact form of a status used for persistence.
type StatusKind uint8

// Set of channel status kinds. The values are persisted and must not change.
const (
	Closed StatusKind = iota
	Open
	PendingToClose
)

// ParseStatusKind converts the text form of a status kind.
func ParseStatusKind(s string) (StatusKind, error) {
	switch s {
	case "closed":
		return Closed, nil
	case "open":
		return Open, nil
	case "pending_to_close":
		return PendingToClose, nil
	}

	return 0, fmt.Errorf("unknown channel status %q", s)
}

// String implements the fmt.Stringer interface.
func (k StatusKind) String() string {
	switch k {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case PendingToClose:
		return "pending_to_close"
	}

	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// =============================================================================

// Status represents the state of a channel. The zero value is a closed
// channel. Only a channel pending to close carries a closure time.
type Status struct {
	kind        StatusKind
	closureTime time.Time
}

// ClosedStatus constructs the status of a closed channel.
func ClosedStatus() Status {
	return Status{kind: Closed}
}

// OpenStatus constructs the status of an open channel.
func OpenStatus() Status {
	return Status{kind: Open}
}

// PendingToCloseStatus constructs the status of a channel whose closure was
// requested. The funds are released no earlier than the closure time.
func PendingToCloseStatus(closureTime time.Time) Status {
	return Status{kind: PendingToClose, closureTime: closureTime}
}

// Kind returns the compact form of the status.
func (s Status) Kind() StatusKind {
	return s.kind
}

// ClosureTime returns the closure time if the channel is pending to close.
func (s Status) ClosureTime() (time.Time, bool) {
	if s.kind != PendingToClose {
		return time.Time{}, false
	}

	return s.closureTime, true
}

// Equal compares the statuses by kind. Two pending to close statuses are
// equal when their closure times are less than one second apart.
func (s Status) Equal(other Status) bool {
	if s.kind != other.kind {
		return false
	}

	if s.kind != PendingToClose {
		return true
	}

	diff := s.closureTime.Sub(other.closureTime)
	if diff < 0 {
		diff = -diff
	}

	return diff < time.Second
}

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	if s.kind == PendingToClose {
		return fmt.Sprintf("%s(%s)", s.kind, s.closureTime.UTC().Format(time.RFC3339))
	}

	return s.kind.String()
}
