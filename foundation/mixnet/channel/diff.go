package channel

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Change represents a single field that differs between two snapshots of
// the same channel.
type Change interface {
	Field() string
	fmt.Stringer
}

// StatusChange records a change of the status.
type StatusChange struct {
	Left  Status
	Right Status
}

// Field implements the Change interface.
func (StatusChange) Field() string { return "status" }

func (c StatusChange) String() string {
	return fmt.Sprintf("status: %s -> %s", c.Left, c.Right)
}

// BalanceChange records a change of the balance.
type BalanceChange struct {
	Left  uint256.Int
	Right uint256.Int
}

// Field implements the Change interface.
func (BalanceChange) Field() string { return "balance" }

func (c BalanceChange) String() string {
	return fmt.Sprintf("balance: %s -> %s", c.Left.Dec(), c.Right.Dec())
}

// EpochChange records a change of the epoch.
type EpochChange struct {
	Left  uint32
	Right uint32
}

// Field implements the Change interface.
func (EpochChange) Field() string { return "epoch" }

func (c EpochChange) String() string {
	return fmt.Sprintf("epoch: %d -> %d", c.Left, c.Right)
}

// TicketIndexChange records a change of the ticket index.
type TicketIndexChange struct {
	Left  uint64
	Right uint64
}

// Field implements the Change interface.
func (TicketIndexChange) Field() string { return "ticket_index" }

func (c TicketIndexChange) String() string {
	return fmt.Sprintf("ticket_index: %d -> %d", c.Left, c.Right)
}

// =============================================================================

// Diff compares the tracked fields of two snapshots of the same channel. An
// empty result does not mean the entries are identical, only that none of
// the tracked fields changed. It panics if the entries belong to different
// channels.
func Diff(left Entry, right Entry) []Change {
	if left.id != right.id {
		panic(fmt.Sprintf("channel: diff of different channels: %s != %s", left.id, right.id))
	}

	var changes []Change

	if !left.status.Equal(right.status) {
		changes = append(changes, StatusChange{Left: left.status, Right: right.status})
	}

	if !left.balance.Eq(&right.balance) {
		changes = append(changes, BalanceChange{Left: left.balance, Right: right.balance})
	}

	if left.epoch != right.epoch {
		changes = append(changes, EpochChange{Left: left.epoch, Right: right.epoch})
	}

	if left.ticketIndex != right.ticketIndex {
		changes = append(changes, TicketIndexChange{Left: left.ticketIndex, Right: right.ticketIndex})
	}

	return changes
}
