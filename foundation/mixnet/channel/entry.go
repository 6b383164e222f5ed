package channel

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Limits for the numeric fields of a channel.
const (
	MaxTicketIndex = 1<<48 - 1
	MaxEpoch       = 1<<24 - 1
)

// MaxBalance is the largest balance a channel can hold, 10^25 base units.
var MaxBalance = uint256.MustFromDecimal("10000000000000000000000000")

// Entry represents the state of a payment channel between two nodes. An
// entry can only be constructed with a Builder which guarantees the values
// are always in range.
type Entry struct {
	source      common.Address
	destination common.Address
	balance     uint256.Int
	ticketIndex uint64
	status      Status
	epoch       uint32
	id          ID
}

// ID returns the channel id.
func (e Entry) ID() ID {
	return e.id
}

// Source returns the address of the node that funds the channel.
func (e Entry) Source() common.Address {
	return e.source
}

// Destination returns the address of the node that is paid by the channel.
func (e Entry) Destination() common.Address {
	return e.destination
}

// Balance returns the current balance.
func (e Entry) Balance() uint256.Int {
	return e.balance
}

// TicketIndex returns the next redeemable ticket index.
func (e Entry) TicketIndex() uint64 {
	return e.ticketIndex
}

// Status returns the channel status.
func (e Entry) Status() Status {
	return e.status
}

// Epoch returns the channel generation, incremented on every re-open.
func (e Entry) Epoch() uint32 {
	return e.epoch
}

// ToBuilder returns a builder seeded with the values of the entry.
func (e Entry) ToBuilder() Builder {
	return Builder{entry: e}
}

// ClosureTimePassed reports whether the closure grace period is over. An
// open channel never passed it and a closed channel always did.
func (e Entry) ClosureTimePassed(now time.Time) bool {
	switch e.status.kind {
	case Open:
		return false
	case PendingToClose:
		return !e.status.closureTime.After(now)
	}

	return true
}

// RemainingClosureTime returns the time left until the channel can be
// closed. The second value is false for an open channel.
func (e Entry) RemainingClosureTime(now time.Time) (time.Duration, bool) {
	switch e.status.kind {
	case Open:
		return 0, false
	case PendingToClose:
		return max(0, e.status.closureTime.Sub(now)), true
	}

	return 0, true
}

// ClosureTimeAt returns the closure time of a channel pending to close.
func (e Entry) ClosureTimeAt() (time.Time, bool) {
	return e.status.ClosureTime()
}

// Direction returns the direction of the channel relative to the specified
// node. The second value is false if the node is not an endpoint.
func (e Entry) Direction(me common.Address) (Direction, bool) {
	switch me {
	case e.source:
		return Outgoing, true
	case e.destination:
		return Incoming, true
	}

	return 0, false
}

// Orientation returns the direction plus the address of the counterparty.
func (e Entry) Orientation(me common.Address) (Direction, common.Address, bool) {
	d, ok := e.Direction(me)
	if !ok {
		return 0, common.Address{}, false
	}

	if d == Outgoing {
		return d, e.destination, true
	}
	return d, e.source, true
}

// String implements the fmt.Stringer interface.
func (e Entry) String() string {
	return fmt.Sprintf("channel %s (%s -> %s) balance %s index %d epoch %d status %s",
		e.id, e.source, e.destination, e.balance.Dec(), e.ticketIndex, e.epoch, e.status)
}

// =============================================================================

// Builder constructs an Entry. Every setter coerces its input into range so
// the builder never holds an invalid value and Build cannot fail.
type Builder struct {
	entry Entry
}

// NewBuilder starts a closed channel with zero balance at epoch 1. It panics
// if the source and destination are the same.
func NewBuilder(source common.Address, destination common.Address) Builder {
	return Builder{
		entry: Entry{
			source:      source,
			destination: destination,
			status:      ClosedStatus(),
			epoch:       1,
			id:          NewID(source, destination),
		},
	}
}

// WithBalance sets the balance, clamped to MaxBalance. A nil balance is
// treated as zero.
func (b Builder) WithBalance(balance *uint256.Int) Builder {
	switch {
	case balance == nil:
		b.entry.balance.Clear()
	case balance.Gt(MaxBalance):
		b.entry.balance.Set(MaxBalance)
	default:
		b.entry.balance.Set(balance)
	}

	return b
}

// WithTicketIndex sets the ticket index. Bits above 48 are dropped.
func (b Builder) WithTicketIndex(index uint64) Builder {
	b.entry.ticketIndex = index & MaxTicketIndex
	return b
}

// WithEpoch sets the epoch. Bits above 24 are dropped and the result is
// never smaller than 1.
func (b Builder) WithEpoch(epoch uint32) Builder {
	epoch &= MaxEpoch
	b.entry.epoch = max(epoch, 1)
	return b
}

// WithStatus sets the status.
func (b Builder) WithStatus(status Status) Builder {
	b.entry.status = status
	return b
}

// Build returns the constructed entry.
func (b Builder) Build() Entry {
	return b.entry
}
