// Package ticket provides the payment tickets a relay earns for forwarding
// packets and the selectors used to query them.
package ticket

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
	"github.com/holiman/uint256"
)

// ErrInvalidResponse is returned when the response of an acknowledged ticket
// does not solve the ticket challenge.
var ErrInvalidResponse = errors.New("response does not solve the ticket challenge")

// Status represents where an acknowledged ticket is in its redemption.
type Status uint8

// Set of ticket statuses. The values are persisted and must not change.
const (
	Untouched Status = iota
	BeingRedeemed
	BeingAggregated
)

// String implements the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Untouched:
		return "untouched"
	case BeingRedeemed:
		return "being_redeemed"
	case BeingAggregated:
		return "being_aggregated"
	}

	return fmt.Sprintf("unknown(%d)", uint8(s))
}

// =============================================================================

// Ticket is a probabilistic payment issued over a channel. An aggregated
// ticket covers the index range [Index, Index+IndexOffset).
type Ticket struct {
	ChannelID   channel.ID
	Amount      uint256.Int
	Index       uint64
	IndexOffset uint32
	Epoch       uint32
	WinProb     float64
	Challenge   halfkey.EthereumChallenge
}

// IsAggregated reports whether the ticket replaces more than one ticket.
func (t Ticket) IsAggregated() bool {
	return t.IndexOffset > 1
}

// String implements the fmt.Stringer interface.
func (t Ticket) String() string {
	return fmt.Sprintf("ticket %s epoch %d index %d offset %d amount %s",
		t.ChannelID, t.Epoch, t.Index, t.IndexOffset, t.Amount.Dec())
}

// =============================================================================

// Acknowledged is a ticket together with the response that solves its
// challenge. Only acknowledged tickets can be redeemed.
type Acknowledged struct {
	Status   Status
	Ticket   Ticket
	Response halfkey.Response
}

// NewAcknowledged pairs the ticket with its response and validates them.
func NewAcknowledged(t Ticket, resp halfkey.Response) (Acknowledged, error) {
	ack := Acknowledged{
		Status:   Untouched,
		Ticket:   t,
		Response: resp,
	}

	if err := ack.Validate(); err != nil {
		return Acknowledged{}, err
	}

	return ack, nil
}

// Validate checks the response solves the challenge embedded in the ticket.
func (a Acknowledged) Validate() error {
	ec, err := a.Response.ToEthereumChallenge()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResponse, err)
	}

	if !ec.Equal(a.Ticket.Challenge) {
		return ErrInvalidResponse
	}

	return nil
}

// String implements the fmt.Stringer interface.
func (a Acknowledged) String() string {
	return fmt.Sprintf("%s status %s", a.Ticket, a.Status)
}
