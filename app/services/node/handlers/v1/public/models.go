package public

import (
	"fmt"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// Set of event types sent to websocket clients.
const (
	EventTicketPersisted = "ticket_persisted"
	EventChannelOpened   = "channel_opened"
	EventChannelUpdated  = "channel_updated"
	EventChannelDeleted  = "channel_deleted"
)

// Event is a notification pushed to every websocket client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// =============================================================================

type channelInfo struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Balance     string     `json:"balance"`
	TicketIndex uint64     `json:"ticket_index"`
	Epoch       uint32     `json:"epoch"`
	Status      string     `json:"status"`
	ClosureTime *time.Time `json:"closure_time,omitempty"`
	Direction   string     `json:"direction,omitempty"`
}

func toChannelInfo(e channel.Entry, me common.Address) channelInfo {
	bal := e.Balance()

	ci := channelInfo{
		ID:          e.ID().String(),
		Source:      e.Source().Hex(),
		Destination: e.Destination().Hex(),
		Balance:     bal.Dec(),
		TicketIndex: e.TicketIndex(),
		Epoch:       e.Epoch(),
		Status:      e.Status().Kind().String(),
	}

	if t, ok := e.ClosureTimeAt(); ok {
		t = t.UTC()
		ci.ClosureTime = &t
	}

	if dir, ok := e.Direction(me); ok {
		ci.Direction = dir.String()
	}

	return ci
}

type channelUpdate struct {
	Channel channelInfo `json:"channel"`
	Changes []string    `json:"changes,omitempty"`
}

// NewChannel is what an indexer posts when it observes a channel event on
// chain.
type NewChannel struct {
	Source      string     `json:"source" validate:"required,eth_addr"`
	Destination string     `json:"destination" validate:"required,eth_addr,nefield=Source"`
	Balance     string     `json:"balance" validate:"required,number"`
	TicketIndex uint64     `json:"ticket_index"`
	Epoch       uint32     `json:"epoch" validate:"gte=1"`
	Status      string     `json:"status" validate:"required,oneof=closed open pending_to_close"`
	ClosureTime *time.Time `json:"closure_time" validate:"required_if=Status pending_to_close"`
}

// toEntry converts the validated payload into a channel entry.
func (nc NewChannel) toEntry() (channel.Entry, error) {
	balance, err := uint256.FromDecimal(nc.Balance)
	if err != nil {
		return channel.Entry{}, fmt.Errorf("parsing balance: %w", err)
	}

	kind, err := channel.ParseStatusKind(nc.Status)
	if err != nil {
		return channel.Entry{}, err
	}

	var status channel.Status
	switch kind {
	case channel.Open:
		status = channel.OpenStatus()
	case channel.PendingToClose:
		status = channel.PendingToCloseStatus(*nc.ClosureTime)
	default:
		status = channel.ClosedStatus()
	}

	entry := channel.NewBuilder(common.HexToAddress(nc.Source), common.HexToAddress(nc.Destination)).
		WithBalance(balance).
		WithTicketIndex(nc.TicketIndex).
		WithEpoch(nc.Epoch).
		WithStatus(status).
		Build()

	return entry, nil
}

// =============================================================================

type unrealizedInfo struct {
	ChannelID string `json:"channel_id"`
	Epoch     uint32 `json:"epoch"`
	Value     string `json:"value"`
}

type ticketInfo struct {
	ChannelID   string  `json:"channel_id"`
	Amount      string  `json:"amount"`
	Index       uint64  `json:"index"`
	IndexOffset uint32  `json:"index_offset"`
	Epoch       uint32  `json:"epoch"`
	WinProb     float64 `json:"win_prob"`
	Challenge   string  `json:"challenge"`
	Response    string  `json:"response"`
	Status      string  `json:"status"`
}

func toTicketInfo(a ticket.Acknowledged) ticketInfo {
	return ticketInfo{
		ChannelID:   a.Ticket.ChannelID.String(),
		Amount:      a.Ticket.Amount.Dec(),
		Index:       a.Ticket.Index,
		IndexOffset: a.Ticket.IndexOffset,
		Epoch:       a.Ticket.Epoch,
		WinProb:     a.Ticket.WinProb,
		Challenge:   a.Ticket.Challenge.String(),
		Response:    a.Response.String(),
		Status:      a.Status.String(),
	}
}

type channelTickets struct {
	ChannelID      string       `json:"channel_id"`
	Epoch          uint32       `json:"epoch"`
	WinningTickets uint64       `json:"winning_tickets"`
	RedeemedValue  string       `json:"redeemed_value"`
	NeglectedValue string       `json:"neglected_value"`
	RejectedValue  string       `json:"rejected_value"`
	Tickets        []ticketInfo `json:"tickets"`
}

type aggregationInfo struct {
	ChannelID string       `json:"channel_id"`
	Epoch     uint32       `json:"epoch"`
	Tickets   []ticketInfo `json:"tickets"`
}

type rollbackInfo struct {
	ChannelID string `json:"channel_id"`
	Reverted  int    `json:"reverted"`
}

// NewTicket is an acknowledged ticket submitted for persistence.
type NewTicket struct {
	ChannelID   string  `json:"channel_id" validate:"required"`
	Amount      string  `json:"amount" validate:"required,number"`
	Index       uint64  `json:"index"`
	IndexOffset uint32  `json:"index_offset" validate:"gte=1"`
	Epoch       uint32  `json:"epoch" validate:"gte=1"`
	WinProb     float64 `json:"win_prob" validate:"gte=0,lte=1"`
	Challenge   string  `json:"challenge" validate:"required"`
	Response    string  `json:"response" validate:"required"`
}

// toAcknowledged parses the payload and checks the response solves the
// challenge.
func (nt NewTicket) toAcknowledged() (ticket.Acknowledged, error) {
	id, err := channel.IDFromHex(nt.ChannelID)
	if err != nil {
		return ticket.Acknowledged{}, fmt.Errorf("parsing channel id: %w", err)
	}

	amount, err := uint256.FromDecimal(nt.Amount)
	if err != nil {
		return ticket.Acknowledged{}, fmt.Errorf("parsing amount: %w", err)
	}

	challenge, err := halfkey.EthereumChallengeFromHex(nt.Challenge)
	if err != nil {
		return ticket.Acknowledged{}, fmt.Errorf("parsing challenge: %w", err)
	}

	raw, err := hexutil.Decode(nt.Response)
	if err != nil {
		return ticket.Acknowledged{}, fmt.Errorf("parsing response: %w", err)
	}

	resp, err := halfkey.ResponseFromBytes(raw)
	if err != nil {
		return ticket.Acknowledged{}, fmt.Errorf("parsing response: %w", err)
	}

	t := ticket.Ticket{
		ChannelID:   id,
		Amount:      *amount,
		Index:       nt.Index,
		IndexOffset: nt.IndexOffset,
		Epoch:       nt.Epoch,
		WinProb:     nt.WinProb,
		Challenge:   challenge,
	}

	return ticket.NewAcknowledged(t, resp)
}
