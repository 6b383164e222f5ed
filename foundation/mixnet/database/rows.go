package database

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// channelRow is the stored form of a channel. Numbers are kept as big-endian
// bytes and the closure time is only set for a channel pending to close.
type channelRow struct {
	ID          string         `json:"id"`
	Source      common.Address `json:"source"`
	Destination common.Address `json:"destination"`
	Balance     hexutil.Bytes  `json:"balance"`
	TicketIndex hexutil.Bytes  `json:"ticket_index"`
	Epoch       hexutil.Bytes  `json:"epoch"`
	Status      uint8          `json:"status"`
	ClosureTime *int64         `json:"closure_time,omitempty"`
}

func channelKey(id channel.ID) []byte {
	return []byte(id.String())
}

func encodeChannel(e channel.Entry) ([]byte, error) {
	balance := e.Balance()
	b32 := balance.Bytes32()

	index := make([]byte, 8)
	binary.BigEndian.PutUint64(index, e.TicketIndex())

	epoch := make([]byte, 4)
	binary.BigEndian.PutUint32(epoch, e.Epoch())

	row := channelRow{
		ID:          e.ID().String(),
		Source:      e.Source(),
		Destination: e.Destination(),
		Balance:     b32[:],
		TicketIndex: index,
		Epoch:       epoch,
		Status:      uint8(e.Status().Kind()),
	}

	if t, ok := e.ClosureTimeAt(); ok {
		unix := t.Unix()
		row.ClosureTime = &unix
	}

	return json.Marshal(row)
}

func decodeChannel(data []byte) (channel.Entry, error) {
	var row channelRow
	if err := json.Unmarshal(data, &row); err != nil {
		return channel.Entry{}, err
	}

	if row.Source == row.Destination {
		return channel.Entry{}, errors.New("source and destination are the same")
	}

	if len(row.Balance) != 32 || len(row.TicketIndex) != 8 || len(row.Epoch) != 4 {
		return channel.Entry{}, errors.New("invalid numeric column length")
	}

	var status channel.Status
	switch channel.StatusKind(row.Status) {
	case channel.Closed:
		status = channel.ClosedStatus()
	case channel.Open:
		status = channel.OpenStatus()
	case channel.PendingToClose:
		if row.ClosureTime == nil {
			return channel.Entry{}, errors.New("missing closure time")
		}
		status = channel.PendingToCloseStatus(time.Unix(*row.ClosureTime, 0))
	default:
		return channel.Entry{}, fmt.Errorf("unknown status %d", row.Status)
	}

	e := channel.NewBuilder(row.Source, row.Destination).
		WithBalance(new(uint256.Int).SetBytes(row.Balance)).
		WithTicketIndex(binary.BigEndian.Uint64(row.TicketIndex)).
		WithEpoch(binary.BigEndian.Uint32(row.Epoch)).
		WithStatus(status).
		Build()

	if e.ID().String() != row.ID {
		return channel.Entry{}, fmt.Errorf("id mismatch: stored %s, computed %s", row.ID, e.ID())
	}

	return e, nil
}

// =============================================================================

// ticketRow is the stored form of an acknowledged ticket.
type ticketRow struct {
	ChannelID   string        `json:"channel_id"`
	Amount      hexutil.Bytes `json:"amount"`
	Index       uint64        `json:"index"`
	IndexOffset uint32        `json:"index_offset"`
	Epoch       uint32        `json:"epoch"`
	WinProb     float64       `json:"win_prob"`
	Challenge   hexutil.Bytes `json:"challenge"`
	Response    hexutil.Bytes `json:"response"`
	State       uint8         `json:"state"`
}

const ticketPrefixSize = channel.IDSize + 4

// ticketPrefix builds the key prefix shared by the tickets of a channel
// generation.
func ticketPrefix(ce ticket.ChannelEpoch) []byte {
	key := make([]byte, ticketPrefixSize, ticketPrefixSize+8)
	copy(key, ce.ChannelID[:])
	binary.BigEndian.PutUint32(key[channel.IDSize:], ce.Epoch)
	return key
}

// ticketKey orders tickets by channel, epoch and index.
func ticketKey(ce ticket.ChannelEpoch, index uint64) []byte {
	return binary.BigEndian.AppendUint64(ticketPrefix(ce), index)
}

func encodeTicket(a ticket.Acknowledged) ([]byte, error) {
	amount := a.Ticket.Amount.Bytes32()

	row := ticketRow{
		ChannelID:   a.Ticket.ChannelID.String(),
		Amount:      amount[:],
		Index:       a.Ticket.Index,
		IndexOffset: a.Ticket.IndexOffset,
		Epoch:       a.Ticket.Epoch,
		WinProb:     a.Ticket.WinProb,
		Challenge:   a.Ticket.Challenge.Bytes(),
		Response:    a.Response.Bytes(),
		State:       uint8(a.Status),
	}

	return json.Marshal(row)
}

func decodeTicket(data []byte) (ticket.Acknowledged, error) {
	var row ticketRow
	if err := json.Unmarshal(data, &row); err != nil {
		return ticket.Acknowledged{}, err
	}

	id, err := channel.IDFromHex(row.ChannelID)
	if err != nil {
		return ticket.Acknowledged{}, err
	}

	if len(row.Amount) != 32 {
		return ticket.Acknowledged{}, errors.New("invalid amount length")
	}

	challenge, err := halfkey.EthereumChallengeFromBytes(row.Challenge)
	if err != nil {
		return ticket.Acknowledged{}, err
	}

	resp, err := halfkey.ResponseFromBytes(row.Response)
	if err != nil {
		return ticket.Acknowledged{}, err
	}

	a := ticket.Acknowledged{
		Status: ticket.Status(row.State),
		Ticket: ticket.Ticket{
			ChannelID:   id,
			Index:       row.Index,
			IndexOffset: row.IndexOffset,
			Epoch:       row.Epoch,
			WinProb:     row.WinProb,
			Challenge:   challenge,
		},
		Response: resp,
	}
	a.Ticket.Amount.SetBytes(row.Amount)

	return a, nil
}

// =============================================================================

// TicketStatistics holds the per channel ticket counters. The values add
// up the amounts of the tickets that left the store as redeemed or
// neglected and of the tickets that were rejected before being stored.
type TicketStatistics struct {
	WinningTickets uint64
	RedeemedValue  uint256.Int
	NeglectedValue uint256.Int
	RejectedValue  uint256.Int
}

// statsRow is the stored form of the ticket statistics.
type statsRow struct {
	WinningTickets uint64        `json:"winning_tickets"`
	RedeemedValue  hexutil.Bytes `json:"redeemed_value,omitempty"`
	NeglectedValue hexutil.Bytes `json:"neglected_value,omitempty"`
	RejectedValue  hexutil.Bytes `json:"rejected_value,omitempty"`
}

func encodeStatistics(stats TicketStatistics) ([]byte, error) {
	redeemed := stats.RedeemedValue.Bytes32()
	neglected := stats.NeglectedValue.Bytes32()
	rejected := stats.RejectedValue.Bytes32()

	row := statsRow{
		WinningTickets: stats.WinningTickets,
		RedeemedValue:  redeemed[:],
		NeglectedValue: neglected[:],
		RejectedValue:  rejected[:],
	}

	return json.Marshal(row)
}

func decodeStatistics(data []byte) (TicketStatistics, error) {
	var row statsRow
	if err := json.Unmarshal(data, &row); err != nil {
		return TicketStatistics{}, err
	}

	for _, b := range [][]byte{row.RedeemedValue, row.NeglectedValue, row.RejectedValue} {
		if len(b) > 32 {
			return TicketStatistics{}, errors.New("invalid value length")
		}
	}

	stats := TicketStatistics{
		WinningTickets: row.WinningTickets,
	}
	stats.RedeemedValue.SetBytes(row.RedeemedValue)
	stats.NeglectedValue.SetBytes(row.NeglectedValue)
	stats.RejectedValue.SetBytes(row.RejectedValue)

	return stats, nil
}
