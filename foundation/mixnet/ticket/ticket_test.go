package ticket_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var (
	chA = channel.NewID(common.HexToAddress("0x01"), common.HexToAddress("0x02"))
	chB = channel.NewID(common.HexToAddress("0x02"), common.HexToAddress("0x01"))
)

func ack(id channel.ID, epoch uint32, index uint64, offset uint32, status ticket.Status) ticket.Acknowledged {
	return ticket.Acknowledged{
		Status: status,
		Ticket: ticket.Ticket{
			ChannelID:   id,
			Amount:      *uint256.NewInt(10),
			Index:       index,
			IndexOffset: offset,
			Epoch:       epoch,
			WinProb:     1,
		},
	}
}

// =============================================================================

func Test_Selector(t *testing.T) {
	type table struct {
		name     string
		selector ticket.Selector
		ticket   ticket.Acknowledged
		matches  bool
	}

	tt := []table{
		{name: "channel", selector: ticket.NewSelector(chA, 1), ticket: ack(chA, 1, 5, 1, ticket.Untouched), matches: true},
		{name: "other-channel", selector: ticket.NewSelector(chA, 1), ticket: ack(chB, 1, 5, 1, ticket.Untouched), matches: false},
		{name: "other-epoch", selector: ticket.NewSelector(chA, 1), ticket: ack(chA, 2, 5, 1, ticket.Untouched), matches: false},
		{name: "also", selector: ticket.NewSelector(chA, 1).Also(chB, 3), ticket: ack(chB, 3, 5, 1, ticket.Untouched), matches: true},
		{name: "index", selector: ticket.NewSelector(chA, 1).WithIndex(5), ticket: ack(chA, 1, 5, 1, ticket.Untouched), matches: true},
		{name: "other-index", selector: ticket.NewSelector(chA, 1).WithIndex(6), ticket: ack(chA, 1, 5, 1, ticket.Untouched), matches: false},
		{name: "range-start", selector: ticket.NewSelector(chA, 1).WithIndexRange(5, 8), ticket: ack(chA, 1, 5, 1, ticket.Untouched), matches: true},
		{name: "range-end", selector: ticket.NewSelector(chA, 1).WithIndexRange(2, 5), ticket: ack(chA, 1, 5, 1, ticket.Untouched), matches: false},
		{name: "state", selector: ticket.NewSelector(chA, 1).WithState(ticket.BeingAggregated), ticket: ack(chA, 1, 5, 1, ticket.BeingAggregated), matches: true},
		{name: "other-state", selector: ticket.NewSelector(chA, 1).WithState(ticket.BeingAggregated), ticket: ack(chA, 1, 5, 1, ticket.Untouched), matches: false},
		{name: "aggregated", selector: ticket.NewSelector(chA, 1).WithAggregatedOnly(), ticket: ack(chA, 1, 5, 3, ticket.Untouched), matches: true},
		{name: "not-aggregated", selector: ticket.NewSelector(chA, 1).WithAggregatedOnly(), ticket: ack(chA, 1, 5, 1, ticket.Untouched), matches: false},
	}

	t.Log("Given the need to select tickets.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen matching by %s.", testID, tst.name)
			{
				if got := tst.selector.Matches(tst.ticket); got != tst.matches {
					t.Fatalf("\t%s\tTest %d:\tShould get match %v, got %v: %s", failed, testID, tst.matches, got, tst.selector)
				}
				t.Logf("\t%s\tTest %d:\tShould get match %v.", success, testID, tst.matches)
			}
		}
	}
}

func Test_SelectorChannels(t *testing.T) {
	s := ticket.NewSelector(chA, 1)
	if !s.IsSingleChannel() {
		t.Fatalf("Should address a single channel.")
	}

	multi := s.Also(chB, 1)
	if multi.IsSingleChannel() {
		t.Fatalf("Should address multiple channels.")
	}

	if !s.IsSingleChannel() || len(s.Channels()) != 1 {
		t.Fatalf("Should not modify the original selector.")
	}

	start, end := s.IndexBounds()
	if start != 0 || end != channel.MaxTicketIndex+1 {
		t.Fatalf("Should cover every index by default: [%d, %d)", start, end)
	}

	start, end = s.WithIndex(4).IndexBounds()
	if start != 4 || end != 5 {
		t.Fatalf("Should cover a single index: [%d, %d)", start, end)
	}
}

func Test_Validate(t *testing.T) {
	own := halfkey.RandomHalfKey()
	ackKey := halfkey.RandomHalfKey()

	resp, err := halfkey.ResponseFromHalfKeys(own, ackKey)
	if err != nil {
		t.Fatalf("Should be able to compute the response: %s", err)
	}

	ec, err := resp.ToEthereumChallenge()
	if err != nil {
		t.Fatalf("Should be able to compute the challenge: %s", err)
	}

	tkt := ticket.Ticket{ChannelID: chA, Amount: *uint256.NewInt(1), IndexOffset: 1, Epoch: 1, WinProb: 1, Challenge: ec}

	a, err := ticket.NewAcknowledged(tkt, resp)
	if err != nil {
		t.Fatalf("Should accept the correct response: %s", err)
	}

	if a.Status != ticket.Untouched {
		t.Fatalf("Should start untouched, got %s.", a.Status)
	}

	wrong, err := halfkey.ResponseFromHalfKeys(own, halfkey.RandomHalfKey())
	if err != nil {
		t.Fatalf("Should be able to compute the response: %s", err)
	}

	if _, err := ticket.NewAcknowledged(tkt, wrong); !errors.Is(err, ticket.ErrInvalidResponse) {
		t.Fatalf("Should reject the wrong response: %v", err)
	}

	if _, err := ticket.NewAcknowledged(tkt, halfkey.Response{}); !errors.Is(err, ticket.ErrInvalidResponse) {
		t.Fatalf("Should reject the zero response: %v", err)
	}
}
