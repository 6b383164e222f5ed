// Package relay binds the Proof-of-Relay verification of incoming packets to
// the acknowledgements that unlock their tickets.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
	"github.com/ardanlabs/mixnode/foundation/mixnet/por"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ardanlabs/mixnode/foundation/mixnet/tickets"
	"github.com/ardanlabs/mixnode/foundation/validate"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Set of error variables for relaying.
var (
	ErrUnknownChannel         = errors.New("no channel with the previous hop")
	ErrChannelNotOpen         = errors.New("channel is not open")
	ErrEpochMismatch          = errors.New("ticket epoch does not match the channel")
	ErrTicketValue            = errors.New("ticket amount exceeds the channel balance")
	ErrTicketIndex            = errors.New("ticket index is below the channel ticket index")
	ErrUnknownAcknowledgement = errors.New("acknowledgement does not match a pending ticket")
)

// IncomingPacket is what the relay learned from the packet after removing
// its onion layer.
type IncomingPacket struct {
	Previous common.Address
	Secret   halfkey.SharedSecret
	PoR      por.RelayString
	Ticket   ticket.Ticket
}

// Forward is what the relay needs to forward the packet. The ack key is sent
// back to the previous hop as the acknowledgement.
type Forward struct {
	NextTicketChallenge halfkey.EthereumChallenge
	AckKey              halfkey.HalfKey
}

// pending is a ticket that waits for the acknowledgement of the next hop.
type pending struct {
	ticket ticket.Ticket
	ownKey halfkey.HalfKey
}

// Config represents the settings for the relayer.
type Config struct {
	DB          *database.DB       `validate:"required"`
	Tickets     *tickets.Manager   `validate:"required"`
	Log         *zap.SugaredLogger `validate:"required"`
	PendingSize int                `validate:"gte=0"`
	Now         func() time.Time
}

// Relayer verifies incoming packets and redeems their tickets once the next
// hop acknowledges them.
type Relayer struct {
	db      *database.DB
	tickets *tickets.Manager
	log     *zap.SugaredLogger
	pending *lru.Cache[halfkey.HalfKeyChallenge, pending]
	now     func() time.Time
}

// New constructs a relayer.
func New(cfg Config) (*Relayer, error) {
	if cfg.PendingSize == 0 {
		cfg.PendingSize = 10_000
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if err := validate.Check(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	p, err := lru.New[halfkey.HalfKeyChallenge, pending](cfg.PendingSize)
	if err != nil {
		return nil, fmt.Errorf("creating pending cache: %w", err)
	}

	r := Relayer{
		db:      cfg.DB,
		tickets: cfg.Tickets,
		log:     cfg.Log,
		pending: p,
		now:     cfg.Now,
	}

	return &r, nil
}

// HandleIncoming verifies the packet against the ticket that came with it
// and checks the ticket against the channel with the previous hop. Any error
// means the packet must be dropped.
func (r *Relayer) HandleIncoming(in IncomingPacket) (Forward, error) {
	out, err := por.PreVerify(in.Secret, in.PoR, in.Ticket.Challenge)
	if err != nil {
		r.log.Infow("relay", "status", "dropping packet", "previous", in.Previous, "ERROR", err)
		return Forward{}, err
	}

	if err := r.checkChannel(in.Previous, in.Ticket); err != nil {
		r.log.Infow("relay", "status", "dropping packet", "previous", in.Previous, "ERROR", err)
		r.reject(in.Ticket, err)
		return Forward{}, err
	}

	r.pending.Add(out.AckChallenge, pending{ticket: in.Ticket, ownKey: out.OwnKey})

	fwd := Forward{
		NextTicketChallenge: out.NextTicketChallenge,
		AckKey:              halfkey.DeriveAckKeyShare(in.Secret),
	}

	return fwd, nil
}

// HandleAcknowledgement completes the pending ticket the acknowledgement
// solves and hands it to the ticket manager.
func (r *Relayer) HandleAcknowledgement(ackKey halfkey.HalfKey) (*ticket.Acknowledged, error) {
	if err := ackKey.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnknownAcknowledgement, err)
	}

	key := ackKey.ToChallenge()

	p, ok := r.pending.Peek(key)
	if !ok {
		return nil, ErrUnknownAcknowledgement
	}

	resp, err := halfkey.ResponseFromHalfKeys(p.ownKey, ackKey)
	if err != nil {
		return nil, err
	}

	ack, err := ticket.NewAcknowledged(p.ticket, resp)
	if err != nil {
		return nil, err
	}

	// Only the caller that removes the entry may insert the ticket.
	if !r.pending.Remove(key) {
		return nil, ErrUnknownAcknowledgement
	}

	if err := r.tickets.InsertTicket(ack); err != nil {
		r.pending.Add(key, p)
		return nil, fmt.Errorf("inserting ticket: %w", err)
	}

	r.log.Infow("relay", "status", "ticket acknowledged", "ticket", ack.Ticket)

	return &ack, nil
}

// Pending returns the number of tickets waiting for an acknowledgement.
func (r *Relayer) Pending() int {
	return r.pending.Len()
}

// checkChannel makes sure the ticket was issued on a usable channel from the
// previous hop to this node.
func (r *Relayer) checkChannel(previous common.Address, t ticket.Ticket) error {
	entry, err := r.db.GetChannelByParties(nil, previous, r.db.Me(), true)
	if err != nil {
		return err
	}

	if entry == nil || entry.ID() != t.ChannelID {
		return ErrUnknownChannel
	}

	switch entry.Status().Kind() {
	case channel.Open:
	case channel.PendingToClose:
		if entry.ClosureTimePassed(r.now()) {
			return ErrChannelNotOpen
		}
	default:
		return ErrChannelNotOpen
	}

	if entry.Epoch() != t.Epoch {
		return fmt.Errorf("%w: channel %d, ticket %d", ErrEpochMismatch, entry.Epoch(), t.Epoch)
	}

	if balance := entry.Balance(); t.Amount.Gt(&balance) {
		return fmt.Errorf("%w: balance %s, ticket %s", ErrTicketValue, balance.Dec(), t.Amount.Dec())
	}

	if t.Index < entry.TicketIndex() {
		return fmt.Errorf("%w: channel %d, ticket %d", ErrTicketIndex, entry.TicketIndex(), t.Index)
	}

	return nil
}

// reject records the value of a ticket that failed the checks against an
// existing channel.
func (r *Relayer) reject(t ticket.Ticket, reason error) {
	switch {
	case errors.Is(reason, ErrChannelNotOpen),
		errors.Is(reason, ErrEpochMismatch),
		errors.Is(reason, ErrTicketValue),
		errors.Is(reason, ErrTicketIndex):
	default:
		return
	}

	if err := r.tickets.MarkRejected(context.Background(), t); err != nil {
		r.log.Errorw("relay", "status", "recording rejected ticket", "ticket", t, "ERROR", err)
	}
}
