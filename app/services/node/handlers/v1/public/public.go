// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ardanlabs/mixnode/business/web/errs"
	"github.com/ardanlabs/mixnode/foundation/events"
	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ardanlabs/mixnode/foundation/mixnet/tickets"
	"github.com/ardanlabs/mixnode/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of channel and ticket endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	DB      *database.DB
	Tickets *tickets.Manager
	WS      websocket.Upgrader
	Evts    *events.Events[Event]
}

// TicketNotifier pushes every persisted ticket to the websocket clients.
func TicketNotifier(evts *events.Events[Event]) tickets.Notifier {
	f := func(ctx context.Context, a ticket.Acknowledged) error {
		evts.Send(Event{Type: EventTicketPersisted, Data: toTicketInfo(a)})
		return nil
	}

	return tickets.NotifierFunc(f)
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteJSON(evt); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Channels returns the stored channels. The direction query parameter limits
// the result to the channels paying (incoming) or funded by (outgoing) this
// node, and active=true to the channels still usable right now.
func (h Handlers) Channels(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var entries []channel.Entry
	switch q := r.URL.Query(); {
	case q.Get("active") == "true":
		for e, err := range h.DB.StreamActiveChannels(nil, v.Now) {
			if err != nil {
				return err
			}
			entries = append(entries, e)
		}

	case q.Get("direction") != "":
		dir, err := channel.ParseDirection(q.Get("direction"))
		if err != nil {
			return errs.NewTrusted(err, http.StatusBadRequest)
		}

		entries, err = h.DB.GetChannelsVia(nil, dir, h.DB.Me())
		if err != nil {
			return err
		}

	default:
		entries, err = h.DB.GetAllChannels(nil)
		if err != nil {
			return err
		}
	}

	infos := make([]channelInfo, len(entries))
	for i, e := range entries {
		infos[i] = toChannelInfo(e, h.DB.Me())
	}

	return web.Respond(ctx, w, infos, http.StatusOK)
}

// Channel returns the channel with the specified id.
func (h Handlers) Channel(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entry, err := h.channel(r)
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, toChannelInfo(*entry, h.DB.Me()), http.StatusOK)
}

// UpsertChannel stores a channel as observed on chain. An existing channel
// is edited in place and the changes are reported to the caller and to the
// websocket clients.
func (h Handlers) UpsertChannel(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var nc NewChannel
	if err := web.Decode(r, &nc); err != nil {
		return err
	}

	entry, err := nc.toEntry()
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	var stored *channel.Entry
	var changes []channel.Change
	var created bool
	f := func(tx *database.Tx) error {
		editor, err := h.DB.BeginChannelUpdate(tx, entry.ID())
		if err != nil {
			return err
		}

		if editor == nil {
			stored = &entry
			created = true
			return h.DB.UpsertChannel(tx, entry)
		}

		balance := entry.Balance()
		editor.ChangeBalance(&balance).
			ChangeStatus(entry.Status()).
			ChangeTicketIndex(entry.TicketIndex()).
			ChangeEpoch(entry.Epoch())

		if stored, err = h.DB.FinishChannelUpdate(tx, editor); err != nil {
			return err
		}
		changes = editor.Changes()

		return nil
	}

	// Channel writes share the single writer with the ticket pipeline.
	if err := h.Tickets.WithWriteLockedDB(ctx, f); err != nil {
		return fmt.Errorf("storing channel %s: %w", entry.ID(), err)
	}

	resp := channelUpdate{
		Channel: toChannelInfo(*stored, h.DB.Me()),
	}
	for _, c := range changes {
		resp.Changes = append(resp.Changes, c.String())
	}

	status := http.StatusOK
	evt := Event{Type: EventChannelUpdated, Data: resp}
	if created {
		status = http.StatusCreated
		evt.Type = EventChannelOpened
	}

	h.Evts.Send(evt)

	return web.Respond(ctx, w, resp, status)
}

// DeleteChannel removes the channel with the specified id.
func (h Handlers) DeleteChannel(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	id, err := channel.IDFromHex(web.Param(r, "id"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	var deleted *channel.Entry
	f := func(tx *database.Tx) error {
		editor, err := h.DB.BeginChannelUpdate(tx, id)
		if err != nil || editor == nil {
			return err
		}

		deleted, err = h.DB.FinishChannelUpdate(tx, editor.Delete())
		return err
	}

	if err := h.Tickets.WithWriteLockedDB(ctx, f); err != nil {
		return fmt.Errorf("deleting channel %s: %w", id, err)
	}

	if deleted == nil {
		return errs.NewTrusted(fmt.Errorf("channel %s not found", id), http.StatusNotFound)
	}

	h.Evts.Send(Event{Type: EventChannelDeleted, Data: toChannelInfo(*deleted, h.DB.Me())})

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// Unrealized returns the value of the unredeemed tickets on a channel. The
// epoch query parameter defaults to the current epoch of the channel.
func (h Handlers) Unrealized(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entry, err := h.channel(r)
	if err != nil {
		return err
	}

	epoch, err := queryEpoch(r, entry.Epoch())
	if err != nil {
		return err
	}

	value, err := h.Tickets.UnrealizedValue(ticket.NewSelector(entry.ID(), epoch))
	if err != nil {
		return err
	}

	info := unrealizedInfo{
		ChannelID: entry.ID().String(),
		Epoch:     epoch,
		Value:     value.Dec(),
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}

// ChannelTickets returns the persisted tickets of a channel together with
// its winning ticket count.
func (h Handlers) ChannelTickets(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entry, err := h.channel(r)
	if err != nil {
		return err
	}

	epoch, err := queryEpoch(r, entry.Epoch())
	if err != nil {
		return err
	}

	resp := channelTickets{
		ChannelID: entry.ID().String(),
		Epoch:     epoch,
		Tickets:   []ticketInfo{},
	}

	f := func(tx *database.Tx) error {
		acks, err := h.DB.GetTickets(tx, ticket.NewSelector(entry.ID(), epoch))
		if err != nil {
			return err
		}

		stats, err := h.DB.GetTicketStatistics(tx, entry.ID())
		if err != nil {
			return err
		}

		for _, a := range acks {
			resp.Tickets = append(resp.Tickets, toTicketInfo(a))
		}
		resp.WinningTickets = stats.WinningTickets
		resp.RedeemedValue = stats.RedeemedValue.Dec()
		resp.NeglectedValue = stats.NeglectedValue.Dec()
		resp.RejectedValue = stats.RejectedValue.Dec()

		return nil
	}

	if err := h.DB.View(f); err != nil {
		return err
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SubmitTicket queues an acknowledged ticket for persistence. An aggregated
// ticket replaces the tickets in the index range it covers.
func (h Handlers) SubmitTicket(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var nt NewTicket
	if err := web.Decode(r, &nt); err != nil {
		return err
	}

	ack, err := nt.toAcknowledged()
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	entry, err := h.DB.GetChannelByID(nil, ack.Ticket.ChannelID)
	if err != nil {
		return err
	}
	if entry == nil {
		return errs.NewTrusted(fmt.Errorf("channel %s not found", ack.Ticket.ChannelID), http.StatusNotFound)
	}

	submit := h.Tickets.InsertTicket
	if ack.Ticket.IsAggregated() {
		submit = h.Tickets.ReplaceTickets
	}

	if err := submit(ack); err != nil {
		switch {
		case errors.Is(err, tickets.ErrQueueFull),
			errors.Is(err, tickets.ErrNotStarted),
			errors.Is(err, tickets.ErrStopped):
			return errs.NewTrusted(err, http.StatusServiceUnavailable)
		case errors.Is(err, tickets.ErrAggregatedWinProb):
			return errs.NewTrusted(err, http.StatusBadRequest)
		}
		return err
	}

	return web.Respond(ctx, w, toTicketInfo(ack), http.StatusAccepted)
}

// PrepareAggregation marks the tickets of the current generation of an
// incoming channel as being aggregated and returns them.
func (h Handlers) PrepareAggregation(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entry, err := h.channel(r)
	if err != nil {
		return err
	}

	prepared, err := h.Tickets.PrepareAggregation(ctx, entry.ID())
	if err != nil {
		switch {
		case errors.Is(err, tickets.ErrAggregationInProgress):
			return errs.NewTrusted(err, http.StatusConflict)
		case errors.Is(err, tickets.ErrChannelClosed),
			errors.Is(err, tickets.ErrNotIncoming):
			return errs.NewTrusted(err, http.StatusBadRequest)
		case errors.Is(err, tickets.ErrUnknownChannel):
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	info := aggregationInfo{
		ChannelID: entry.ID().String(),
		Epoch:     entry.Epoch(),
		Tickets:   make([]ticketInfo, 0, len(prepared)),
	}
	for _, a := range prepared {
		info.Tickets = append(info.Tickets, toTicketInfo(a))
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}

// RollbackAggregation returns the tickets being aggregated in a channel to
// the untouched state.
func (h Handlers) RollbackAggregation(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	entry, err := h.channel(r)
	if err != nil {
		return err
	}

	reverted, err := h.Tickets.RollbackAggregation(ctx, entry.ID())
	if err != nil {
		if errors.Is(err, tickets.ErrUnknownChannel) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	info := rollbackInfo{
		ChannelID: entry.ID().String(),
		Reverted:  reverted,
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}

// =============================================================================

// channel loads the channel named by the id route parameter.
func (h Handlers) channel(r *http.Request) (*channel.Entry, error) {
	id, err := channel.IDFromHex(web.Param(r, "id"))
	if err != nil {
		return nil, errs.NewTrusted(err, http.StatusBadRequest)
	}

	entry, err := h.DB.GetChannelByID(nil, id)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		return nil, errs.NewTrusted(fmt.Errorf("channel %s not found", id), http.StatusNotFound)
	}

	return entry, nil
}

func queryEpoch(r *http.Request, def uint32) (uint32, error) {
	s := r.URL.Query().Get("epoch")
	if s == "" {
		return def, nil
	}

	epoch, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errs.NewTrusted(fmt.Errorf("invalid epoch %q", s), http.StatusBadRequest)
	}

	return uint32(epoch), nil
}
