package database

import (
	"bytes"
	"fmt"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/holiman/uint256"
)

// InsertTicket stores the acknowledged ticket. It fails with
// ErrTicketExists if a ticket with the same channel, epoch and index is
// already stored.
func (db *DB) InsertTicket(tx *Tx, a ticket.Acknowledged) error {
	f := func(tx *Tx) error {
		key := ticketKey(ticket.ChannelEpoch{ChannelID: a.Ticket.ChannelID, Epoch: a.Ticket.Epoch}, a.Ticket.Index)
		if tx.tx.Bucket(bucketTickets).Get(key) != nil {
			return fmt.Errorf("%w: %s", ErrTicketExists, a.Ticket)
		}

		return putTicket(tx, a)
	}

	return db.update(tx, "insert ticket", f)
}

// GetTickets returns the tickets matching the selector ordered by channel,
// epoch and index.
func (db *DB) GetTickets(tx *Tx, selector ticket.Selector) ([]ticket.Acknowledged, error) {
	var tickets []ticket.Acknowledged

	f := func(tx *Tx) error {
		return scanTickets(tx, selector, func(_ []byte, a ticket.Acknowledged) error {
			tickets = append(tickets, a)
			return nil
		})
	}

	if err := db.view(tx, "get tickets", f); err != nil {
		return nil, err
	}

	return tickets, nil
}

// DeleteTickets removes the tickets matching the selector and returns how
// many were removed.
func (db *DB) DeleteTickets(tx *Tx, selector ticket.Selector) (int, error) {
	var deleted int

	f := func(tx *Tx) error {
		var keys [][]byte
		err := scanTickets(tx, selector, func(key []byte, _ ticket.Acknowledged) error {
			keys = append(keys, bytes.Clone(key))
			return nil
		})
		if err != nil {
			return err
		}

		b := tx.tx.Bucket(bucketTickets)
		for _, key := range keys {
			if err := b.Delete(key); err != nil {
				return err
			}
		}

		deleted = len(keys)
		return nil
	}

	if err := db.update(tx, "delete tickets", f); err != nil {
		return 0, err
	}

	return deleted, nil
}

// UpdateTicketStatus moves the tickets matching the selector into the new
// status and returns how many were changed.
func (db *DB) UpdateTicketStatus(tx *Tx, selector ticket.Selector, status ticket.Status) (int, error) {
	var updated int

	f := func(tx *Tx) error {
		var tickets []ticket.Acknowledged
		err := scanTickets(tx, selector, func(_ []byte, a ticket.Acknowledged) error {
			tickets = append(tickets, a)
			return nil
		})
		if err != nil {
			return err
		}

		for _, a := range tickets {
			a.Status = status
			if err := putTicket(tx, a); err != nil {
				return err
			}
		}

		updated = len(tickets)
		return nil
	}

	if err := db.update(tx, "update ticket status", f); err != nil {
		return 0, err
	}

	return updated, nil
}

// SumTicketAmounts adds up the amounts of the tickets matching the selector.
func (db *DB) SumTicketAmounts(tx *Tx, selector ticket.Selector) (uint256.Int, error) {
	var sum uint256.Int

	f := func(tx *Tx) error {
		return scanTickets(tx, selector, func(_ []byte, a ticket.Acknowledged) error {
			sum.Add(&sum, &a.Ticket.Amount)
			return nil
		})
	}

	if err := db.view(tx, "sum ticket amounts", f); err != nil {
		return uint256.Int{}, err
	}

	return sum, nil
}

// IncrementWinningTickets adds one to the winning ticket count of the
// channel, creating the statistics if they do not exist.
func (db *DB) IncrementWinningTickets(tx *Tx, id channel.ID) error {
	f := func(tx *Tx) error {
		return updateStatistics(tx, id, func(stats *TicketStatistics) {
			stats.WinningTickets++
		})
	}

	return db.update(tx, "increment winning tickets", f)
}

// MarkTicketsRedeemed removes the tickets matching the selector and adds
// their amounts to the redeemed value of their channels. It returns how
// many tickets were removed.
func (db *DB) MarkTicketsRedeemed(tx *Tx, selector ticket.Selector) (int, error) {
	var removed int

	f := func(tx *Tx) error {
		var err error
		removed, err = removeTickets(tx, selector, func(stats *TicketStatistics, amount *uint256.Int) {
			stats.RedeemedValue.Add(&stats.RedeemedValue, amount)
		})
		return err
	}

	if err := db.update(tx, "mark tickets redeemed", f); err != nil {
		return 0, err
	}

	return removed, nil
}

// MarkTicketsNeglected removes the tickets matching the selector and adds
// their amounts to the neglected value of their channels. It returns how
// many tickets were removed.
func (db *DB) MarkTicketsNeglected(tx *Tx, selector ticket.Selector) (int, error) {
	var removed int

	f := func(tx *Tx) error {
		var err error
		removed, err = removeTickets(tx, selector, func(stats *TicketStatistics, amount *uint256.Int) {
			stats.NeglectedValue.Add(&stats.NeglectedValue, amount)
		})
		return err
	}

	if err := db.update(tx, "mark tickets neglected", f); err != nil {
		return 0, err
	}

	return removed, nil
}

// MarkTicketRejected adds the amount of a ticket that was never stored to
// the rejected value of its channel.
func (db *DB) MarkTicketRejected(tx *Tx, t ticket.Ticket) error {
	f := func(tx *Tx) error {
		return updateStatistics(tx, t.ChannelID, func(stats *TicketStatistics) {
			stats.RejectedValue.Add(&stats.RejectedValue, &t.Amount)
		})
	}

	return db.update(tx, "mark ticket rejected", f)
}

// GetTicketStatistics returns the ticket statistics of the channel. A
// channel without statistics returns the zero value.
func (db *DB) GetTicketStatistics(tx *Tx, id channel.ID) (TicketStatistics, error) {
	var stats TicketStatistics

	f := func(tx *Tx) error {
		var err error
		stats, err = getStatistics(tx, id)
		return err
	}

	if err := db.view(tx, "get ticket statistics", f); err != nil {
		return TicketStatistics{}, err
	}

	return stats, nil
}

// =============================================================================

func putTicket(tx *Tx, a ticket.Acknowledged) error {
	data, err := encodeTicket(a)
	if err != nil {
		return err
	}

	key := ticketKey(ticket.ChannelEpoch{ChannelID: a.Ticket.ChannelID, Epoch: a.Ticket.Epoch}, a.Ticket.Index)

	return tx.tx.Bucket(bucketTickets).Put(key, data)
}

// scanTickets walks the key range of every channel generation addressed by
// the selector and calls fn for each ticket the selector matches. A stored
// ticket that cannot be decoded fails the scan.
func scanTickets(tx *Tx, selector ticket.Selector, fn func(key []byte, a ticket.Acknowledged) error) error {
	start, end := selector.IndexBounds()
	c := tx.tx.Bucket(bucketTickets).Cursor()

	for _, ce := range selector.Channels() {
		prefix := ticketPrefix(ce)
		last := ticketKey(ce, end)

		for k, v := c.Seek(ticketKey(ce, start)); k != nil && bytes.HasPrefix(k, prefix) && bytes.Compare(k, last) < 0; k, v = c.Next() {
			a, err := decodeTicket(v)
			if err != nil {
				return fmt.Errorf("decoding ticket %x: %w", k, err)
			}

			if !selector.Matches(a) {
				continue
			}

			if err := fn(k, a); err != nil {
				return err
			}
		}
	}

	return nil
}

// removeTickets deletes the tickets matching the selector and folds their
// amounts into the statistics of each channel with add.
func removeTickets(tx *Tx, selector ticket.Selector, add func(stats *TicketStatistics, amount *uint256.Int)) (int, error) {
	var keys [][]byte
	values := make(map[channel.ID]*uint256.Int)

	err := scanTickets(tx, selector, func(key []byte, a ticket.Acknowledged) error {
		keys = append(keys, bytes.Clone(key))

		v, exists := values[a.Ticket.ChannelID]
		if !exists {
			v = new(uint256.Int)
			values[a.Ticket.ChannelID] = v
		}
		v.Add(v, &a.Ticket.Amount)

		return nil
	})
	if err != nil {
		return 0, err
	}

	b := tx.tx.Bucket(bucketTickets)
	for _, key := range keys {
		if err := b.Delete(key); err != nil {
			return 0, err
		}
	}

	for id, v := range values {
		err := updateStatistics(tx, id, func(stats *TicketStatistics) {
			add(stats, v)
		})
		if err != nil {
			return 0, err
		}
	}

	return len(keys), nil
}

func getStatistics(tx *Tx, id channel.ID) (TicketStatistics, error) {
	data := tx.tx.Bucket(bucketTicketStats).Get(channelKey(id))
	if data == nil {
		return TicketStatistics{}, nil
	}

	stats, err := decodeStatistics(data)
	if err != nil {
		return TicketStatistics{}, fmt.Errorf("decoding statistics %s: %w", id, err)
	}

	return stats, nil
}

// updateStatistics applies fn to the statistics of the channel, creating
// them if they do not exist.
func updateStatistics(tx *Tx, id channel.ID, fn func(stats *TicketStatistics)) error {
	stats, err := getStatistics(tx, id)
	if err != nil {
		return err
	}

	fn(&stats)

	data, err := encodeStatistics(stats)
	if err != nil {
		return err
	}

	return tx.tx.Bucket(bucketTicketStats).Put(channelKey(id), data)
}
