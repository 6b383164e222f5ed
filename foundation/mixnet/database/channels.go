package database

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ChannelEditor collects changes to a channel that are written by
// FinishChannelUpdate. Deleting the channel overrides every other change.
type ChannelEditor struct {
	orig    channel.Entry
	builder channel.Builder
	delete  bool
	changes []channel.Change
}

// ChangeBalance sets the new balance.
func (ce *ChannelEditor) ChangeBalance(balance *uint256.Int) *ChannelEditor {
	ce.builder = ce.builder.WithBalance(balance)
	return ce
}

// ChangeStatus sets the new status.
func (ce *ChannelEditor) ChangeStatus(status channel.Status) *ChannelEditor {
	ce.builder = ce.builder.WithStatus(status)
	return ce
}

// ChangeTicketIndex sets the new ticket index.
func (ce *ChannelEditor) ChangeTicketIndex(index uint64) *ChannelEditor {
	ce.builder = ce.builder.WithTicketIndex(index)
	return ce
}

// ChangeEpoch sets the new epoch.
func (ce *ChannelEditor) ChangeEpoch(epoch uint32) *ChannelEditor {
	ce.builder = ce.builder.WithEpoch(epoch)
	return ce
}

// Delete marks the channel for deletion.
func (ce *ChannelEditor) Delete() *ChannelEditor {
	ce.delete = true
	return ce
}

// Original returns the channel as it was when the update began.
func (ce *ChannelEditor) Original() channel.Entry {
	return ce.orig
}

// Changes returns the changes written by FinishChannelUpdate.
func (ce *ChannelEditor) Changes() []channel.Change {
	return ce.changes
}

// =============================================================================

// ChannelQuery filters the channels returned by StreamChannels. Zero values
// do not filter. The closure time range [ClosureFrom, ClosureTo) is only
// applied to channels pending to close, and only when that state is among
// the requested States or no States are given.
type ChannelQuery struct {
	Source      *common.Address
	Destination *common.Address
	States      []channel.StatusKind
	ClosureFrom time.Time
	ClosureTo   time.Time
}

func (q ChannelQuery) matches(e channel.Entry) bool {
	if q.Source != nil && e.Source() != *q.Source {
		return false
	}

	if q.Destination != nil && e.Destination() != *q.Destination {
		return false
	}

	if len(q.States) > 0 && !slices.Contains(q.States, e.Status().Kind()) {
		return false
	}

	if t, ok := e.ClosureTimeAt(); ok && q.filtersClosure() {
		if !q.ClosureFrom.IsZero() && t.Before(q.ClosureFrom) {
			return false
		}
		if !q.ClosureTo.IsZero() && !t.Before(q.ClosureTo) {
			return false
		}
	}

	return true
}

func (q ChannelQuery) filtersClosure() bool {
	if q.ClosureFrom.IsZero() && q.ClosureTo.IsZero() {
		return false
	}
	return len(q.States) == 0 || slices.Contains(q.States, channel.PendingToClose)
}

// =============================================================================

// GetChannelByID returns the channel with the specified id or nil if it
// does not exist.
func (db *DB) GetChannelByID(tx *Tx, id channel.ID) (*channel.Entry, error) {
	var entry *channel.Entry

	f := func(tx *Tx) error {
		e, err := db.getChannel(tx, id)
		if err != nil {
			return err
		}
		entry = e
		return nil
	}

	if err := db.view(tx, "get channel by id", f); err != nil {
		return nil, err
	}

	return entry, nil
}

// GetChannelByParties returns the channel from source to destination or nil
// if it does not exist. With useCache the result is served from the parties
// cache. The cache is bypassed whenever the caller supplies a transaction,
// since its snapshot may already be older than the latest commit. Only
// reads the store opens itself fill the cache.
func (db *DB) GetChannelByParties(tx *Tx, source common.Address, destination common.Address, useCache bool) (*channel.Entry, error) {
	if source == destination {
		return nil, nil
	}

	fetch := func() (*channel.Entry, error) {
		return db.GetChannelByID(tx, channel.NewID(source, destination))
	}

	if !useCache || tx != nil {
		return fetch()
	}

	key := PartiesKey{Source: source, Destination: destination}

	entry, err := db.caches.Parties.GetOrFetch(key, fetch)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		return nil, nil
	}

	// Hand out a copy so callers cannot change the cached value.
	e := *entry
	return &e, nil
}

// BeginChannelUpdate starts editing the specified channel. It returns nil if
// the channel does not exist.
func (db *DB) BeginChannelUpdate(tx *Tx, id channel.ID) (*ChannelEditor, error) {
	entry, err := db.GetChannelByID(tx, id)
	if err != nil {
		return nil, err
	}

	if entry == nil {
		return nil, nil
	}

	ce := ChannelEditor{
		orig:    *entry,
		builder: entry.ToBuilder(),
	}

	return &ce, nil
}

// FinishChannelUpdate writes the changes collected by the editor. It returns
// the updated channel, or the channel as it was before if it was deleted.
// The caches for the channel are invalidated in every case.
func (db *DB) FinishChannelUpdate(tx *Tx, editor *ChannelEditor) (*channel.Entry, error) {
	orig := editor.orig
	defer db.invalidateChannel(orig)

	if editor.delete {
		f := func(tx *Tx) error {
			db.invalidateOnCommit(tx, orig)
			return tx.tx.Bucket(bucketChannels).Delete(channelKey(orig.ID()))
		}

		if err := db.update(tx, "delete channel", f); err != nil {
			return nil, err
		}

		editor.changes = nil
		return &orig, nil
	}

	entry := editor.builder.Build()

	f := func(tx *Tx) error {
		db.invalidateOnCommit(tx, orig)
		return db.putChannel(tx, entry)
	}

	if err := db.update(tx, "finish channel update", f); err != nil {
		return nil, err
	}

	editor.changes = channel.Diff(orig, entry)

	return &entry, nil
}

// UpsertChannel inserts or replaces the channel with the same id.
func (db *DB) UpsertChannel(tx *Tx, entry channel.Entry) error {
	defer db.invalidateChannel(entry)

	f := func(tx *Tx) error {
		db.invalidateOnCommit(tx, entry)
		return db.putChannel(tx, entry)
	}

	return db.update(tx, "upsert channel", f)
}

// GetChannelsVia returns the channels in the specified direction relative
// to the target node.
func (db *DB) GetChannelsVia(tx *Tx, direction channel.Direction, target common.Address) ([]channel.Entry, error) {
	var q ChannelQuery
	switch direction {
	case channel.Incoming:
		q.Destination = &target
	case channel.Outgoing:
		q.Source = &target
	}

	return collect(db.StreamChannels(tx, q))
}

// GetIncomingChannels returns the channels paying this node.
func (db *DB) GetIncomingChannels(tx *Tx) ([]channel.Entry, error) {
	return db.GetChannelsVia(tx, channel.Incoming, db.me)
}

// GetOutgoingChannels returns the channels funded by this node.
func (db *DB) GetOutgoingChannels(tx *Tx) ([]channel.Entry, error) {
	return db.GetChannelsVia(tx, channel.Outgoing, db.me)
}

// GetAllChannels returns every stored channel.
func (db *DB) GetAllChannels(tx *Tx) ([]channel.Entry, error) {
	return collect(db.StreamChannels(tx, ChannelQuery{}))
}

// StreamChannels iterates over the channels matching the query. Rows that
// cannot be decoded are logged and skipped. A storage error is yielded once
// and ends the iteration.
func (db *DB) StreamChannels(tx *Tx, q ChannelQuery) iter.Seq2[channel.Entry, error] {
	return func(yield func(channel.Entry, error) bool) {
		stopped := false

		f := func(tx *Tx) error {
			c := tx.tx.Bucket(bucketChannels).Cursor()
			for k, v := c.First(); k != nil; k, v = c.Next() {
				entry, err := decodeChannel(v)
				if err != nil {
					db.log.Warnw("stream channels", "status", "skipping malformed row", "key", string(k), "ERROR", err)
					continue
				}

				if !q.matches(entry) {
					continue
				}

				if !yield(entry, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		}

		if err := db.view(tx, "stream channels", f); err != nil && !stopped {
			yield(channel.Entry{}, err)
		}
	}
}

// StreamActiveChannels iterates over the channels that are open or still
// within their closure grace period.
func (db *DB) StreamActiveChannels(tx *Tx, now time.Time) iter.Seq2[channel.Entry, error] {
	q := ChannelQuery{
		States: []channel.StatusKind{channel.Open, channel.PendingToClose},
	}

	return func(yield func(channel.Entry, error) bool) {
		for entry, err := range db.StreamChannels(tx, q) {
			if err == nil && entry.ClosureTimePassed(now) {
				continue
			}
			if !yield(entry, err) {
				return
			}
		}
	}
}

// =============================================================================

func (db *DB) getChannel(tx *Tx, id channel.ID) (*channel.Entry, error) {
	data := tx.tx.Bucket(bucketChannels).Get(channelKey(id))
	if data == nil {
		return nil, nil
	}

	entry, err := decodeChannel(data)
	if err != nil {
		return nil, fmt.Errorf("decoding channel %s: %w", id, err)
	}

	return &entry, nil
}

func (db *DB) putChannel(tx *Tx, entry channel.Entry) error {
	data, err := encodeChannel(entry)
	if err != nil {
		return err
	}

	return tx.tx.Bucket(bucketChannels).Put(channelKey(entry.ID()), data)
}

// invalidateChannel drops every cached value derived from the channel.
func (db *DB) invalidateChannel(entry channel.Entry) {
	db.caches.Parties.Invalidate(PartiesKey{Source: entry.Source(), Destination: entry.Destination()})

	id := entry.ID()
	db.caches.Unrealized.InvalidateFunc(func(key ticket.ChannelEpoch) bool {
		return key.ChannelID == id
	})
}

// invalidateOnCommit drops the cached values again once the transaction
// commits, since a reader may have cached the old state in between.
func (db *DB) invalidateOnCommit(tx *Tx, entry channel.Entry) {
	tx.OnCommit(func() {
		db.invalidateChannel(entry)
	})
}

func collect(seq iter.Seq2[channel.Entry, error]) ([]channel.Entry, error) {
	var entries []channel.Entry
	for entry, err := range seq {
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}
