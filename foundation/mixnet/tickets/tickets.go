// Package tickets serializes the persistence of acknowledged tickets through
// a single writer. Accepting a ticket is fast and in memory, writing it to
// the database happens in order on a background goroutine.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardanlabs/mixnode/foundation/mixnet/cache"
	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ardanlabs/mixnode/foundation/validate"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultQueueCapacity is the number of operations that can wait for the
// writer before new tickets are rejected.
const DefaultQueueCapacity = 100_000

// Set of error variables for the manager.
var (
	ErrAlreadyStarted           = errors.New("ticket processing already started")
	ErrNotStarted               = errors.New("ticket processing not started")
	ErrQueueFull                = errors.New("ticket queue is full")
	ErrStopped                  = errors.New("ticket processing stopped")
	ErrSelectorNotSingleChannel = errors.New("selector must address a single channel")
	ErrReplacedTooMany          = errors.New("aggregation replaced more tickets than it covers")
	ErrNothingAggregated        = errors.New("no tickets are being aggregated in the range")
	ErrAggregatedValueTooLow    = errors.New("aggregated ticket is worth less than the tickets it replaces")
	ErrAggregatedWinProb        = errors.New("aggregated ticket must always win")
	ErrAggregationInProgress    = errors.New("channel is already being aggregated")
	ErrUnknownChannel           = errors.New("channel does not exist")
	ErrChannelClosed            = errors.New("channel is closed")
	ErrNotIncoming              = errors.New("channel is not incoming")
)

// Notifier receives every ticket after it was persisted.
type Notifier interface {
	Notify(ctx context.Context, a ticket.Acknowledged) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, a ticket.Acknowledged) error

// Notify implements the Notifier interface.
func (f NotifierFunc) Notify(ctx context.Context, a ticket.Acknowledged) error {
	return f(ctx, a)
}

// =============================================================================

type opKind int

const (
	opInsert opKind = iota
	opReplace
)

func (k opKind) String() string {
	if k == opReplace {
		return "replace"
	}
	return "insert"
}

// operation is a unit of work for the writer.
type operation struct {
	kind   opKind
	ticket ticket.Acknowledged
}

// =============================================================================

// Config represents the settings for the manager.
type Config struct {
	DB            *database.DB       `validate:"required"`
	Log           *zap.SugaredLogger `validate:"required"`
	QueueCapacity int                `validate:"gte=0"`
	Registerer    prometheus.Registerer
}

// Manager owns the single writer for tickets and the unrealized value of
// every channel generation.
type Manager struct {
	db         *database.DB
	log        *zap.SugaredLogger
	unrealized *cache.Cache[ticket.ChannelEpoch, uint256.Int]
	metrics    *metrics

	queue chan operation
	lock  chan struct{}
	wg    sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

// New constructs a manager. Processing does not start until Start is called.
func New(cfg Config) (*Manager, error) {
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}

	if err := validate.Check(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	met := newMetrics()
	if cfg.Registerer != nil {
		if err := met.register(cfg.Registerer); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	m := Manager{
		db:         cfg.DB,
		log:        cfg.Log,
		unrealized: cfg.DB.Caches().Unrealized,
		metrics:    met,
		queue:      make(chan operation, cfg.QueueCapacity),
		lock:       make(chan struct{}, 1),
	}

	return &m, nil
}

// Start launches the writer. Every persisted ticket is handed to the
// notifier. It can only be called once.
func (m *Manager) Start(notifier Notifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.stopped:
		return ErrStopped
	case m.started:
		return ErrAlreadyStarted
	}

	if notifier == nil {
		notifier = NotifierFunc(func(context.Context, ticket.Acknowledged) error { return nil })
	}

	m.started = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.consume(notifier)
	}()

	return nil
}

// Shutdown stops accepting operations and waits for the writer to finish
// the operations that are already queued.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.queue)
	m.mu.Unlock()

	m.log.Infow("tickets", "status", "shutdown started", "queued", len(m.queue))
	defer m.log.Infow("tickets", "status", "shutdown completed")

	m.wg.Wait()
}

// InsertTicket queues the ticket for persistence and adds its amount to the
// unrealized value of the channel generation right away. The unrealized
// value is therefore ahead of the database until the writer catches up.
func (m *Manager) InsertTicket(a ticket.Acknowledged) error {
	if err := m.running(); err != nil {
		return err
	}

	// Load the persisted value first so the amount is added on top of it.
	sel := ticket.SelectorFor(a.Ticket)
	if _, err := m.UnrealizedValue(sel); err != nil {
		return err
	}

	if err := m.enqueue(operation{kind: opInsert, ticket: a}); err != nil {
		return err
	}

	key := sel.Channels()[0]

	var value uint256.Int
	var stored bool
	m.unrealized.Update(key, func(current uint256.Int, cached bool) (uint256.Int, bool) {
		if !cached {

			// Invalidated in between, the next read recomputes.
			return current, false
		}
		value.Add(&current, &a.Ticket.Amount)
		stored = true
		return value, true
	})

	if stored {
		m.metrics.setUnrealized(key, &value)
	}

	return nil
}

// ReplaceTickets queues an aggregated ticket that supersedes the tickets
// being aggregated in its index range. The writer drops the aggregated
// ticket if it is worth less than the tickets it replaces.
func (m *Manager) ReplaceTickets(a ticket.Acknowledged) error {
	if err := m.running(); err != nil {
		return err
	}

	if a.Ticket.WinProb != 1 {
		return fmt.Errorf("%w: %v", ErrAggregatedWinProb, a.Ticket.WinProb)
	}

	return m.enqueue(operation{kind: opReplace, ticket: a})
}

// PrepareAggregation marks the tickets of the current generation of the
// incoming channel as being aggregated and returns them. Tickets up to the
// last one being redeemed are left alone. It fails if an aggregation is
// already in progress in the channel and returns nothing if there is
// nothing to aggregate.
func (m *Manager) PrepareAggregation(ctx context.Context, id channel.ID) ([]ticket.Acknowledged, error) {
	var prepared []ticket.Acknowledged

	f := func(tx *database.Tx) error {
		entry, err := m.db.GetChannelByID(tx, id)
		if err != nil {
			return err
		}

		if entry == nil {
			return fmt.Errorf("%w: %s", ErrUnknownChannel, id)
		}
		if entry.Status().Kind() == channel.Closed {
			return fmt.Errorf("%w: %s", ErrChannelClosed, id)
		}
		if dir, ok := entry.Direction(m.db.Me()); !ok || dir != channel.Incoming {
			return fmt.Errorf("%w: %s", ErrNotIncoming, id)
		}

		sel := ticket.NewSelector(id, entry.Epoch())

		aggregating, err := m.db.GetTickets(tx, sel.WithState(ticket.BeingAggregated))
		if err != nil {
			return err
		}
		if len(aggregating) > 0 {
			return fmt.Errorf("%w: %s", ErrAggregationInProgress, id)
		}

		redeeming, err := m.db.GetTickets(tx, sel.WithState(ticket.BeingRedeemed))
		if err != nil {
			return err
		}

		var first uint64
		if n := len(redeeming); n > 0 {
			first = redeeming[n-1].Ticket.Index + 1
		}

		candidates, err := m.db.GetTickets(tx, sel.WithIndexRange(first, channel.MaxTicketIndex+1).WithState(ticket.Untouched))
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			return nil
		}

		last := candidates[len(candidates)-1].Ticket.Index
		marked, err := m.db.UpdateTicketStatus(tx, sel.WithIndexRange(first, last+1).WithState(ticket.Untouched), ticket.BeingAggregated)
		if err != nil {
			return err
		}
		if marked != len(candidates) {
			return fmt.Errorf("expected to mark %d tickets, marked %d", len(candidates), marked)
		}

		for i := range candidates {
			candidates[i].Status = ticket.BeingAggregated
		}
		prepared = candidates

		return nil
	}

	if err := m.WithWriteLockedDB(ctx, f); err != nil {
		return nil, err
	}

	m.log.Infow("tickets", "status", "aggregation prepared", "channel", id, "tickets", len(prepared))

	return prepared, nil
}

// RollbackAggregation moves every ticket being aggregated in the current
// generation of the channel back to untouched and returns how many were
// moved.
func (m *Manager) RollbackAggregation(ctx context.Context, id channel.ID) (int, error) {
	var reverted int

	f := func(tx *database.Tx) error {
		entry, err := m.db.GetChannelByID(tx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("%w: %s", ErrUnknownChannel, id)
		}

		sel := ticket.NewSelector(id, entry.Epoch()).WithState(ticket.BeingAggregated)

		reverted, err = m.db.UpdateTicketStatus(tx, sel, ticket.Untouched)
		return err
	}

	if err := m.WithWriteLockedDB(ctx, f); err != nil {
		return 0, err
	}

	m.log.Infow("tickets", "status", "aggregation rolled back", "channel", id, "tickets", reverted)

	return reverted, nil
}

// MarkRedeemed removes the tickets matching the selector and adds their
// value to the redeemed statistics of their channels.
func (m *Manager) MarkRedeemed(ctx context.Context, selector ticket.Selector) (int, error) {
	return m.remove(ctx, selector, "redeemed", m.db.MarkTicketsRedeemed)
}

// MarkNeglected removes the tickets matching the selector and adds their
// value to the neglected statistics of their channels.
func (m *Manager) MarkNeglected(ctx context.Context, selector ticket.Selector) (int, error) {
	return m.remove(ctx, selector, "neglected", m.db.MarkTicketsNeglected)
}

// MarkRejected adds the value of a ticket that was refused to the rejected
// statistics of its channel.
func (m *Manager) MarkRejected(ctx context.Context, t ticket.Ticket) error {
	return m.WithWriteLockedDB(ctx, func(tx *database.Tx) error {
		return m.db.MarkTicketRejected(tx, t)
	})
}

// UnrealizedValue returns the total amount of the tickets of the single
// channel generation the selector addresses. Other selector criteria are
// ignored. Concurrent misses are loaded from the database once.
func (m *Manager) UnrealizedValue(selector ticket.Selector) (uint256.Int, error) {
	if !selector.IsSingleChannel() {
		return uint256.Int{}, ErrSelectorNotSingleChannel
	}

	key := selector.Channels()[0]

	fetch := func() (uint256.Int, error) {
		return m.db.SumTicketAmounts(nil, ticket.NewSelector(key.ChannelID, key.Epoch))
	}

	value, err := m.unrealized.GetOrFetch(key, fetch)
	if err != nil {
		return uint256.Int{}, err
	}
	m.metrics.setUnrealized(key, &value)

	return value, nil
}

// WithWriteLockedDB runs fn inside a writable transaction while holding the
// writer lock. Every write to the ticket data must go through here.
func (m *Manager) WithWriteLockedDB(ctx context.Context, fn func(tx *database.Tx) error) error {
	select {
	case m.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.lock }()

	return m.db.Update(fn)
}

// =============================================================================

func (m *Manager) remove(ctx context.Context, selector ticket.Selector, reason string, fn func(tx *database.Tx, selector ticket.Selector) (int, error)) (int, error) {
	var removed int

	err := m.WithWriteLockedDB(ctx, func(tx *database.Tx) error {
		var err error
		removed, err = fn(tx, selector)
		return err
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		for _, ce := range selector.Channels() {
			m.unrealized.Invalidate(ce)
		}
	}

	m.log.Infow("tickets", "status", "tickets removed", "reason", reason, "tickets", removed)

	return removed, nil
}

func (m *Manager) running() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.stopped:
		return ErrStopped
	case !m.started:
		return ErrNotStarted
	}

	return nil
}

// enqueue never blocks. A full queue is reported to the caller.
func (m *Manager) enqueue(op operation) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.stopped:
		return ErrStopped
	case !m.started:
		return ErrNotStarted
	}

	select {
	case m.queue <- op:
		m.metrics.queued.Inc()
		m.metrics.depth.Set(float64(len(m.queue)))
		return nil
	default:
		m.metrics.dropped.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// consume processes the queue in order until it is closed.
func (m *Manager) consume(notifier Notifier) {
	m.log.Infow("tickets", "status", "writer started")
	defer m.log.Infow("tickets", "status", "writer stopped")

	ctx := context.Background()

	for op := range m.queue {
		m.metrics.depth.Set(float64(len(m.queue)))

		var err error
		switch op.kind {
		case opInsert:
			err = m.WithWriteLockedDB(ctx, func(tx *database.Tx) error {
				return m.insert(tx, op.ticket)
			})

		case opReplace:
			err = m.WithWriteLockedDB(ctx, func(tx *database.Tx) error {
				return m.replace(tx, op.ticket)
			})
			if err == nil {
				m.unrealized.Invalidate(ticket.ChannelEpoch{ChannelID: op.ticket.Ticket.ChannelID, Epoch: op.ticket.Ticket.Epoch})
			}
		}

		if err != nil {
			m.log.Errorw("tickets", "status", "dropping ticket", "op", op.kind, "ticket", op.ticket, "ERROR", err)
			m.metrics.dropped.WithLabelValues("persist_failed").Inc()

			// The estimate may already include the dropped ticket.
			m.unrealized.Invalidate(ticket.ChannelEpoch{ChannelID: op.ticket.Ticket.ChannelID, Epoch: op.ticket.Ticket.Epoch})
			continue
		}
		m.metrics.persisted.WithLabelValues(op.kind.String()).Inc()

		if err := notifier.Notify(ctx, op.ticket); err != nil {
			m.log.Errorw("tickets", "status", "notify failed", "op", op.kind, "ticket", op.ticket, "ERROR", err)
		}
	}
}

// insert stores the ticket and counts it as a winning ticket of its channel.
func (m *Manager) insert(tx *database.Tx, a ticket.Acknowledged) error {
	if err := m.db.InsertTicket(tx, a); err != nil {
		return err
	}

	return m.db.IncrementWinningTickets(tx, a.Ticket.ChannelID)
}

// replace removes the tickets being aggregated in the index range of the
// aggregated ticket and stores the aggregated ticket. The aggregated ticket
// must be worth at least as much as the tickets it replaces.
func (m *Manager) replace(tx *database.Tx, a ticket.Acknowledged) error {
	t := a.Ticket
	end := t.Index + uint64(t.IndexOffset)

	sel := ticket.NewSelector(t.ChannelID, t.Epoch).
		WithIndexRange(t.Index, end).
		WithState(ticket.BeingAggregated)

	stored, err := m.db.SumTicketAmounts(tx, sel)
	if err != nil {
		return err
	}

	if t.Amount.Lt(&stored) {
		return fmt.Errorf("%w: aggregated %s, stored %s", ErrAggregatedValueTooLow, t.Amount.Dec(), stored.Dec())
	}

	deleted, err := m.db.DeleteTickets(tx, sel)
	if err != nil {
		return err
	}

	if deleted == 0 {
		return fmt.Errorf("%w: %s", ErrNothingAggregated, sel)
	}

	if deleted > int(t.IndexOffset) {
		return fmt.Errorf("%w: deleted %d, offset %d", ErrReplacedTooMany, deleted, t.IndexOffset)
	}

	return m.db.InsertTicket(tx, a)
}
