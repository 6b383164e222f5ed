package tickets_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ardanlabs/mixnode/foundation/mixnet/tickets"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	alice = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	bob   = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	chID  = channel.NewID(bob, alice)
)

func newDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path: filepath.Join(t.TempDir(), "node.db"),
		Me:   alice,
		Log:  zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func newManager(t *testing.T, db *database.DB, capacity int) (*tickets.Manager, *prometheus.Registry) {
	t.Helper()

	reg := prometheus.NewRegistry()

	m, err := tickets.New(tickets.Config{
		DB:            db,
		Log:           zap.NewNop().Sugar(),
		QueueCapacity: capacity,
		Registerer:    reg,
	})
	require.NoError(t, err)

	t.Cleanup(m.Shutdown)

	return m, reg
}

func newTicket(index uint64, offset uint32, amount uint64, status ticket.Status) ticket.Acknowledged {
	resp, err := halfkey.ResponseFromHalfKeys(halfkey.RandomHalfKey(), halfkey.RandomHalfKey())
	if err != nil {
		panic(err)
	}

	ec, err := resp.ToEthereumChallenge()
	if err != nil {
		panic(err)
	}

	return ticket.Acknowledged{
		Status: status,
		Ticket: ticket.Ticket{
			ChannelID:   chID,
			Amount:      *uint256.NewInt(amount),
			Index:       index,
			IndexOffset: offset,
			Epoch:       1,
			WinProb:     1,
			Challenge:   ec,
		},
		Response: resp,
	}
}

// collector is a notifier that records every ticket it receives.
type collector struct {
	ch chan ticket.Acknowledged
}

func newCollector() *collector {
	return &collector{ch: make(chan ticket.Acknowledged, 100)}
}

func (c *collector) Notify(_ context.Context, a ticket.Acknowledged) error {
	c.ch <- a
	return nil
}

func (c *collector) next(t *testing.T) ticket.Acknowledged {
	t.Helper()

	select {
	case a := <-c.ch:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a notification")
	}

	return ticket.Acknowledged{}
}

// =============================================================================

func Test_Lifecycle(t *testing.T) {
	m, _ := newManager(t, newDB(t), 16)

	err := m.InsertTicket(newTicket(0, 1, 1, ticket.Untouched))
	require.ErrorIs(t, err, tickets.ErrNotStarted)

	err = m.ReplaceTickets(newTicket(0, 2, 1, ticket.Untouched))
	require.ErrorIs(t, err, tickets.ErrNotStarted)

	require.NoError(t, m.Start(nil))
	require.ErrorIs(t, m.Start(nil), tickets.ErrAlreadyStarted)

	m.Shutdown()

	err = m.InsertTicket(newTicket(0, 1, 1, ticket.Untouched))
	require.ErrorIs(t, err, tickets.ErrStopped)

	m.Shutdown()
}

func Test_UnrealizedValue(t *testing.T) {
	db := newDB(t)
	m, reg := newManager(t, db, 16)

	notifier := newCollector()
	require.NoError(t, m.Start(notifier))

	a := newTicket(0, 1, 100_000, ticket.Untouched)
	require.NoError(t, m.InsertTicket(a))

	value, err := m.UnrealizedValue(ticket.SelectorFor(a.Ticket))
	require.NoError(t, err)
	require.Equal(t, uint64(100_000), value.Uint64(), "the value is updated before the ticket is persisted")

	got := notifier.next(t)
	require.Equal(t, a, got)

	stored, err := db.GetTickets(nil, ticket.SelectorFor(a.Ticket))
	require.NoError(t, err)
	require.Len(t, stored, 1)

	stats, err := db.GetTicketStatistics(nil, chID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.WinningTickets)

	require.NoError(t, m.InsertTicket(newTicket(1, 1, 5, ticket.Untouched)))
	notifier.next(t)

	value, err = m.UnrealizedValue(ticket.SelectorFor(a.Ticket))
	require.NoError(t, err)
	require.Equal(t, uint64(100_005), value.Uint64(), "persisting does not count the ticket twice")

	_, err = m.UnrealizedValue(ticket.SelectorFor(a.Ticket).Also(chID, 2))
	require.ErrorIs(t, err, tickets.ErrSelectorNotSingleChannel)

	require.Equal(t, float64(2), counterValue(t, reg, "mixnode_tickets_queued_total"))
}

func Test_FIFO(t *testing.T) {
	db := newDB(t)
	m, _ := newManager(t, db, 16)

	first := newTicket(0, 1, 1, ticket.Untouched)
	second := newTicket(1, 1, 2, ticket.Untouched)

	var secondSeen atomic.Bool
	var order []uint64

	notifier := tickets.NotifierFunc(func(_ context.Context, a ticket.Acknowledged) error {
		order = append(order, a.Ticket.Index)

		if a.Ticket.Index == first.Ticket.Index {
			stored, err := db.GetTickets(nil, ticket.SelectorFor(second.Ticket).WithIndex(second.Ticket.Index))
			if err == nil && len(stored) > 0 {
				secondSeen.Store(true)
			}
		}
		return nil
	})
	require.NoError(t, m.Start(notifier))

	require.NoError(t, m.InsertTicket(first))
	require.NoError(t, m.InsertTicket(second))

	m.Shutdown()

	require.Equal(t, []uint64{0, 1}, order)
	require.False(t, secondSeen.Load(), "the second ticket must not be written before the first completes")
}

func Test_QueueFull(t *testing.T) {
	db := newDB(t)
	m, _ := newManager(t, db, 1)

	notifier := newCollector()
	require.NoError(t, m.Start(notifier))

	// Hold the writer lock so the writer cannot make progress.
	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		m.WithWriteLockedDB(context.Background(), func(*database.Tx) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	var accepted int
	var full bool
	for i := range uint64(3) {
		err := m.InsertTicket(newTicket(i, 1, 1, ticket.Untouched))
		if errors.Is(err, tickets.ErrQueueFull) {
			full = true
			break
		}
		require.NoError(t, err)
		accepted++
	}

	require.True(t, full, "a full queue must be reported to the caller")
	require.LessOrEqual(t, accepted, 2)

	close(release)
	m.Shutdown()

	require.Len(t, notifier.ch, accepted, "accepted tickets are still persisted")
}

func Test_ReplaceTickets(t *testing.T) {
	db := newDB(t)
	m, _ := newManager(t, db, 16)

	for i := range uint64(6) {
		require.NoError(t, db.InsertTicket(nil, newTicket(i, 1, 10, ticket.BeingAggregated)))
	}

	notifier := newCollector()
	require.NoError(t, m.Start(notifier))

	sel := ticket.NewSelector(chID, 1)

	value, err := m.UnrealizedValue(sel)
	require.NoError(t, err)
	require.Equal(t, uint64(60), value.Uint64())

	aggregated := newTicket(1, 3, 30, ticket.Untouched)
	require.NoError(t, m.ReplaceTickets(aggregated))
	notifier.next(t)

	stored, err := db.GetTickets(nil, sel)
	require.NoError(t, err)

	var indexes []uint64
	for _, a := range stored {
		indexes = append(indexes, a.Ticket.Index)
	}
	require.Equal(t, []uint64{0, 1, 4, 5}, indexes, "only the covered range is replaced")
	require.Equal(t, uint32(3), stored[1].Ticket.IndexOffset)

	value, err = m.UnrealizedValue(sel)
	require.NoError(t, err)
	require.Equal(t, uint64(60), value.Uint64(), "the value is recomputed after the replacement")
}

func Test_WithWriteLockedDB(t *testing.T) {
	m, _ := newManager(t, newDB(t), 16)

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			m.WithWriteLockedDB(context.Background(), func(*database.Tx) error {
				n := inside.Add(1)
				if n > maxInside.Load() {
					maxInside.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), maxInside.Load(), "writers must be serialized")

	locked := make(chan struct{})
	release := make(chan struct{})
	go func() {
		m.WithWriteLockedDB(context.Background(), func(*database.Tx) error {
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.WithWriteLockedDB(ctx, func(*database.Tx) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_NotifierFailure(t *testing.T) {
	db := newDB(t)
	m, _ := newManager(t, db, 16)

	var calls atomic.Int32
	notifier := tickets.NotifierFunc(func(context.Context, ticket.Acknowledged) error {
		calls.Add(1)
		return errors.New("sink closed")
	})
	require.NoError(t, m.Start(notifier))

	a := newTicket(0, 1, 1, ticket.Untouched)
	require.NoError(t, m.InsertTicket(a))
	m.Shutdown()

	require.Equal(t, int32(1), calls.Load())

	stored, err := db.GetTickets(nil, ticket.SelectorFor(a.Ticket))
	require.NoError(t, err)
	require.Len(t, stored, 1, "a failed notification does not undo the write")
}

func Test_ReplaceOverStoredTicket(t *testing.T) {
	db := newDB(t)
	m, reg := newManager(t, db, 16)

	require.NoError(t, db.InsertTicket(nil, newTicket(0, 1, 10, ticket.Untouched)))
	require.NoError(t, db.InsertTicket(nil, newTicket(1, 1, 10, ticket.BeingAggregated)))

	notifier := newCollector()
	require.NoError(t, m.Start(notifier))

	// The aggregated ticket starts at an index that holds an untouched ticket.
	require.NoError(t, m.ReplaceTickets(newTicket(0, 2, 20, ticket.Untouched)))

	next := newTicket(5, 1, 1, ticket.Untouched)
	require.NoError(t, m.InsertTicket(next))

	got := notifier.next(t)
	require.Equal(t, next, got, "the failed replacement is not notified")

	m.Shutdown()
	require.Empty(t, notifier.ch)

	stored, err := db.GetTickets(nil, ticket.NewSelector(chID, 1))
	require.NoError(t, err)
	require.Len(t, stored, 3)

	require.Equal(t, uint64(0), stored[0].Ticket.Index)
	require.Equal(t, uint64(10), stored[0].Ticket.Amount.Uint64(), "the untouched ticket survives")
	require.Equal(t, ticket.Untouched, stored[0].Status)
	require.Equal(t, ticket.BeingAggregated, stored[1].Status, "the failed replacement deletes nothing")
	require.Equal(t, uint64(5), stored[2].Ticket.Index, "later operations are still processed")

	require.Equal(t, float64(1), labelledCounterValue(t, reg, "mixnode_tickets_dropped_total", "reason", "persist_failed"))
	require.Equal(t, float64(1), labelledCounterValue(t, reg, "mixnode_tickets_persisted_total", "op", "insert"))

	value, err := m.UnrealizedValue(ticket.NewSelector(chID, 1))
	require.NoError(t, err)
	require.Equal(t, uint64(21), value.Uint64())
}

func Test_DuplicateInsert(t *testing.T) {
	db := newDB(t)
	m, reg := newManager(t, db, 16)

	notifier := newCollector()
	require.NoError(t, m.Start(notifier))

	a := newTicket(0, 1, 100, ticket.Untouched)
	require.NoError(t, m.InsertTicket(a))
	require.NoError(t, m.InsertTicket(a))

	m.Shutdown()
	require.Len(t, notifier.ch, 1, "the duplicate is not notified")

	stored, err := db.GetTickets(nil, ticket.SelectorFor(a.Ticket))
	require.NoError(t, err)
	require.Len(t, stored, 1)

	stats, err := db.GetTicketStatistics(nil, chID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.WinningTickets, "the duplicate is not counted as a win")

	value, err := m.UnrealizedValue(ticket.SelectorFor(a.Ticket))
	require.NoError(t, err)
	require.Equal(t, uint64(100), value.Uint64(), "the estimate is reconciled with the store")

	require.Equal(t, float64(1), labelledCounterValue(t, reg, "mixnode_tickets_dropped_total", "reason", "persist_failed"))
}

func Test_Aggregation(t *testing.T) {
	db := newDB(t)
	m, _ := newManager(t, db, 16)

	ctx := context.Background()

	incoming := channel.NewBuilder(bob, alice).
		WithBalance(uint256.NewInt(1_000)).
		WithStatus(channel.OpenStatus()).
		Build()
	require.NoError(t, db.UpsertChannel(nil, incoming))

	require.NoError(t, db.InsertTicket(nil, newTicket(0, 1, 10, ticket.Untouched)))
	require.NoError(t, db.InsertTicket(nil, newTicket(1, 1, 10, ticket.BeingRedeemed)))
	require.NoError(t, db.InsertTicket(nil, newTicket(2, 1, 10, ticket.Untouched)))
	require.NoError(t, db.InsertTicket(nil, newTicket(3, 1, 10, ticket.Untouched)))

	states := func() []ticket.Status {
		stored, err := db.GetTickets(nil, ticket.NewSelector(chID, 1))
		require.NoError(t, err)

		var s []ticket.Status
		for _, a := range stored {
			s = append(s, a.Status)
		}
		return s
	}

	prepared, err := m.PrepareAggregation(ctx, chID)
	require.NoError(t, err)
	require.Len(t, prepared, 2, "only the tickets after the last one being redeemed are taken")
	require.Equal(t, uint64(2), prepared[0].Ticket.Index)
	require.Equal(t, ticket.BeingAggregated, prepared[1].Status)
	require.Equal(t, []ticket.Status{ticket.Untouched, ticket.BeingRedeemed, ticket.BeingAggregated, ticket.BeingAggregated}, states())

	_, err = m.PrepareAggregation(ctx, chID)
	require.ErrorIs(t, err, tickets.ErrAggregationInProgress)

	reverted, err := m.RollbackAggregation(ctx, chID)
	require.NoError(t, err)
	require.Equal(t, 2, reverted)
	require.Equal(t, []ticket.Status{ticket.Untouched, ticket.BeingRedeemed, ticket.Untouched, ticket.Untouched}, states(), "only tickets being aggregated are rolled back")

	_, err = m.PrepareAggregation(ctx, chID)
	require.NoError(t, err)

	notifier := newCollector()
	require.NoError(t, m.Start(notifier))

	low := newTicket(2, 2, 19, ticket.Untouched)
	require.NoError(t, m.ReplaceTickets(low))
	require.NoError(t, m.ReplaceTickets(newTicket(10, 2, 5, ticket.Untouched)))

	aggregated := newTicket(2, 2, 20, ticket.Untouched)
	require.NoError(t, m.ReplaceTickets(aggregated))

	got := notifier.next(t)
	require.Equal(t, aggregated, got, "aggregated tickets that are too low or replace nothing are dropped")

	stored, err := db.GetTickets(nil, ticket.NewSelector(chID, 1))
	require.NoError(t, err)
	require.Len(t, stored, 3)
	require.Equal(t, uint64(20), stored[2].Ticket.Amount.Uint64())
	require.Equal(t, uint32(2), stored[2].Ticket.IndexOffset)

	value, err := m.UnrealizedValue(ticket.NewSelector(chID, 1))
	require.NoError(t, err)
	require.Equal(t, uint64(40), value.Uint64())

	unlikely := newTicket(4, 2, 50, ticket.Untouched)
	unlikely.Ticket.WinProb = 0.5
	require.ErrorIs(t, m.ReplaceTickets(unlikely), tickets.ErrAggregatedWinProb)

	_, err = m.PrepareAggregation(ctx, channel.NewID(alice, bob))
	require.ErrorIs(t, err, tickets.ErrUnknownChannel)

	outgoing := channel.NewBuilder(alice, bob).WithStatus(channel.OpenStatus()).Build()
	require.NoError(t, db.UpsertChannel(nil, outgoing))
	_, err = m.PrepareAggregation(ctx, outgoing.ID())
	require.ErrorIs(t, err, tickets.ErrNotIncoming)

	require.NoError(t, db.UpsertChannel(nil, incoming.ToBuilder().WithStatus(channel.ClosedStatus()).Build()))
	_, err = m.PrepareAggregation(ctx, chID)
	require.ErrorIs(t, err, tickets.ErrChannelClosed)

	require.NoError(t, db.UpsertChannel(nil, incoming.ToBuilder().WithEpoch(2).Build()))
	prepared, err = m.PrepareAggregation(ctx, chID)
	require.NoError(t, err)
	require.Empty(t, prepared, "a new generation has nothing to aggregate")
}

func Test_MarkTickets(t *testing.T) {
	db := newDB(t)
	m, _ := newManager(t, db, 16)

	ctx := context.Background()
	sel := ticket.NewSelector(chID, 1)

	for i := range uint64(4) {
		require.NoError(t, db.InsertTicket(nil, newTicket(i, 1, 10, ticket.Untouched)))
	}

	value, err := m.UnrealizedValue(sel)
	require.NoError(t, err)
	require.Equal(t, uint64(40), value.Uint64())

	n, err := m.MarkRedeemed(ctx, sel.WithIndexRange(0, 2))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	value, err = m.UnrealizedValue(sel)
	require.NoError(t, err)
	require.Equal(t, uint64(20), value.Uint64(), "redeemed tickets leave the unrealized value")

	n, err = m.MarkNeglected(ctx, sel.WithIndex(3))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	value, err = m.UnrealizedValue(sel)
	require.NoError(t, err)
	require.Equal(t, uint64(10), value.Uint64())

	require.NoError(t, m.MarkRejected(ctx, newTicket(9, 1, 5, ticket.Untouched).Ticket))

	stats, err := db.GetTicketStatistics(nil, chID)
	require.NoError(t, err)
	require.Equal(t, uint64(20), stats.RedeemedValue.Uint64())
	require.Equal(t, uint64(10), stats.NeglectedValue.Uint64())
	require.Equal(t, uint64(5), stats.RejectedValue.Uint64())
}

// =============================================================================

// counterValue returns the value of a registered counter without labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}

	t.Fatalf("metric %s not registered", name)
	return 0
}

// labelledCounterValue returns the value of the counter with the label set
// to value.
func labelledCounterValue(t *testing.T, reg *prometheus.Registry, name string, label string, value string) float64 {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, mt := range f.GetMetric() {
			for _, lp := range mt.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return mt.GetCounter().GetValue()
				}
			}
		}
	}

	t.Fatalf("metric %s{%s=%q} not registered", name, label, value)
	return 0
}
