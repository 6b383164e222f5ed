package channel_test

import (
	"testing"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Success and failure markers.
const (
	success = "\u2713"
	failed  = "\u2717"
)

var (
	alice = common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	bob   = common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	carol = common.HexToAddress("0xFef311483Cc040e1A89fb9bb469eeB8A70935EF8")
)

// =============================================================================

func Test_ID(t *testing.T) {
	t.Log("Given the need to identify channels.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen handling two distinct addresses.", testID)
		{
			id := channel.NewID(alice, bob)

			exp := crypto.Keccak256Hash(append(alice.Bytes(), bob.Bytes()...))
			if id.Hash() != exp {
				t.Logf("\t%s\tTest %d:\tgot: %s", failed, testID, id)
				t.Logf("\t%s\tTest %d:\texp: %s", failed, testID, exp)
				t.Fatalf("\t%s\tTest %d:\tShould hash the source followed by the destination.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould hash the source followed by the destination.", success, testID)

			if id == channel.NewID(bob, alice) {
				t.Fatalf("\t%s\tTest %d:\tShould get a different id for the reverse direction.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould get a different id for the reverse direction.", success, testID)

			back, err := channel.IDFromHex(id.String())
			if err != nil || back != id {
				t.Fatalf("\t%s\tTest %d:\tShould be able to decode the hex form: %v", failed, testID, err)
			}
			t.Logf("\t%s\tTest %d:\tShould be able to decode the hex form.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen handling the same address twice.", testID)
		{
			f := func() (recovered any) {
				defer func() { recovered = recover() }()
				channel.NewID(alice, alice)
				return nil
			}

			if f() == nil {
				t.Fatalf("\t%s\tTest %d:\tShould panic.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould panic.", success, testID)
		}
	}
}

func Test_StatusEquality(t *testing.T) {
	type table struct {
		name  string
		left  channel.Status
		right channel.Status
		equal bool
	}

	now := time.Now()

	tt := []table{
		{name: "closed", left: channel.ClosedStatus(), right: channel.Status{}, equal: true},
		{name: "open", left: channel.OpenStatus(), right: channel.OpenStatus(), equal: true},
		{name: "kinds", left: channel.OpenStatus(), right: channel.ClosedStatus(), equal: false},
		{name: "jitter", left: channel.PendingToCloseStatus(now), right: channel.PendingToCloseStatus(now.Add(999 * time.Millisecond)), equal: true},
		{name: "jitter-neg", left: channel.PendingToCloseStatus(now.Add(500 * time.Millisecond)), right: channel.PendingToCloseStatus(now), equal: true},
		{name: "second", left: channel.PendingToCloseStatus(now), right: channel.PendingToCloseStatus(now.Add(time.Second)), equal: false},
		{name: "pending-open", left: channel.PendingToCloseStatus(now), right: channel.OpenStatus(), equal: false},
	}

	t.Log("Given the need to compare channel statuses.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen comparing %s.", testID, tst.name)
			{
				if got := tst.left.Equal(tst.right); got != tst.equal {
					t.Fatalf("\t%s\tTest %d:\tShould get equal %v, got %v.", failed, testID, tst.equal, got)
				}
				t.Logf("\t%s\tTest %d:\tShould get equal %v.", success, testID, tst.equal)
			}
		}
	}
}

func Test_Builder(t *testing.T) {
	t.Log("Given the need to build valid channel entries.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen using the defaults.", testID)
		{
			e := channel.NewBuilder(alice, bob).Build()

			if e.Epoch() != 1 || e.TicketIndex() != 0 || e.Status().Kind() != channel.Closed {
				t.Fatalf("\t%s\tTest %d:\tShould start closed at epoch 1 and index 0: %s", failed, testID, e)
			}
			bal := e.Balance()
			if !bal.IsZero() {
				t.Fatalf("\t%s\tTest %d:\tShould start with a zero balance.", failed, testID)
			}
			if e.ID() != channel.NewID(alice, bob) {
				t.Fatalf("\t%s\tTest %d:\tShould carry the channel id.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould start closed with zero balance at epoch 1.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen values are out of range.", testID)
		{
			over := new(uint256.Int).AddUint64(channel.MaxBalance, 1)

			e := channel.NewBuilder(alice, bob).
				WithTicketIndex(1 << 48).
				WithEpoch(0).
				WithBalance(over).
				Build()

			if e.TicketIndex() != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould truncate the ticket index to 48 bits: %d", failed, testID, e.TicketIndex())
			}
			t.Logf("\t%s\tTest %d:\tShould truncate the ticket index to 48 bits.", success, testID)

			if e.Epoch() != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould clamp the epoch to 1: %d", failed, testID, e.Epoch())
			}
			t.Logf("\t%s\tTest %d:\tShould clamp the epoch to 1.", success, testID)

			bal := e.Balance()
			if !bal.Eq(channel.MaxBalance) {
				t.Fatalf("\t%s\tTest %d:\tShould clamp the balance: %s", failed, testID, bal.Dec())
			}
			t.Logf("\t%s\tTest %d:\tShould clamp the balance.", success, testID)

			e = e.ToBuilder().WithEpoch(1<<24 + 7).WithTicketIndex(1<<48 + 5).Build()
			if e.Epoch() != 7 || e.TicketIndex() != 5 {
				t.Fatalf("\t%s\tTest %d:\tShould mask the epoch and index: %d %d", failed, testID, e.Epoch(), e.TicketIndex())
			}
			t.Logf("\t%s\tTest %d:\tShould mask the epoch and index.", success, testID)
		}
	}
}

func Test_ClosureTime(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	t.Log("Given the need to track the closure grace period.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the channel is open.", testID)
		{
			e := channel.NewBuilder(alice, bob).WithStatus(channel.OpenStatus()).Build()

			for _, at := range []time.Time{now, now.Add(-time.Hour), now.Add(100 * time.Hour)} {
				if e.ClosureTimePassed(at) {
					t.Fatalf("\t%s\tTest %d:\tShould never pass the closure time.", failed, testID)
				}
				if _, ok := e.RemainingClosureTime(at); ok {
					t.Fatalf("\t%s\tTest %d:\tShould have no remaining closure time.", failed, testID)
				}
			}
			if _, ok := e.ClosureTimeAt(); ok {
				t.Fatalf("\t%s\tTest %d:\tShould have no closure time.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould never pass the closure time.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the channel is pending to close.", testID)
		{
			e := channel.NewBuilder(alice, bob).WithStatus(channel.PendingToCloseStatus(now)).Build()

			if !e.ClosureTimePassed(now) {
				t.Fatalf("\t%s\tTest %d:\tShould pass the closure time at the closure time.", failed, testID)
			}
			if e.ClosureTimePassed(now.Add(-time.Second)) {
				t.Fatalf("\t%s\tTest %d:\tShould not pass the closure time a second before.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould pass the closure time exactly at the closure time.", success, testID)

			rem, ok := e.RemainingClosureTime(now.Add(-60 * time.Second))
			if !ok || rem != 60*time.Second {
				t.Fatalf("\t%s\tTest %d:\tShould have 60s remaining: %v", failed, testID, rem)
			}
			rem, ok = e.RemainingClosureTime(now.Add(time.Hour))
			if !ok || rem != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould have nothing remaining after the closure time: %v", failed, testID, rem)
			}
			t.Logf("\t%s\tTest %d:\tShould compute the remaining closure time.", success, testID)

			at, ok := e.ClosureTimeAt()
			if !ok || !at.Equal(now) {
				t.Fatalf("\t%s\tTest %d:\tShould expose the closure time.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould expose the closure time.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the channel is closed.", testID)
		{
			e := channel.NewBuilder(alice, bob).Build()

			rem, ok := e.RemainingClosureTime(now)
			if !e.ClosureTimePassed(now) || !ok || rem != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould always be past the closure time.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould always be past the closure time.", success, testID)
		}
	}
}

func Test_Orientation(t *testing.T) {
	e := channel.NewBuilder(alice, bob).Build()

	if d, ok := e.Direction(alice); !ok || d != channel.Outgoing {
		t.Fatalf("Should be outgoing for the source.")
	}

	d, other, ok := e.Orientation(bob)
	if !ok || d != channel.Incoming || other != alice {
		t.Fatalf("Should be incoming from the source for the destination.")
	}

	d, other, ok = e.Orientation(alice)
	if !ok || d != channel.Outgoing || other != bob {
		t.Fatalf("Should be outgoing to the destination for the source.")
	}

	if _, ok := e.Direction(carol); ok {
		t.Fatalf("Should have no direction for a stranger.")
	}
}

func Test_Diff(t *testing.T) {
	base := channel.NewBuilder(alice, bob).
		WithBalance(uint256.NewInt(100)).
		WithStatus(channel.OpenStatus()).
		Build()

	t.Log("Given the need to diff channel snapshots.")
	{
		testID := 0
		t.Logf("\tTest %d:\tWhen the snapshots are identical.", testID)
		{
			if changes := channel.Diff(base, base); len(changes) != 0 {
				t.Fatalf("\t%s\tTest %d:\tShould get no changes: %v", failed, testID, changes)
			}
			t.Logf("\t%s\tTest %d:\tShould get no changes.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen only the balance changed.", testID)
		{
			right := base.ToBuilder().WithBalance(uint256.NewInt(50)).Build()

			changes := channel.Diff(base, right)
			if len(changes) != 1 {
				t.Fatalf("\t%s\tTest %d:\tShould get exactly one change: %v", failed, testID, changes)
			}

			bc, ok := changes[0].(channel.BalanceChange)
			if !ok || bc.Left.Uint64() != 100 || bc.Right.Uint64() != 50 {
				t.Fatalf("\t%s\tTest %d:\tShould get a balance change: %v", failed, testID, changes[0])
			}
			t.Logf("\t%s\tTest %d:\tShould get exactly one balance change.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen every tracked field changed.", testID)
		{
			right := base.ToBuilder().
				WithBalance(uint256.NewInt(1)).
				WithEpoch(2).
				WithTicketIndex(9).
				WithStatus(channel.PendingToCloseStatus(time.Now())).
				Build()

			changes := channel.Diff(base, right)
			if len(changes) != 4 {
				t.Fatalf("\t%s\tTest %d:\tShould get four changes: %v", failed, testID, changes)
			}
			t.Logf("\t%s\tTest %d:\tShould get four changes.", success, testID)
		}

		testID++
		t.Logf("\tTest %d:\tWhen the snapshots belong to different channels.", testID)
		{
			other := channel.NewBuilder(bob, alice).Build()

			f := func() (recovered any) {
				defer func() { recovered = recover() }()
				channel.Diff(base, other)
				return nil
			}

			if f() == nil {
				t.Fatalf("\t%s\tTest %d:\tShould panic.", failed, testID)
			}
			t.Logf("\t%s\tTest %d:\tShould panic.", success, testID)
		}
	}
}
