package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ardanlabs/mixnode/foundation/mixnet/halfkey"
	"github.com/ardanlabs/mixnode/foundation/mixnet/por"
	"github.com/ardanlabs/mixnode/foundation/mixnet/relay"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/ardanlabs/mixnode/foundation/mixnet/tickets"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
)

var (
	hops     int
	simulate bool
)

var porCmd = &cobra.Command{
	Use:   "por",
	Short: "Generate a proof of relay chain and verify it hop by hop",
	RunE:  porRun,
}

func init() {
	rootCmd.AddCommand(porCmd)
	porCmd.Flags().IntVar(&hops, "hops", 3, "Number of nodes on the path, including the receiver.")
	porCmd.Flags().BoolVar(&simulate, "simulate", false, "Relay a ticket through temporary nodes and persist it.")
}

func porRun(cmd *cobra.Command, args []string) error {
	if hops < 1 || hops > 255 {
		return errors.New("hops must be between 1 and 255")
	}

	secrets := make([]halfkey.SharedSecret, hops)
	for i := range secrets {
		secrets[i] = halfkey.RandomSecret()
	}

	strings, values, err := por.Generate(secrets)
	if err != nil {
		return err
	}

	fmt.Printf("chain length:     %d\n", values.ChainLength())
	fmt.Printf("ack challenge:    %s\n", values.AckChallenge())
	fmt.Printf("ticket challenge: %s\n", values.TicketChallenge())

	if simulate {
		return simulateRelay(cmd.Context(), secrets, strings, values)
	}

	challenge := values.TicketChallenge()
	for i, rs := range strings {
		out, err := por.PreVerify(secrets[i], rs, challenge)
		if err != nil {
			return fmt.Errorf("hop %d: %w", i, err)
		}

		resp, err := halfkey.ResponseFromHalfKeys(out.OwnKey, halfkey.DeriveAckKeyShare(secrets[i+1]))
		if err != nil {
			return fmt.Errorf("hop %d: %w", i, err)
		}

		fmt.Printf("hop %d: verified, response %s, next challenge %s\n", i, resp, out.NextTicketChallenge)
		challenge = out.NextTicketChallenge
	}

	return nil
}

// simulateRelay runs every relay of the path as a node with its own
// temporary database. Each relay verifies the packet, forwards it and
// persists its ticket once the next hop acknowledges.
func simulateRelay(ctx context.Context, secrets []halfkey.SharedSecret, strings []por.RelayString, values por.Values) error {
	dir, err := os.MkdirTemp("", "mixnode-por")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	previous, err := randomAddress()
	if err != nil {
		return err
	}

	challenge := values.TicketChallenge()
	for i, rs := range strings {
		me, err := randomAddress()
		if err != nil {
			return err
		}

		db, err := database.Open(database.Config{
			Path: filepath.Join(dir, fmt.Sprintf("hop%d.db", i)),
			Me:   me,
			Log:  log,
		})
		if err != nil {
			return err
		}

		next, err := relayHop(ctx, db, previous, secrets[i], secrets[i+1], rs, challenge)
		db.Close()
		if err != nil {
			return fmt.Errorf("hop %d: %w", i, err)
		}

		previous = me
		challenge = next
	}

	return nil
}

func relayHop(ctx context.Context, db *database.DB, previous common.Address, secret halfkey.SharedSecret, nextSecret halfkey.SharedSecret, rs por.RelayString, challenge halfkey.EthereumChallenge) (halfkey.EthereumChallenge, error) {
	entry := channel.NewBuilder(previous, db.Me()).
		WithBalance(uint256.NewInt(1_000_000)).
		WithStatus(channel.OpenStatus()).
		Build()

	if err := db.UpsertChannel(nil, entry); err != nil {
		return halfkey.EthereumChallenge{}, err
	}

	tm, err := tickets.New(tickets.Config{DB: db, Log: log, QueueCapacity: 1})
	if err != nil {
		return halfkey.EthereumChallenge{}, err
	}

	persisted := make(chan ticket.Acknowledged, 1)
	notify := func(ctx context.Context, a ticket.Acknowledged) error {
		persisted <- a
		return nil
	}
	if err := tm.Start(tickets.NotifierFunc(notify)); err != nil {
		return halfkey.EthereumChallenge{}, err
	}
	defer tm.Shutdown()

	r, err := relay.New(relay.Config{DB: db, Tickets: tm, Log: log})
	if err != nil {
		return halfkey.EthereumChallenge{}, err
	}

	in := relay.IncomingPacket{
		Previous: previous,
		Secret:   secret,
		PoR:      rs,
		Ticket: ticket.Ticket{
			ChannelID:   entry.ID(),
			Amount:      *uint256.NewInt(100),
			IndexOffset: 1,
			Epoch:       entry.Epoch(),
			WinProb:     1,
			Challenge:   challenge,
		},
	}

	fwd, err := r.HandleIncoming(in)
	if err != nil {
		return halfkey.EthereumChallenge{}, err
	}

	// The next hop derives the acknowledgement from its own secret.
	if _, err := r.HandleAcknowledgement(halfkey.DeriveAckKeyShare(nextSecret)); err != nil {
		return halfkey.EthereumChallenge{}, err
	}

	select {
	case a := <-persisted:
		fmt.Printf("relay %s: persisted %s\n", db.Me().Hex(), a)
	case <-ctx.Done():
		return halfkey.EthereumChallenge{}, ctx.Err()
	}

	return fwd.NextTicketChallenge, nil
}

func randomAddress() (common.Address, error) {
	pk, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, err
	}

	return crypto.PubkeyToAddress(pk.PublicKey), nil
}
