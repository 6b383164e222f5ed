package cmd

import (
	"fmt"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ardanlabs/mixnode/foundation/mixnet/ticket"
	"github.com/spf13/cobra"
)

var (
	channelID string
	epoch     uint32
)

var ticketsCmd = &cobra.Command{
	Use:   "tickets",
	Short: "List the acknowledged tickets of a channel",
	RunE:  ticketsRun,
}

func init() {
	rootCmd.AddCommand(ticketsCmd)
	ticketsCmd.Flags().StringVarP(&channelID, "channel", "c", "", "Id of the channel.")
	ticketsCmd.Flags().Uint32VarP(&epoch, "epoch", "e", 0, "Channel epoch, the current one when not set.")
	ticketsCmd.MarkFlagRequired("channel")
}

func ticketsRun(cmd *cobra.Command, args []string) error {
	id, err := channel.IDFromHex(channelID)
	if err != nil {
		return err
	}

	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	f := func(tx *database.Tx) error {
		entry, err := db.GetChannelByID(tx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("channel %s not found", id)
		}

		if epoch == 0 {
			epoch = entry.Epoch()
		}
		selector := ticket.NewSelector(id, epoch)

		acks, err := db.GetTickets(tx, selector)
		if err != nil {
			return err
		}

		sum, err := db.SumTicketAmounts(tx, selector)
		if err != nil {
			return err
		}

		stats, err := db.GetTicketStatistics(tx, id)
		if err != nil {
			return err
		}

		fmt.Println(entry)
		for _, a := range acks {
			fmt.Println("   ", a)
		}
		fmt.Printf("tickets: %d  unrealized: %s  winning: %d\n", len(acks), sum.Dec(), stats.WinningTickets)
		fmt.Printf("redeemed: %s  neglected: %s  rejected: %s\n", stats.RedeemedValue.Dec(), stats.NeglectedValue.Dec(), stats.RejectedValue.Dec())

		return nil
	}

	return db.View(f)
}
