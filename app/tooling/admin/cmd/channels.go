package cmd

import (
	"fmt"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/spf13/cobra"
)

var (
	direction  string
	activeOnly bool
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the channels stored by the node",
	RunE:  channelsRun,
}

func init() {
	rootCmd.AddCommand(channelsCmd)
	channelsCmd.Flags().StringVar(&direction, "direction", "", "Only list incoming or outgoing channels.")
	channelsCmd.Flags().BoolVar(&activeOnly, "active", false, "Only list channels that can still carry tickets.")
}

func channelsRun(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	q := database.ChannelQuery{}
	if direction != "" {
		dir, err := channel.ParseDirection(direction)
		if err != nil {
			return err
		}

		me := db.Me()
		switch dir {
		case channel.Incoming:
			q.Destination = &me
		case channel.Outgoing:
			q.Source = &me
		}
	}

	seq := db.StreamChannels(nil, q)
	if activeOnly {
		seq = db.StreamActiveChannels(nil, time.Now())
	}

	now := time.Now()
	for e, err := range seq {
		if err != nil {
			return err
		}

		if direction != "" && activeOnly {
			if dir, ok := e.Direction(db.Me()); !ok || dir.String() != direction {
				continue
			}
		}

		fmt.Println(e)
		if left, ok := e.RemainingClosureTime(now); ok {
			fmt.Printf("    closes in %s\n", left.Round(time.Second))
		}
	}

	return nil
}
