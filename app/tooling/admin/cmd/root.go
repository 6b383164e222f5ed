// Package cmd contains the admin commands.
package cmd

import (
	"fmt"
	"time"

	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbPath      string
	nodeAddress string
	log         *zap.SugaredLogger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "zmix/node.db", "Path to the node database.")
	rootCmd.PersistentFlags().StringVarP(&nodeAddress, "node", "n", "", "Address of the node that owns the database.")
}

var rootCmd = &cobra.Command{
	Use:          "admin",
	Short:        "Inspect and exercise a mix node",
	SilenceUsage: true,
}

// Execute runs the command named on the command line.
func Execute(build string, logger *zap.SugaredLogger) error {
	log = logger
	rootCmd.Version = build

	return rootCmd.Execute()
}

// openDB opens the node database. The node must not be running, bbolt
// allows a single process to hold the file.
func openDB() (*database.DB, error) {
	if !common.IsHexAddress(nodeAddress) {
		return nil, fmt.Errorf("invalid node address %q, use --node", nodeAddress)
	}

	db, err := database.Open(database.Config{
		Path:    dbPath,
		Timeout: time.Second,
		Me:      common.HexToAddress(nodeAddress),
		Log:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}

	return db, nil
}
