package cmd

import (
	"path/filepath"
	"testing"

	"github.com/ardanlabs/mixnode/foundation/mixnet/channel"
	"github.com/ardanlabs/mixnode/foundation/mixnet/database"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func run(t *testing.T, args ...string) error {
	t.Helper()

	rootCmd.SetArgs(args)
	return Execute("test", zap.NewNop().Sugar())
}

func TestPorCommand(t *testing.T) {
	require.NoError(t, run(t, "por", "--hops", "4"))
	require.NoError(t, run(t, "por", "--hops", "3", "--simulate"))
	require.Error(t, run(t, "por", "--hops", "0", "--simulate=false"))
}

func TestInspectCommands(t *testing.T) {
	me := common.HexToAddress("0xdd6B972ffcc631a62CAE1BB9d80b7ff429c8ebA4")
	payer := common.HexToAddress("0xF01813E4B85e178A83e29B8E7bF26BD830a25f32")
	path := filepath.Join(t.TempDir(), "node.db")

	db, err := database.Open(database.Config{Path: path, Me: me, Log: zap.NewNop().Sugar()})
	require.NoError(t, err)

	entry := channel.NewBuilder(payer, me).
		WithBalance(uint256.NewInt(10)).
		WithStatus(channel.OpenStatus()).
		Build()
	require.NoError(t, db.UpsertChannel(nil, entry))
	require.NoError(t, db.Close())

	require.NoError(t, run(t, "channels", "--db", path, "--node", me.Hex(), "--direction", "incoming"))
	require.NoError(t, run(t, "channels", "--db", path, "--node", me.Hex(), "--active"))
	require.Error(t, run(t, "channels", "--db", path, "--node", "nope"))
	require.NoError(t, run(t, "tickets", "--db", path, "--node", me.Hex(), "--channel", entry.ID().String()))
	require.Error(t, run(t, "tickets", "--db", path, "--node", me.Hex(), "--channel", channel.NewID(me, payer).String()))
}
