package blockchain_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3/util/key"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"

	"github.com/quantumprotocol/quantumprotocol"
	"github.com/quantumprotocol/quantumprotocol/blockchain"
	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
	_ "github.com/quantumprotocol/quantumprotocol/blockchain/service"
)

var tSuite = quantumprotocol.Suite

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestClient_Chain(t *testing.T) {
	local := onet.NewTCPTest(tSuite)
	defer local.CloseAll()
	_, ro, _ := local.GenTree(4, true)

	client := blockchain.NewClient()
	genesis, err := client.CreateGenesis(ro, &lib.ChainConfig{Consensus: "pow", Difficulty: 8})
	require.NoError(t, err)
	require.NotNil(t, genesis)

	reply, err := client.StoreBlock(ro, genesis.Hash, []lib.Transaction{
		{Sender: "alice", Recipient: "bob", Amount: 5, Payload: []byte("rent")},
	})
	require.NoError(t, err)
	require.Equal(t, 1, reply.Block.Index)
	require.True(t, reply.Acks > 2*len(ro.List)/3)

	chain, err := client.GetChain(ro, genesis.Hash)
	require.NoError(t, err)
	require.Len(t, chain.Blocks, 2)
	require.NoError(t, chain.Verify())

	_, err = client.GetChain(ro, lib.BlockID("no such chain"))
	require.Error(t, err)
}

func TestClient_Vote(t *testing.T) {
	local := onet.NewTCPTest(tSuite)
	defer local.CloseAll()
	_, ro, _ := local.GenTree(4, true)

	validators := make([]lib.Validator, len(ro.List))
	for i, si := range ro.List {
		pub, err := si.Public.MarshalBinary()
		require.NoError(t, err)
		validators[i] = lib.Validator{Public: pub, Stake: uint64(i + 1)}
	}

	client := blockchain.NewClient()
	genesis, err := client.CreateGenesis(ro, &lib.ChainConfig{
		Consensus:    "dpos",
		Validators:   validators,
		MaxDelegates: 2,
	})
	require.NoError(t, err)

	voter := key.NewKeyPair(tSuite)
	require.NoError(t, client.Vote(ro, genesis.Hash, voter.Private, validators[0].Public))

	reply, err := client.StoreBlock(ro, genesis.Hash, nil)
	require.NoError(t, err)
	require.Equal(t, 1, reply.Block.Index)

	// A vote for a key outside the candidate set is refused.
	require.Error(t, client.Vote(ro, genesis.Hash, voter.Private, []byte("nobody")))
}
