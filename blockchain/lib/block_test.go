package lib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testConfig() *ChainConfig {
	return &ChainConfig{Consensus: "pow", Difficulty: 8}
}

func TestNewGenesis(t *testing.T) {
	genesis, err := NewGenesis(testConfig())
	require.NoError(t, err)
	require.Equal(t, 0, genesis.Index)
	require.Nil(t, genesis.PrevHash)
	require.NoError(t, genesis.VerifyHash())

	cc, err := DecodeChainConfig(genesis.Data)
	require.NoError(t, err)
	require.Equal(t, "pow", cc.Consensus)
	require.Equal(t, uint32(8), cc.Difficulty)
}

func TestBlock_CalculateHash(t *testing.T) {
	genesis, err := NewGenesis(testConfig())
	require.NoError(t, err)

	block := NewBlock(genesis, []Transaction{{Sender: "alice", Recipient: "bob", Amount: 3}})
	block.Hash = block.CalculateHash()
	require.NoError(t, block.VerifyHash())

	// Every header field has to influence the hash.
	block.Nonce++
	require.Error(t, block.VerifyHash())
	block.Nonce--
	require.NoError(t, block.VerifyHash())

	block.Transactions[0].Amount = 4
	require.Error(t, block.VerifyHash())
}

func TestBlock_CalculateHash_FieldBoundaries(t *testing.T) {
	genesis, err := NewGenesis(testConfig())
	require.NoError(t, err)

	// Moving a byte between adjacent fields has to change the hash.
	a := NewBlock(genesis, []Transaction{{Sender: "ab", Recipient: "c", Amount: 1}})
	b := NewBlock(genesis, []Transaction{{Sender: "a", Recipient: "bc", Amount: 1}})
	b.Timestamp = a.Timestamp
	require.NotEqual(t, a.CalculateHash(), b.CalculateHash())

	// The same across transaction borders.
	a = NewBlock(genesis, []Transaction{{Payload: []byte("xy")}, {Sender: "z"}})
	b = NewBlock(genesis, []Transaction{{Payload: []byte("x")}, {Sender: "yz"}})
	b.Timestamp = a.Timestamp
	require.NotEqual(t, a.CalculateHash(), b.CalculateHash())

	// And between Data and PrevHash.
	a = NewBlock(genesis, nil)
	b = NewBlock(genesis, nil)
	b.Timestamp = a.Timestamp
	a.Data, a.PrevHash = []byte("ab"), BlockID("c")
	b.Data, b.PrevHash = []byte("a"), BlockID("bc")
	require.NotEqual(t, a.CalculateHash(), b.CalculateHash())
}

func TestBlock_Copy(t *testing.T) {
	genesis, err := NewGenesis(testConfig())
	require.NoError(t, err)

	block := NewBlock(genesis, []Transaction{{Sender: "alice", Recipient: "bob", Amount: 3}})
	block.Hash = block.CalculateHash()

	c := block.Copy()
	require.NotNil(t, c)
	require.True(t, block.Hash.Equal(c.Hash))

	c.Transactions[0].Amount = 7
	require.Equal(t, uint64(3), block.Transactions[0].Amount)
}

func TestDecodeChainConfig_Empty(t *testing.T) {
	_, err := DecodeChainConfig(nil)
	require.Error(t, err)
}
