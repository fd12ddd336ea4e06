package lib

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testChain(t *testing.T) *Chain {
	genesis, err := NewGenesis(testConfig())
	require.NoError(t, err)
	chain, err := NewChain(genesis)
	require.NoError(t, err)
	return chain
}

func TestNewChain(t *testing.T) {
	chain := testChain(t)
	require.True(t, chain.ID().Equal(chain.Genesis().Hash))
	require.Equal(t, chain.Genesis(), chain.Latest())

	// A genesis without a configuration is refused.
	bad := &Block{Index: 0}
	bad.Hash = bad.CalculateHash()
	_, err := NewChain(bad)
	require.Error(t, err)

	// So is a non-genesis block.
	_, err = NewChain(&Block{Index: 1})
	require.Error(t, err)
}

func TestChain_Append(t *testing.T) {
	chain := testChain(t)

	block := NewBlock(chain.Latest(), nil)
	block.Hash = block.CalculateHash()
	require.NoError(t, chain.Append(block))
	require.Equal(t, block, chain.Latest())

	// Appending the same block again breaks the index sequence.
	require.Error(t, chain.Append(block))

	// A block linking to the genesis instead of the head is refused.
	stale := NewBlock(chain.Genesis(), nil)
	stale.Hash = stale.CalculateHash()
	require.Error(t, chain.Append(stale))

	// A tampered block is refused.
	next := NewBlock(chain.Latest(), nil)
	next.Hash = next.CalculateHash()
	next.Nonce = 99
	require.Error(t, chain.Append(next))
}

func TestChain_Verify(t *testing.T) {
	chain := testChain(t)
	for i := 0; i < 3; i++ {
		block := NewBlock(chain.Latest(), []Transaction{{Sender: "a", Recipient: "b", Amount: uint64(i)}})
		block.Hash = block.CalculateHash()
		require.NoError(t, chain.Append(block))
	}
	require.NoError(t, chain.Verify())

	chain.Blocks[2].Timestamp++
	require.Error(t, chain.Verify())
}
