package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

func powChain(t *testing.T, difficulty uint32) (*lib.Block, Engine) {
	cc := &lib.ChainConfig{Consensus: PowName, Difficulty: difficulty}
	genesis, err := lib.NewGenesis(cc)
	require.NoError(t, err)
	eng, err := New(cc)
	require.NoError(t, err)
	return genesis, eng
}

func TestNewPoW_Difficulty(t *testing.T) {
	for _, d := range []uint32{0, 256, 1000} {
		_, err := NewPoW(&lib.ChainConfig{Consensus: PowName, Difficulty: d})
		require.Error(t, err)
	}
	_, err := NewPoW(&lib.ChainConfig{Consensus: PowName, Difficulty: 255})
	require.NoError(t, err)
}

func TestPoW_SealAndVerify(t *testing.T) {
	genesis, eng := powChain(t, 10)

	block := lib.NewBlock(genesis, []lib.Transaction{{Sender: "a", Recipient: "b", Amount: 1}})
	require.NoError(t, eng.Seal(block, nil, nil))
	require.NoError(t, eng.VerifyHeader(genesis, block))

	// A tampered block no longer matches its hash.
	tampered := block.Copy()
	tampered.Nonce++
	require.Error(t, eng.VerifyHeader(genesis, tampered))

	// A block mined for another difficulty is refused.
	easy, easyEng := powChain(t, 1)
	other := lib.NewBlock(easy, nil)
	require.NoError(t, easyEng.Seal(other, nil, nil))
	require.Error(t, eng.VerifyHeader(genesis, other))
}

func TestPoW_SealAborts(t *testing.T) {
	genesis, eng := powChain(t, 200)

	stop := make(chan struct{})
	close(stop)
	block := lib.NewBlock(genesis, nil)
	require.Error(t, eng.Seal(block, nil, stop))
}
