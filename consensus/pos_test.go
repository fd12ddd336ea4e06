package consensus

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/util/key"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol"
	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

// testValidators returns n validators with the given stakes and a map
// from the hex public key to the matching private key.
func testValidators(t *testing.T, stakes ...uint64) ([]lib.Validator, map[string]kyber.Scalar) {
	validators := make([]lib.Validator, len(stakes))
	privs := make(map[string]kyber.Scalar)
	for i, stake := range stakes {
		kp := key.NewKeyPair(quantumprotocol.Suite)
		pub, err := kp.Public.MarshalBinary()
		require.NoError(t, err)
		validators[i] = lib.Validator{Public: pub, Stake: stake}
		privs[hex.EncodeToString(pub)] = kp.Private
	}
	return validators, privs
}

func TestNewPoS_NoStake(t *testing.T) {
	validators, _ := testValidators(t, 0, 0)
	_, err := NewPoS(&lib.ChainConfig{Consensus: PosName, Validators: validators})
	require.Error(t, err)
}

func TestPoS_Producer(t *testing.T) {
	validators, _ := testValidators(t, 0, 7)
	eng, err := NewPoS(&lib.ChainConfig{Consensus: PosName, Validators: validators})
	require.NoError(t, err)
	pos := eng.(*PoS)

	genesis, err := lib.NewGenesis(&lib.ChainConfig{Consensus: PosName, Validators: validators})
	require.NoError(t, err)

	// The draw is deterministic and never lands on a zero-stake validator.
	for i := 1; i < 10; i++ {
		producer := pos.Producer(genesis.Hash, i)
		require.Equal(t, validators[1].Public, producer)
		require.Equal(t, producer, pos.Producer(genesis.Hash, i))
	}
}

func TestPoS_SealAndVerify(t *testing.T) {
	validators, privs := testValidators(t, 3, 5, 2)
	cc := &lib.ChainConfig{Consensus: PosName, Validators: validators}
	eng, err := New(cc)
	require.NoError(t, err)
	pos := eng.(*PoS)

	genesis, err := lib.NewGenesis(cc)
	require.NoError(t, err)
	block := lib.NewBlock(genesis, []lib.Transaction{{Sender: "a", Recipient: "b", Amount: 1}})

	producer := pos.Producer(genesis.Hash, block.Index)
	var wrong kyber.Scalar
	for pub, priv := range privs {
		if pub != hex.EncodeToString(producer) {
			wrong = priv
			break
		}
	}

	// The wrong validator learns who the slot belongs to.
	err = eng.Seal(block.Copy(), wrong, nil)
	var enp ErrNotProducer
	require.True(t, xerrors.As(err, &enp))
	require.Equal(t, producer, enp.Expected)

	require.NoError(t, eng.Seal(block, privs[hex.EncodeToString(producer)], nil))
	require.NoError(t, eng.VerifyHeader(genesis, block))

	tampered := block.Copy()
	tampered.Signature[0] ^= 0xff
	require.Error(t, eng.VerifyHeader(genesis, tampered))
}
