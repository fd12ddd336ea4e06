package consensus

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

func TestNewDPoS(t *testing.T) {
	_, err := NewDPoS(&lib.ChainConfig{Consensus: DposName})
	require.Error(t, err)

	// A delegate count out of range falls back to all candidates.
	validators, _ := testValidators(t, 1, 2, 3)
	eng, err := NewDPoS(&lib.ChainConfig{
		Consensus:    DposName,
		Validators:   validators,
		MaxDelegates: 100,
	})
	require.NoError(t, err)
	require.Len(t, eng.(*DPoS).activeDelegates(), len(validators))
}

func TestDPoS_Producer(t *testing.T) {
	validators, _ := testValidators(t, 30, 20, 10)
	eng, err := NewDPoS(&lib.ChainConfig{
		Consensus:    DposName,
		Validators:   validators,
		MaxDelegates: 2,
	})
	require.NoError(t, err)
	d := eng.(*DPoS)

	// Without votes the two biggest stakes own the slots, round-robin.
	require.Equal(t, validators[0].Public, d.Producer(0))
	require.Equal(t, validators[1].Public, d.Producer(1))
	require.Equal(t, validators[0].Public, d.Producer(2))
}

func TestDPoS_ApplyVote(t *testing.T) {
	validators, _ := testValidators(t, 30, 20, 10)
	eng, err := NewDPoS(&lib.ChainConfig{
		Consensus:    DposName,
		Validators:   validators,
		MaxDelegates: 2,
	})
	require.NoError(t, err)
	d := eng.(*DPoS)

	voter := []byte("voter-1")
	require.Error(t, d.ApplyVote(voter, []byte("not a candidate")))

	// One vote outweighs the stakes and promotes the last candidate.
	require.NoError(t, d.ApplyVote(voter, validators[2].Public))
	require.Equal(t, validators[2].Public, d.Producer(0))
	require.Equal(t, validators[0].Public, d.Producer(1))

	// A voter changing their mind drops the earlier vote.
	require.NoError(t, d.ApplyVote(voter, validators[0].Public))
	require.Equal(t, validators[0].Public, d.Producer(0))
	require.Equal(t, validators[1].Public, d.Producer(1))
}

func TestDPoS_Votes(t *testing.T) {
	validators, _ := testValidators(t, 30, 20, 10)
	cc := &lib.ChainConfig{Consensus: DposName, Validators: validators, MaxDelegates: 2}
	eng, err := NewDPoS(cc)
	require.NoError(t, err)
	d := eng.(*DPoS)
	require.NoError(t, d.ApplyVote([]byte("voter-1"), validators[2].Public))

	votes := d.Votes()
	require.Len(t, votes, 1)

	// The copy is detached from the engine.
	votes["voter-2"] = validators[1].Public
	require.Len(t, d.Votes(), 1)

	fresh, err := NewDPoS(cc)
	require.NoError(t, err)
	fresh.(*DPoS).SetVotes(votes)
	require.Len(t, fresh.(*DPoS).Votes(), 2)
}

func TestDPoS_SealAndVerify(t *testing.T) {
	validators, privs := testValidators(t, 30, 20)
	cc := &lib.ChainConfig{Consensus: DposName, Validators: validators, MaxDelegates: 2}
	eng, err := New(cc)
	require.NoError(t, err)
	d := eng.(*DPoS)

	genesis, err := lib.NewGenesis(cc)
	require.NoError(t, err)
	block := lib.NewBlock(genesis, nil)

	producer := d.Producer(block.Index)
	for pub, priv := range privs {
		if pub == hex.EncodeToString(producer) {
			continue
		}
		err := d.Seal(block.Copy(), priv, nil)
		var enp ErrNotProducer
		require.True(t, xerrors.As(err, &enp))
		require.Equal(t, producer, enp.Expected)
	}

	require.NoError(t, d.Seal(block, privs[hex.EncodeToString(producer)], nil))
	require.NoError(t, d.VerifyHeader(genesis, block))

	// A block sealed for the wrong slot is refused.
	late := block.Copy()
	late.Index++
	late.Hash = late.CalculateHash()
	require.Error(t, d.VerifyHeader(genesis, late))
}
