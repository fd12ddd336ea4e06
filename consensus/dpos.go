package consensus

import (
	"bytes"
	"encoding/hex"
	"sort"
	"sync"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

// DposName is the registered name of the delegated proof-of-stake engine.
const DposName = "dpos"

// voteWeight is how much one vote counts compared to one unit of stake
// when ranking delegates.
const voteWeight = 10

func init() {
	Register(DposName, NewDPoS)
}

// DPoS schedules block production round-robin over the active delegate
// set: the top MaxDelegates candidates ranked by votes and stake. Votes
// are fed in by the blockchain service and must be identical on all
// nodes for verification to agree.
type DPoS struct {
	sync.Mutex
	candidates []lib.Validator
	max        int
	// votes maps the hex public key of a voter to the delegate voted for.
	votes map[string][]byte
}

// NewDPoS returns a delegated proof-of-stake engine for the given
// configuration.
func NewDPoS(cc *lib.ChainConfig) (Engine, error) {
	if len(cc.Validators) == 0 {
		return nil, xerrors.New("delegated proof-of-stake needs delegate candidates")
	}
	max := cc.MaxDelegates
	if max <= 0 || max > len(cc.Validators) {
		max = len(cc.Validators)
	}
	return &DPoS{
		candidates: cc.Validators,
		max:        max,
		votes:      make(map[string][]byte),
	}, nil
}

// Name implements Engine.
func (d *DPoS) Name() string {
	return DposName
}

// ApplyVote records one voter's choice, replacing any earlier vote by
// the same voter. The delegate must be a candidate of the chain.
func (d *DPoS) ApplyVote(voter, delegate []byte) error {
	d.Lock()
	defer d.Unlock()
	for _, c := range d.candidates {
		if bytes.Equal(c.Public, delegate) {
			d.votes[hex.EncodeToString(voter)] = delegate
			return nil
		}
	}
	return xerrors.New("vote for a key that is not a delegate candidate")
}

// SetVotes replaces the whole vote table, used when reloading persisted
// state.
func (d *DPoS) SetVotes(votes map[string][]byte) {
	d.Lock()
	defer d.Unlock()
	d.votes = make(map[string][]byte)
	for k, v := range votes {
		d.votes[k] = v
	}
}

// Votes returns a copy of the current vote table.
func (d *DPoS) Votes() map[string][]byte {
	d.Lock()
	defer d.Unlock()
	votes := make(map[string][]byte)
	for k, v := range d.votes {
		votes[k] = v
	}
	return votes
}

// activeDelegates ranks the candidates by votes and stake and returns
// the top max ones. Ties break on the candidate key bytes so that every
// node computes the same ordering.
func (d *DPoS) activeDelegates() []lib.Validator {
	d.Lock()
	defer d.Unlock()

	counts := make(map[string]uint64)
	for _, delegate := range d.votes {
		counts[hex.EncodeToString(delegate)]++
	}

	ranked := make([]lib.Validator, len(d.candidates))
	copy(ranked, d.candidates)
	score := func(v lib.Validator) uint64 {
		return counts[hex.EncodeToString(v.Public)]*voteWeight + v.Stake
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		si, sj := score(ranked[i]), score(ranked[j])
		if si != sj {
			return si > sj
		}
		return bytes.Compare(ranked[i].Public, ranked[j].Public) < 0
	})
	return ranked[:d.max]
}

// Producer returns the marshalled public key of the delegate owning the
// slot of the given block index.
func (d *DPoS) Producer(index int) []byte {
	active := d.activeDelegates()
	return active[index%len(active)].Public
}

// Seal implements Engine. It fails with ErrNotProducer if the given key
// doesn't own the slot.
func (d *DPoS) Seal(block *lib.Block, priv kyber.Scalar, stop <-chan struct{}) error {
	return sealWithKey(block, priv, d.Producer(block.Index))
}

// VerifyHeader implements Engine.
func (d *DPoS) VerifyHeader(prev, block *lib.Block) error {
	if err := verifySeal(block, d.Producer(block.Index)); err != nil {
		return xerrors.Errorf("delegate verification of block %d: %v", block.Index, err)
	}
	return nil
}
