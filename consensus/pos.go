package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

// PosName is the registered name of the proof-of-stake engine.
const PosName = "pos"

func init() {
	Register(PosName, NewPoS)
}

// PoS picks the producer of each block by a stake-weighted deterministic
// draw seeded with the previous block hash and the block index, so every
// node computes the same producer without communication.
type PoS struct {
	validators []lib.Validator
	total      uint64
}

// NewPoS returns a proof-of-stake engine for the given configuration.
func NewPoS(cc *lib.ChainConfig) (Engine, error) {
	var total uint64
	for _, v := range cc.Validators {
		total += v.Stake
	}
	if total == 0 {
		return nil, xerrors.New("proof-of-stake needs validators with a positive total stake")
	}
	return &PoS{validators: cc.Validators, total: total}, nil
}

// Name implements Engine.
func (p *PoS) Name() string {
	return PosName
}

// Producer returns the marshalled public key of the validator expected
// to seal the block following prevHash at the given index.
func (p *PoS) Producer(prevHash lib.BlockID, index int) []byte {
	h := sha256.New()
	h.Write(prevHash)
	binary.Write(h, binary.LittleEndian, int64(index))
	seed := h.Sum(nil)

	draw := new(big.Int).Mod(
		new(big.Int).SetBytes(seed),
		new(big.Int).SetUint64(p.total),
	).Uint64()

	var cumulative uint64
	for _, v := range p.validators {
		cumulative += v.Stake
		if draw < cumulative {
			return v.Public
		}
	}
	// Unreachable as long as total is the sum of all stakes.
	return p.validators[len(p.validators)-1].Public
}

// Seal implements Engine. It fails with ErrNotProducer if the given key
// doesn't belong to the expected producer of the slot.
func (p *PoS) Seal(block *lib.Block, priv kyber.Scalar, stop <-chan struct{}) error {
	return sealWithKey(block, priv, p.Producer(block.PrevHash, block.Index))
}

// VerifyHeader implements Engine.
func (p *PoS) VerifyHeader(prev, block *lib.Block) error {
	if err := verifySeal(block, p.Producer(prev.Hash, block.Index)); err != nil {
		return xerrors.Errorf("stake verification of block %d: %v", block.Index, err)
	}
	return nil
}
