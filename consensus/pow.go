package consensus

import (
	"math/big"

	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

// PowName is the registered name of the proof-of-work engine.
const PowName = "pow"

func init() {
	Register(PowName, NewPoW)
}

// PoW seals blocks by searching a nonce so that the block hash,
// interpreted as a big-endian integer, falls below a difficulty target
// of 2^(256-difficulty).
type PoW struct {
	difficulty uint32
	target     *big.Int
}

// NewPoW returns a proof-of-work engine for the given configuration.
func NewPoW(cc *lib.ChainConfig) (Engine, error) {
	if cc.Difficulty < 1 || cc.Difficulty > 255 {
		return nil, xerrors.Errorf("difficulty %d out of range [1, 255]", cc.Difficulty)
	}
	return &PoW{
		difficulty: cc.Difficulty,
		target:     new(big.Int).Lsh(big.NewInt(1), uint(256-cc.Difficulty)),
	}, nil
}

// Name implements Engine.
func (p *PoW) Name() string {
	return PowName
}

// Seal implements Engine. It mines the block and returns once a valid
// nonce has been found or stop has been closed.
func (p *PoW) Seal(block *lib.Block, priv kyber.Scalar, stop <-chan struct{}) error {
	block.Difficulty = p.difficulty
	block.Producer = nil
	block.Signature = nil
	for nonce := uint64(0); ; nonce++ {
		block.Nonce = nonce
		hash := block.CalculateHash()
		if new(big.Int).SetBytes(hash).Cmp(p.target) < 0 {
			block.Hash = hash
			return nil
		}
		if nonce%4096 == 0 {
			select {
			case <-stop:
				return xerrors.New("sealing aborted")
			default:
			}
		}
	}
}

// VerifyHeader implements Engine.
func (p *PoW) VerifyHeader(prev, block *lib.Block) error {
	if block.Difficulty != p.difficulty {
		return xerrors.Errorf("block difficulty %d doesn't match the chain's %d",
			block.Difficulty, p.difficulty)
	}
	if err := block.VerifyHash(); err != nil {
		return err
	}
	if new(big.Int).SetBytes(block.Hash).Cmp(p.target) >= 0 {
		return xerrors.New("block hash doesn't satisfy the difficulty target")
	}
	return nil
}
