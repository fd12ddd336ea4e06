// Package consensus provides the pluggable engines that seal and verify
// blocks: proof-of-work, proof-of-stake and delegated proof-of-stake.
// Engines register themselves by name, the way onet registers protocols,
// so that a chain configuration can name its engine in the genesis block.
package consensus

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol"
	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

// Engine seals new blocks and verifies sealed ones. One engine instance
// is bound to one chain configuration.
type Engine interface {
	// Name returns the registered name of the engine.
	Name() string
	// Seal finalizes the block in place: PoW searches a nonce matching
	// the difficulty target, PoS and DPoS sign the header as the
	// producer of the slot. Closing stop aborts a long-running seal.
	Seal(block *lib.Block, priv kyber.Scalar, stop <-chan struct{}) error
	// VerifyHeader checks the consensus part of a block against its
	// predecessor. Hash-chain links are checked by lib.Chain, not here.
	VerifyHeader(prev, block *lib.Block) error
}

// Factory builds an engine for the given chain configuration.
type Factory func(cc *lib.ChainConfig) (Engine, error)

var factories = make(map[string]Factory)

// Register makes an engine available under the given name. It is meant
// to be called from the init function of the engine's file.
func Register(name string, f Factory) {
	if _, ok := factories[name]; ok {
		log.Panic("engine already registered:", name)
	}
	factories[name] = f
}

// New instantiates the engine named in the chain configuration.
func New(cc *lib.ChainConfig) (Engine, error) {
	f, ok := factories[cc.Consensus]
	if !ok {
		return nil, xerrors.Errorf("no consensus engine registered under %q", cc.Consensus)
	}
	return f(cc)
}

// ErrNotProducer is returned by Seal when the sealing node is not the
// producer of the slot. Expected holds the marshalled public key of the
// node that is.
type ErrNotProducer struct {
	Expected []byte
}

func (e ErrNotProducer) Error() string {
	return fmt.Sprintf("not the producer of this slot, expected %s",
		hex.EncodeToString(e.Expected)[:8])
}

// sealWithKey signs the block header as the given producer. Shared by
// the PoS and DPoS engines.
func sealWithKey(block *lib.Block, priv kyber.Scalar, producer []byte) error {
	pub, err := quantumprotocol.Suite.Point().Mul(priv, nil).MarshalBinary()
	if err != nil {
		return err
	}
	if !bytes.Equal(pub, producer) {
		return ErrNotProducer{Expected: producer}
	}
	block.Producer = producer
	block.Hash = block.CalculateHash()
	sig, err := schnorr.Sign(quantumprotocol.Suite, priv, block.Hash)
	if err != nil {
		return err
	}
	block.Signature = sig
	return nil
}

// verifySeal checks the producer identity and its signature over the
// block hash.
func verifySeal(block *lib.Block, producer []byte) error {
	if !bytes.Equal(block.Producer, producer) {
		return xerrors.New("block sealed by the wrong producer")
	}
	if err := block.VerifyHash(); err != nil {
		return err
	}
	point := quantumprotocol.Suite.Point()
	if err := point.UnmarshalBinary(block.Producer); err != nil {
		return xerrors.Errorf("invalid producer key: %v", err)
	}
	if err := schnorr.Verify(quantumprotocol.Suite, point, block.Hash, block.Signature); err != nil {
		return xerrors.Errorf("invalid producer signature: %v", err)
	}
	return nil
}
