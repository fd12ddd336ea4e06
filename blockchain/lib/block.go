// Package lib holds the ledger types shared between the blockchain
// service, the consensus engines and the propagation protocol.
package lib

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"go.dedis.ch/protobuf"
)

// BlockID is the sha256 hash of a block header.
type BlockID []byte

// Equal returns true if both IDs hold the same hash.
func (id BlockID) Equal(other BlockID) bool {
	return bytes.Equal(id, other)
}

// Short returns the first 8 hex characters of the ID for logging.
func (id BlockID) Short() string {
	if len(id) == 0 {
		return "nil"
	}
	return hex.EncodeToString(id)[:8]
}

// Transaction is a single ledger entry. The framework doesn't interpret
// Amount or the parties, it only orders and hashes them.
type Transaction struct {
	Sender    string
	Recipient string
	Amount    uint64
	// Payload carries opaque application data, e.g. a delegate vote.
	Payload []byte
}

// Validator describes a staked participant for the PoS and DPoS engines.
// Public is the marshalled Ed25519 point of the node.
type Validator struct {
	Public []byte
	Stake  uint64
}

// ChainConfig is stored in the genesis block and fixes the rules of a
// chain for its whole lifetime.
type ChainConfig struct {
	// Consensus names the engine, e.g. "pow", "pos" or "dpos".
	Consensus string
	// Difficulty is the number of leading zero bits required by PoW.
	Difficulty uint32
	// Validators is the stake table used by PoS and DPoS.
	Validators []Validator
	// MaxDelegates bounds the active delegate set of DPoS.
	MaxDelegates int
}

// Encode serializes the config for inclusion in the genesis block.
func (cc *ChainConfig) Encode() ([]byte, error) {
	return protobuf.Encode(cc)
}

// DecodeChainConfig parses a config from genesis block data.
func DecodeChainConfig(buf []byte) (*ChainConfig, error) {
	if len(buf) == 0 {
		return nil, errors.New("empty chain configuration")
	}
	cc := &ChainConfig{}
	if err := protobuf.Decode(buf, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// Block is one element of the hash chain. The Hash covers every field
// except itself and the Signature; the Signature, when present, is a
// schnorr signature by the producer over the Hash.
type Block struct {
	Index        int
	Timestamp    int64
	Transactions []Transaction
	// Data carries the encoded ChainConfig in the genesis block and is
	// empty everywhere else.
	Data       []byte
	PrevHash   BlockID
	Difficulty uint32
	Nonce      uint64
	// Producer is the marshalled public key of the sealing node. Empty
	// for PoW blocks, which are authenticated by their work instead.
	Producer  []byte
	Signature []byte
	Hash      BlockID
}

// NewGenesis creates the first block of a chain carrying the given
// configuration.
func NewGenesis(cc *ChainConfig) (*Block, error) {
	data, err := cc.Encode()
	if err != nil {
		return nil, err
	}
	genesis := &Block{
		Index:      0,
		Timestamp:  time.Now().UnixNano(),
		Data:       data,
		Difficulty: cc.Difficulty,
	}
	genesis.Hash = genesis.CalculateHash()
	return genesis, nil
}

// NewBlock returns the successor of prev holding the given transactions.
// The block still has to be sealed by a consensus engine before it can
// be appended anywhere.
func NewBlock(prev *Block, txs []Transaction) *Block {
	return &Block{
		Index:        prev.Index + 1,
		Timestamp:    time.Now().UnixNano(),
		Transactions: txs,
		PrevHash:     prev.Hash,
		Difficulty:   prev.Difficulty,
	}
}

// CalculateHash returns the sha256 digest of the block header. Every
// variable-length field is length-prefixed so that bytes can't move
// between adjacent fields without changing the digest.
func (b *Block) CalculateHash() BlockID {
	h := sha256.New()
	for _, i := range []int64{int64(b.Index), b.Timestamp} {
		binary.Write(h, binary.LittleEndian, i)
	}
	binary.Write(h, binary.LittleEndian, int32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		hashBytes(h, []byte(tx.Sender))
		hashBytes(h, []byte(tx.Recipient))
		binary.Write(h, binary.LittleEndian, tx.Amount)
		hashBytes(h, tx.Payload)
	}
	hashBytes(h, b.Data)
	hashBytes(h, b.PrevHash)
	binary.Write(h, binary.LittleEndian, b.Difficulty)
	binary.Write(h, binary.LittleEndian, b.Nonce)
	hashBytes(h, b.Producer)
	return h.Sum(nil)
}

func hashBytes(h io.Writer, buf []byte) {
	binary.Write(h, binary.LittleEndian, int32(len(buf)))
	h.Write(buf)
}

// VerifyHash recomputes the hash and compares it to the stored one.
func (b *Block) VerifyHash() error {
	if !b.Hash.Equal(b.CalculateHash()) {
		return errors.New("block hash doesn't match its contents")
	}
	return nil
}

// Copy returns a deep copy of the block.
func (b *Block) Copy() *Block {
	buf, err := protobuf.Encode(b)
	if err != nil {
		return nil
	}
	c := &Block{}
	if err := protobuf.Decode(buf, c); err != nil {
		return nil
	}
	return c
}
