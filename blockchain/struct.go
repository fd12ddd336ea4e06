package blockchain

import (
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"

	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

// ServiceName is the name to refer to the Blockchain service.
const ServiceName = "Blockchain"

func init() {
	network.RegisterMessages(
		&CreateGenesisRequest{}, &CreateGenesisReply{},
		&StoreBlockRequest{}, &StoreBlockReply{},
		&ChainRequest{}, &ChainReply{},
		&VoteRequest{}, &VoteReply{},
	)
}

// CreateGenesisRequest asks a node to create a new chain over the given
// roster with the given configuration.
type CreateGenesisRequest struct {
	Roster *onet.Roster
	Config lib.ChainConfig
}

// CreateGenesisReply returns the genesis block. Its hash is the chain ID
// used by all further requests.
type CreateGenesisReply struct {
	Genesis *lib.Block
}

// StoreBlockRequest asks a node to seal the given transactions into the
// next block of the chain and propagate it.
type StoreBlockRequest struct {
	ChainID      lib.BlockID
	Transactions []lib.Transaction
	// Forwarded marks a request that was relayed to the producer of the
	// current slot and must not be relayed again.
	Forwarded bool
}

// StoreBlockReply returns the sealed block and the number of roster
// members that acknowledged it.
type StoreBlockReply struct {
	Block *lib.Block
	Acks  int
}

// ChainRequest asks for all blocks of a chain.
type ChainRequest struct {
	ChainID lib.BlockID
}

// ChainReply holds the blocks of the chain, genesis first.
type ChainReply struct {
	Blocks []*lib.Block
}

// VoteRequest records a delegate vote for a DPoS chain. The signature is
// a schnorr signature by the voter over ChainID|Delegate.
type VoteRequest struct {
	ChainID   lib.BlockID
	Voter     []byte
	Delegate  []byte
	Signature []byte
}

// VoteReply is an empty acknowledgment of a recorded vote.
type VoteReply struct {
}
