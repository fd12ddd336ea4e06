// Package blockchain implements a client and the messages to talk to
// the Blockchain service, a small research ledger whose blocks are
// sealed by a pluggable consensus engine and propagated through the
// roster.
package blockchain

import (
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol"
	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

// Client is a structure to communicate with the Blockchain service.
type Client struct {
	*onet.Client
}

// NewClient instantiates a new blockchain.Client.
func NewClient() *Client {
	return &Client{Client: onet.NewClient(quantumprotocol.Suite, ServiceName)}
}

// CreateGenesis creates a new chain on the given roster and returns its
// genesis block.
func (c *Client) CreateGenesis(ro *onet.Roster, cc *lib.ChainConfig) (*lib.Block, error) {
	if len(ro.List) == 0 {
		return nil, xerrors.New("empty roster")
	}
	reply := &CreateGenesisReply{}
	err := c.SendProtobuf(ro.List[0], &CreateGenesisRequest{Roster: ro, Config: *cc}, reply)
	if err != nil {
		return nil, err
	}
	return reply.Genesis, nil
}

// StoreBlock asks the chain to seal the given transactions into a new
// block. The contacted node relays the request to the producer of the
// slot if it isn't the producer itself.
func (c *Client) StoreBlock(ro *onet.Roster, chainID lib.BlockID, txs []lib.Transaction) (*StoreBlockReply, error) {
	if len(ro.List) == 0 {
		return nil, xerrors.New("empty roster")
	}
	reply := &StoreBlockReply{}
	err := c.SendProtobuf(ro.List[0], &StoreBlockRequest{ChainID: chainID, Transactions: txs}, reply)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// GetChain fetches all blocks of the chain from the given node and
// verifies the hash links before returning them.
func (c *Client) GetChain(ro *onet.Roster, chainID lib.BlockID) (*lib.Chain, error) {
	if len(ro.List) == 0 {
		return nil, xerrors.New("empty roster")
	}
	reply := &ChainReply{}
	err := c.SendProtobuf(ro.List[0], &ChainRequest{ChainID: chainID}, reply)
	if err != nil {
		return nil, err
	}
	if len(reply.Blocks) == 0 {
		return nil, xerrors.New("node returned an empty chain")
	}
	chain, err := lib.NewChain(reply.Blocks[0])
	if err != nil {
		return nil, err
	}
	for _, b := range reply.Blocks[1:] {
		if err := chain.Append(b); err != nil {
			return nil, xerrors.Errorf("node returned a broken chain: %v", err)
		}
	}
	if !chain.ID().Equal(chainID) {
		return nil, xerrors.New("node returned a different chain")
	}
	return chain, nil
}

// Vote signs and records a delegate vote on every node of the roster.
// DPoS verification only stays consistent if all nodes know the vote, so
// an error is returned as soon as one node couldn't be reached.
func (c *Client) Vote(ro *onet.Roster, chainID lib.BlockID, voter kyber.Scalar, delegate []byte) error {
	pub, err := quantumprotocol.Suite.Point().Mul(voter, nil).MarshalBinary()
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(quantumprotocol.Suite, voter, append(append([]byte{}, chainID...), delegate...))
	if err != nil {
		return err
	}
	req := &VoteRequest{
		ChainID:   chainID,
		Voter:     pub,
		Delegate:  delegate,
		Signature: sig,
	}
	for _, si := range ro.List {
		if err := c.SendProtobuf(si, req, &VoteReply{}); err != nil {
			return xerrors.Errorf("recording vote on %v: %v", si, err)
		}
	}
	return nil
}
