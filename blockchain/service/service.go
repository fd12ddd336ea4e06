// Package service implements the Blockchain service. Every node keeps
// the full chain in its local storage. A new block is sealed by the
// consensus engine named in the genesis configuration, propagated
// through the roster and only reported as stored once more than two
// thirds of the roster acknowledged it.
package service

import (
	"encoding/hex"
	"sync"
	"time"

	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	onetnet "go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol"
	"github.com/quantumprotocol/quantumprotocol/blockchain"
	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
	"github.com/quantumprotocol/quantumprotocol/consensus"
	"github.com/quantumprotocol/quantumprotocol/network"
)

// propagationName is the name the block propagation protocol is
// registered under for this service.
const propagationName = "BlockchainPropagation"

// propagationTimeout bounds how long a node waits for the roster to
// acknowledge a new block.
const propagationTimeout = 10 * time.Second

var serviceID onet.ServiceID

// storageID reflects the data we're storing in the service storage.
var storageID = []byte("main")

func init() {
	var err error
	serviceID, err = onet.RegisterNewService(blockchain.ServiceName, newService)
	log.ErrFatal(err)
	onetnet.RegisterMessage(&storage{})
}

// ChainState is everything a node keeps about one chain.
type ChainState struct {
	Roster *onet.Roster
	Blocks []*lib.Block
	// Votes maps the hex public key of a voter to the delegate voted
	// for, only used by DPoS chains.
	Votes map[string][]byte
}

func (cs *ChainState) latest() *lib.Block {
	return cs.Blocks[len(cs.Blocks)-1]
}

type storage struct {
	sync.Mutex
	// Chains maps the hex chain ID to its state.
	Chains map[string]*ChainState
}

// Service holds the chains of this node and the propagation function.
type Service struct {
	*onet.ServiceProcessor

	storage   *storage
	propagate network.PropagationFunc
}

// CreateGenesis creates a new chain, propagates its genesis block and
// returns it. The hash of the genesis block is the chain ID.
func (s *Service) CreateGenesis(req *blockchain.CreateGenesisRequest) (*blockchain.CreateGenesisReply, error) {
	if req.Roster == nil || len(req.Roster.List) == 0 {
		return nil, xerrors.New("genesis needs a roster")
	}
	// Fail early if the configuration doesn't name a usable engine.
	if _, err := consensus.New(&req.Config); err != nil {
		return nil, err
	}
	genesis, err := lib.NewGenesis(&req.Config)
	if err != nil {
		return nil, err
	}

	acks, err := s.propagate(req.Roster, genesis, propagationTimeout)
	if err != nil {
		return nil, xerrors.Errorf("propagating genesis: %v", err)
	}
	if !enoughAcks(acks, len(req.Roster.List)) {
		return nil, xerrors.Errorf("only %d of %d nodes acknowledged the genesis block",
			acks, len(req.Roster.List))
	}

	s.storeBlock(genesis, req.Roster)
	log.Lvl2(s.ServerIdentity(), "created chain", genesis.Hash.Short())
	return &blockchain.CreateGenesisReply{Genesis: genesis}, nil
}

// StoreBlock seals the given transactions into the next block of the
// chain and propagates it. If this node isn't the producer of the slot,
// the request is relayed to the node that is.
func (s *Service) StoreBlock(req *blockchain.StoreBlockRequest) (*blockchain.StoreBlockReply, error) {
	cs, err := s.chainState(req.ChainID)
	if err != nil {
		return nil, err
	}
	eng, err := s.engineFor(cs)
	if err != nil {
		return nil, err
	}

	block := lib.NewBlock(s.latestBlock(cs), req.Transactions)
	err = eng.Seal(block, s.ServerIdentity().GetPrivate(), nil)

	var notProducer consensus.ErrNotProducer
	if xerrors.As(err, &notProducer) {
		if req.Forwarded {
			return nil, xerrors.Errorf("relayed to the wrong producer: %v", err)
		}
		return s.relayToProducer(cs, req, notProducer.Expected)
	}
	if err != nil {
		return nil, xerrors.Errorf("sealing block: %v", err)
	}

	acks, err := s.propagate(cs.Roster, block, propagationTimeout)
	if err != nil {
		return nil, xerrors.Errorf("propagating block: %v", err)
	}
	if !enoughAcks(acks, len(cs.Roster.List)) {
		return nil, xerrors.Errorf("only %d of %d nodes acknowledged block %d",
			acks, len(cs.Roster.List), block.Index)
	}

	s.storeBlock(block, cs.Roster)
	log.Lvl2(s.ServerIdentity(), "stored block", block.Index, "on chain", req.ChainID.Short())
	return &blockchain.StoreBlockReply{Block: block, Acks: acks}, nil
}

// GetChain returns all blocks of the requested chain, genesis first.
func (s *Service) GetChain(req *blockchain.ChainRequest) (*blockchain.ChainReply, error) {
	cs, err := s.chainState(req.ChainID)
	if err != nil {
		return nil, err
	}
	s.storage.Lock()
	blocks := append([]*lib.Block{}, cs.Blocks...)
	s.storage.Unlock()
	return &blockchain.ChainReply{Blocks: blocks}, nil
}

// Vote records a delegate vote for a DPoS chain on this node.
func (s *Service) Vote(req *blockchain.VoteRequest) (*blockchain.VoteReply, error) {
	cs, err := s.chainState(req.ChainID)
	if err != nil {
		return nil, err
	}
	eng, err := s.engineFor(cs)
	if err != nil {
		return nil, err
	}
	dpos, ok := eng.(*consensus.DPoS)
	if !ok {
		return nil, xerrors.Errorf("chain runs %s, only dpos chains take votes", eng.Name())
	}

	voter := quantumprotocol.Suite.Point()
	if err := voter.UnmarshalBinary(req.Voter); err != nil {
		return nil, xerrors.Errorf("invalid voter key: %v", err)
	}
	msg := append(append([]byte{}, req.ChainID...), req.Delegate...)
	if err := schnorr.Verify(quantumprotocol.Suite, voter, msg, req.Signature); err != nil {
		return nil, xerrors.Errorf("invalid vote signature: %v", err)
	}
	if err := dpos.ApplyVote(req.Voter, req.Delegate); err != nil {
		return nil, err
	}

	s.storage.Lock()
	if cs.Votes == nil {
		cs.Votes = make(map[string][]byte)
	}
	cs.Votes[hex.EncodeToString(req.Voter)] = req.Delegate
	s.storage.Unlock()
	s.save()

	log.Lvl3(s.ServerIdentity(), "recorded vote on chain", req.ChainID.Short())
	return &blockchain.VoteReply{}, nil
}

// relayToProducer forwards a store request to the producer of the
// current slot.
func (s *Service) relayToProducer(cs *ChainState, req *blockchain.StoreBlockRequest, producer []byte) (*blockchain.StoreBlockReply, error) {
	var target *onetnet.ServerIdentity
	for _, si := range cs.Roster.List {
		pub, err := si.Public.MarshalBinary()
		if err != nil {
			continue
		}
		if hex.EncodeToString(pub) == hex.EncodeToString(producer) {
			target = si
			break
		}
	}
	if target == nil {
		return nil, xerrors.New("the producer of this slot is not in the roster")
	}

	log.Lvl3(s.ServerIdentity(), "relaying store request to producer", target)
	reply := &blockchain.StoreBlockReply{}
	err := blockchain.NewClient().SendProtobuf(target, &blockchain.StoreBlockRequest{
		ChainID:      req.ChainID,
		Transactions: req.Transactions,
		Forwarded:    true,
	}, reply)
	if err != nil {
		return nil, xerrors.Errorf("relaying to producer: %v", err)
	}
	return reply, nil
}

// verifyBlock is the propagation callback run on every node for every
// incoming block.
func (s *Service) verifyBlock(b *lib.Block) error {
	if b.Index == 0 {
		cc, err := lib.DecodeChainConfig(b.Data)
		if err != nil {
			return err
		}
		if err := b.VerifyHash(); err != nil {
			return err
		}
		_, err = consensus.New(cc)
		return err
	}

	cs := s.chainByHead(b.PrevHash)
	if cs == nil {
		return xerrors.New("block doesn't extend the head of any known chain")
	}
	latest := s.latestBlock(cs)
	if b.Index != latest.Index+1 {
		return xerrors.Errorf("expected index %d but got %d", latest.Index+1, b.Index)
	}
	eng, err := s.engineFor(cs)
	if err != nil {
		return err
	}
	return eng.VerifyHeader(latest, b)
}

// storeBlock is the propagation callback storing a verified block. It is
// also used by the root after a successful propagation.
func (s *Service) storeBlock(b *lib.Block, ro *onet.Roster) {
	s.storage.Lock()
	if b.Index == 0 {
		id := hex.EncodeToString(b.Hash)
		if _, ok := s.storage.Chains[id]; !ok {
			s.storage.Chains[id] = &ChainState{
				Roster: ro,
				Blocks: []*lib.Block{b},
				Votes:  make(map[string][]byte),
			}
		}
	} else {
		cs := s.chainByHeadLocked(b.PrevHash)
		if cs == nil || b.Index != cs.latest().Index+1 {
			// The propagation verified the block against a head we no
			// longer have, e.g. a duplicate delivery.
			log.Lvl2(s.ServerIdentity(), "dropping block that doesn't extend a known head")
			s.storage.Unlock()
			return
		}
		cs.Blocks = append(cs.Blocks, b)
	}
	s.storage.Unlock()
	s.save()
}

// chainState returns the state of the given chain.
func (s *Service) chainState(id lib.BlockID) (*ChainState, error) {
	s.storage.Lock()
	defer s.storage.Unlock()
	cs, ok := s.storage.Chains[hex.EncodeToString(id)]
	if !ok {
		return nil, xerrors.Errorf("unknown chain %s", id.Short())
	}
	return cs, nil
}

// chainByHead returns the chain whose latest block has the given hash.
func (s *Service) chainByHead(head lib.BlockID) *ChainState {
	s.storage.Lock()
	defer s.storage.Unlock()
	return s.chainByHeadLocked(head)
}

func (s *Service) chainByHeadLocked(head lib.BlockID) *ChainState {
	for _, cs := range s.storage.Chains {
		if cs.latest().Hash.Equal(head) {
			return cs
		}
	}
	return nil
}

// latestBlock returns the head of the chain under the storage lock.
func (s *Service) latestBlock(cs *ChainState) *lib.Block {
	s.storage.Lock()
	defer s.storage.Unlock()
	return cs.latest()
}

// engineFor builds the consensus engine of the chain and feeds it the
// recorded votes. The vote table is copied under the storage lock so
// that concurrent Vote calls can't touch the map the engine reads.
func (s *Service) engineFor(cs *ChainState) (consensus.Engine, error) {
	s.storage.Lock()
	genesis := cs.Blocks[0]
	votes := make(map[string][]byte, len(cs.Votes))
	for k, v := range cs.Votes {
		votes[k] = v
	}
	s.storage.Unlock()

	cc, err := lib.DecodeChainConfig(genesis.Data)
	if err != nil {
		return nil, err
	}
	eng, err := consensus.New(cc)
	if err != nil {
		return nil, err
	}
	if dpos, ok := eng.(*consensus.DPoS); ok && votes != nil {
		dpos.SetVotes(votes)
	}
	return eng, nil
}

// enoughAcks is the finality rule: more than two thirds of the roster
// must acknowledge a block.
func enoughAcks(acks, nodes int) bool {
	return acks > 2*nodes/3
}

// saves all data.
func (s *Service) save() {
	s.storage.Lock()
	defer s.storage.Unlock()
	err := s.Save(storageID, s.storage)
	if err != nil {
		log.Error("Couldn't save data:", err)
	}
}

// Tries to load the configuration and updates the data in the service
// if it finds a valid config-file.
func (s *Service) tryLoad() error {
	s.storage = &storage{}
	defer func() {
		if s.storage.Chains == nil {
			s.storage.Chains = make(map[string]*ChainState)
		}
	}()
	msg, err := s.Load(storageID)
	if err != nil {
		return err
	}
	if msg == nil {
		return nil
	}
	var ok bool
	s.storage, ok = msg.(*storage)
	if !ok {
		return xerrors.New("data of wrong type")
	}
	return nil
}

// NewProtocol is called on all nodes for service-spawned protocols; the
// propagation protocol carries its own constructor, so the default
// behaviour is fine.
func (s *Service) NewProtocol(tn *onet.TreeNodeInstance, conf *onet.GenericConfig) (onet.ProtocolInstance, error) {
	return nil, nil
}

func newService(c *onet.Context) (onet.Service, error) {
	s := &Service{
		ServiceProcessor: onet.NewServiceProcessor(c),
	}
	if err := s.RegisterHandlers(s.CreateGenesis, s.StoreBlock, s.GetChain, s.Vote); err != nil {
		return nil, xerrors.New("couldn't register messages")
	}
	if err := s.tryLoad(); err != nil {
		log.Error(err)
		return nil, err
	}

	var err error
	s.propagate, err = network.NewPropagationFunc(c, propagationName, s.verifyBlock, s.storeBlock)
	if err != nil {
		return nil, err
	}
	return s, nil
}
