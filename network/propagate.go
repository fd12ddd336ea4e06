// Package network propagates freshly sealed blocks through a roster.
// The root of the tree sends the candidate block down, every node runs
// the verification callback wired in by its service and answers with a
// schnorr-signed acknowledgment over the block hash. The root collects
// and verifies the acknowledgments, so a caller knows how many distinct
// roster members accepted the block.
package network

import (
	"time"

	"go.dedis.ch/kyber/v3/sign/schnorr"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	onetnet "go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol"
	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
)

func init() {
	onetnet.RegisterMessages(PropagateBlock{}, PropagateReply{})
}

// How long the root waits on top of the propagation timeout before
// giving up on the protocol entirely.
const timeoutMargin = time.Second

// VerifyFn is called on every node with the candidate block. Returning
// an error refuses the block: the node neither stores nor acknowledges.
type VerifyFn func(*lib.Block) error

// StoreFn is called on every non-root node once the block passed
// verification, together with the roster the block belongs to. The root
// is expected to store the block itself after a successful propagation.
type StoreFn func(*lib.Block, *onet.Roster)

// PropagationFunc propagates a block through the roster and returns the
// number of nodes, including the root, that verified and acknowledged
// it.
type PropagationFunc func(ro *onet.Roster, block *lib.Block, timeout time.Duration) (int, error)

// propagationContext is the part of onet.Context the propagation needs,
// kept as an interface for testing.
type propagationContext interface {
	ProtocolRegister(name string, protocol onet.NewProtocol) (onet.ProtocolID, error)
	ServerIdentity() *onetnet.ServerIdentity
	CreateProtocol(name string, t *onet.Tree) (onet.ProtocolInstance, error)
}

// NewPropagationFunc registers the propagation protocol under the given
// name with the context c and wires verify and store into every new
// instance.
func NewPropagationFunc(c propagationContext, name string, verify VerifyFn, store StoreFn) (PropagationFunc, error) {
	pid, err := c.ProtocolRegister(name, func(n *onet.TreeNodeInstance) (onet.ProtocolInstance, error) {
		return newBlockProp(n, verify, store)
	})
	if err != nil {
		return nil, xerrors.Errorf("registering propagation %s: %v", name, err)
	}
	log.Lvl3("Registered block propagation for", c.ServerIdentity(), name, pid)

	return func(ro *onet.Roster, block *lib.Block, timeout time.Duration) (int, error) {
		rooted := ro.NewRosterWithRoot(c.ServerIdentity())
		if rooted == nil {
			return 0, xerrors.New("we're not in the roster")
		}
		tree := rooted.GenerateNaryTree(8)
		if tree == nil {
			return 0, xerrors.New("couldn't generate the propagation tree")
		}
		pi, err := c.CreateProtocol(name, tree)
		if err != nil {
			return 0, err
		}
		p := pi.(*BlockProp)
		p.Block = block
		p.Timeout = timeout
		if err := p.Start(); err != nil {
			return 0, err
		}
		select {
		case acks := <-p.Finished:
			return acks, nil
		case <-time.After(timeout + timeoutMargin):
			return 0, xerrors.New("timeout while propagating the block")
		}
	}, nil
}

// PropagateBlock is sent from the root down the tree.
type PropagateBlock struct {
	Block   *lib.Block
	Timeout time.Duration
}

// Ack is one node's signed acknowledgment of the block. Index is the
// roster index of the signer, the signature covers the block hash.
type Ack struct {
	Index     int
	Signature []byte
}

// Refusal is one node's signed-off rejection of the block, so the root
// can tell a failed verification from an unreachable node.
type Refusal struct {
	Index  int
	Reason string
}

// PropagateReply carries the acknowledgments and refusals of a subtree
// back up.
type PropagateReply struct {
	Acks     []Ack
	Refusals []Refusal
}

type propagateBlockMsg struct {
	*onet.TreeNode
	PropagateBlock
}

type propagateReplyMsg struct {
	*onet.TreeNode
	PropagateReply
}

// BlockProp is the propagation protocol instance running on one node.
type BlockProp struct {
	*onet.TreeNodeInstance

	// Block and Timeout are set on the root before Start.
	Block   *lib.Block
	Timeout time.Duration
	// Finished delivers the number of verified acknowledgments to the
	// root's caller.
	Finished chan int
	// Refusals holds the refusals reported by the tree. It is filled on
	// the root before Finished delivers.
	Refusals []Refusal

	verify VerifyFn
	store  StoreFn

	announceChan chan propagateBlockMsg
	replyChan    chan propagateReplyMsg
}

func newBlockProp(n *onet.TreeNodeInstance, verify VerifyFn, store StoreFn) (onet.ProtocolInstance, error) {
	p := &BlockProp{
		TreeNodeInstance: n,
		Finished:         make(chan int, 1),
		verify:           verify,
		store:            store,
	}
	if err := p.RegisterChannels(&p.announceChan, &p.replyChan); err != nil {
		return nil, xerrors.Errorf("registering channels: %v", err)
	}
	return p, nil
}

// Start sends the block to the root itself, which kicks off Dispatch.
func (p *BlockProp) Start() error {
	if p.Block == nil {
		p.Done()
		return xerrors.New("no block to propagate")
	}
	if p.Timeout <= 0 {
		p.Done()
		return xerrors.New("propagation needs a positive timeout")
	}
	log.Lvl3(p.ServerIdentity(), "propagating block", p.Block.Hash.Short())
	return p.SendTo(p.TreeNode(), &PropagateBlock{Block: p.Block, Timeout: p.Timeout})
}

// Dispatch runs the propagation on every node of the tree.
func (p *BlockProp) Dispatch() error {
	defer p.Done()

	announce := <-p.announceChan
	block := announce.Block
	if block == nil {
		return xerrors.New("propagation without a block")
	}

	var acks []Ack
	var refusals []Refusal
	err := p.verify(block)
	if err != nil {
		log.Lvlf2("%v refuses block %s: %v", p.ServerIdentity(), block.Hash.Short(), err)
		refusals = append(refusals, Refusal{Index: p.TreeNode().RosterIndex, Reason: err.Error()})
	} else {
		if !p.IsRoot() && p.store != nil {
			p.store(block, p.Roster())
		}
		sig, sigErr := schnorr.Sign(quantumprotocol.Suite, p.Private(), block.Hash)
		if sigErr != nil {
			return sigErr
		}
		acks = append(acks, Ack{Index: p.TreeNode().RosterIndex, Signature: sig})
	}

	if !p.IsLeaf() {
		errs := p.SendToChildrenInParallel(&announce.PropagateBlock)
		for _, e := range errs {
			log.Error(p.ServerIdentity(), "couldn't reach a child:", e)
		}
		expected := len(p.Children()) - len(errs)
		deadline := time.After(announce.Timeout)
	replies:
		for i := 0; i < expected; i++ {
			select {
			case reply := <-p.replyChan:
				acks = append(acks, reply.Acks...)
				refusals = append(refusals, reply.Refusals...)
			case <-deadline:
				log.Lvl2(p.ServerIdentity(), "timeout while waiting for subtree acknowledgments")
				break replies
			}
		}
	}

	if p.IsRoot() {
		for _, r := range refusals {
			log.Lvl2(p.ServerIdentity(), "roster index", r.Index, "refused the block:", r.Reason)
		}
		p.Refusals = refusals
		p.Finished <- p.countValid(block, acks)
		return nil
	}
	return p.SendToParent(&PropagateReply{Acks: acks, Refusals: refusals})
}

// countValid checks every acknowledgment signature against the roster
// and counts each roster member at most once.
func (p *BlockProp) countValid(block *lib.Block, acks []Ack) int {
	publics := p.Publics()
	seen := make(map[int]bool)
	for _, ack := range acks {
		if ack.Index < 0 || ack.Index >= len(publics) || seen[ack.Index] {
			continue
		}
		if err := schnorr.Verify(quantumprotocol.Suite, publics[ack.Index], block.Hash, ack.Signature); err != nil {
			log.Lvl2(p.ServerIdentity(), "dropping acknowledgment with a bad signature from index", ack.Index)
			continue
		}
		seen[ack.Index] = true
	}
	return len(seen)
}
