package qkd

import (
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/network"
)

// ProtocolName is the protocol identifier string.
const ProtocolName = "bb84"

// ServiceName is the name to refer to the QKD service.
const ServiceName = "QKD"

func init() {
	network.RegisterMessages(
		PhotonBurst{}, BasisReveal{}, Sift{}, Verdict{},
		&ExchangeKeyRequest{}, &ExchangeKeyReply{},
		&KeyRequest{}, &KeyReply{},
	)
}

// Basis values for the polarization of a photon.
const (
	// Rectilinear is the + basis.
	Rectilinear uint8 = iota
	// Diagonal is the x basis.
	Diagonal
)

// Photon is one simulated qubit: a bit encoded in a polarization basis.
// Measuring it in the other basis yields a uniformly random bit.
type Photon struct {
	Basis uint8
	Bit   uint8
}

// PhotonBurst is the quantum phase of the protocol: Alice's photons on
// their way to Bob.
type PhotonBurst struct {
	Photons []Photon
	// KeyLength is the number of key bytes Alice wants to end up with.
	KeyLength int
}

// BasisReveal is Bob announcing the bases he measured in.
type BasisReveal struct {
	Bases []uint8
}

// Sift is Alice's answer: which photons were measured in the right
// basis, which of those get sacrificed for error estimation, and her
// bits at the sacrificed positions.
type Sift struct {
	// Matches are indices into the burst where the bases agreed.
	Matches []int
	// Sample are indices into Matches revealed for error estimation.
	Sample []int
	// Bits are Alice's bits at the sampled positions.
	Bits []uint8
}

// Verdict is Bob's conclusion: either the measured error rate was below
// the threshold and both sides hold a key, or the exchange is aborted.
type Verdict struct {
	OK   bool
	QBER float64
	// KeyHash commits to Bob's derived key so Alice can check both
	// sides agree.
	KeyHash []byte
	Error   string
}

type photonBurstMsg struct {
	*onet.TreeNode
	PhotonBurst
}

type basisRevealMsg struct {
	*onet.TreeNode
	BasisReveal
}

type siftMsg struct {
	*onet.TreeNode
	Sift
}

type verdictMsg struct {
	*onet.TreeNode
	Verdict
}

// ExchangeKeyRequest asks a node to establish a shared key with the
// given peer.
type ExchangeKeyRequest struct {
	Peer *network.ServerIdentity
	// Length of the requested key in bytes, DefaultKeyLength if zero.
	Length int
}

// ExchangeKeyReply returns the established key and the error rate that
// was measured while establishing it.
type ExchangeKeyReply struct {
	Key  []byte
	QBER float64
}

// KeyRequest asks a node for the key it shares with the given peer.
type KeyRequest struct {
	Peer *network.ServerIdentity
}

// KeyReply holds the stored key.
type KeyReply struct {
	Key []byte
}
