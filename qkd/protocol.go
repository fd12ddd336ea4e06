// Package qkd simulates quantum key distribution protocols on top of
// onet. The bb84 protocol runs between the two nodes of a pair tree:
// the root plays Alice, the only child plays Bob. The quantum channel
// is simulated classically, so an eavesdropper can be plugged in to
// show that tampering raises the error rate above the abort threshold.
//
// Schema:
//
//	        [PhotonBurst]          [BasisReveal]         [Sift]              [Verdict]
//	  Alice -------------->  Bob  -------------> Alice ---------->  Bob  --------------> Alice
//
// After sifting, a random half of the agreeing positions is revealed to
// estimate the quantum bit error rate. If it stays below MaxQBER, both
// sides compress the remaining bits into the final key.
package qkd

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	onetnet "go.dedis.ch/onet/v3/network"
	"golang.org/x/xerrors"
)

// MaxQBER is the error rate above which the exchange aborts. 11% is the
// error-correction bound of BB84.
const MaxQBER = 0.11

// photonFactor is how many photons Alice sends per requested key bit:
// half are lost to basis mismatch, half of the rest to error estimation,
// and amplification wants a 2x margin on what's left.
const photonFactor = 10

// Result is what the root ends up with.
type Result struct {
	Key  []byte
	QBER float64
	Err  string
}

// BB84 is the protocol instance running on Alice and Bob.
type BB84 struct {
	*onet.TreeNodeInstance

	// KeyLength is set on the root before Start, in bytes.
	KeyLength int
	// Eavesdropper, when set on Bob's instance, taps the quantum
	// channel before the photons are measured.
	Eavesdropper func([]Photon) []Photon
	// StoreKey is called on Bob's side with the peer that now shares
	// the key.
	StoreKey func(peer *onetnet.ServerIdentity, key []byte)
	// Result delivers the outcome to the root's caller.
	Result chan Result

	doneOnce sync.Once

	// Alice's state.
	bits       []uint8
	bases      []uint8
	pendingKey []byte

	// Bob's state.
	measured  []uint8
	measBases []uint8
	keyLength int
}

func init() {
	if _, err := onet.GlobalProtocolRegister(ProtocolName, NewBB84); err != nil {
		log.ErrFatal(err)
	}
}

// NewBB84 initializes the protocol object and registers all the
// handlers.
func NewBB84(n *onet.TreeNodeInstance) (onet.ProtocolInstance, error) {
	p := &BB84{
		TreeNodeInstance: n,
		Result:           make(chan Result, 1),
	}
	err := p.RegisterHandlers(p.handlePhotons, p.handleBasisReveal, p.handleSift, p.handleVerdict)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Start is run on Alice: she prepares the photons and fires them at Bob.
func (p *BB84) Start() error {
	if len(p.List()) != 2 {
		return xerrors.New("bb84 runs on exactly two nodes")
	}
	if p.KeyLength < 1 {
		return xerrors.New("key length must be at least one byte")
	}

	n := p.KeyLength * 8 * photonFactor
	p.bits = randomBits(n)
	p.bases = randomBits(n)
	photons := make([]Photon, n)
	for i := range photons {
		photons[i] = Photon{Basis: p.bases[i], Bit: p.bits[i]}
	}

	log.Lvl3(p.ServerIdentity(), "sending", n, "photons")
	return p.SendTo(p.Children()[0], &PhotonBurst{Photons: photons, KeyLength: p.KeyLength})
}

// handlePhotons runs on Bob: measure every photon in a random basis and
// announce the bases.
func (p *BB84) handlePhotons(msg photonBurstMsg) error {
	photons := msg.Photons
	if p.Eavesdropper != nil {
		photons = p.Eavesdropper(photons)
	}
	p.keyLength = msg.KeyLength
	p.measBases = randomBits(len(photons))
	p.measured = make([]uint8, len(photons))
	for i, ph := range photons {
		p.measured[i] = measure(ph, p.measBases[i])
	}
	return p.SendToParent(&BasisReveal{Bases: p.measBases})
}

// handleBasisReveal runs on Alice: sift the matching positions, pick the
// sample for error estimation and reveal her bits there.
func (p *BB84) handleBasisReveal(msg basisRevealMsg) error {
	if len(msg.Bases) != len(p.bases) {
		return p.abort("peer announced a wrong number of bases")
	}
	var matches []int
	for i := range p.bases {
		if p.bases[i] == msg.Bases[i] {
			matches = append(matches, i)
		}
	}

	sample, remainder := splitSample(len(matches))
	if len(remainder) < 2*p.KeyLength*8 {
		return p.abort("not enough sifted bits for the requested key length")
	}

	bits := make([]uint8, len(sample))
	for i, m := range sample {
		bits[i] = p.bits[matches[m]]
	}

	var keyBits []uint8
	for _, m := range remainder {
		keyBits = append(keyBits, p.bits[matches[m]])
	}
	p.pendingKey = amplify(keyBits, p.KeyLength)

	return p.SendTo(p.Children()[0], &Sift{Matches: matches, Sample: sample, Bits: bits})
}

// handleSift runs on Bob: estimate the error rate from the revealed
// sample, abort above the threshold, otherwise derive the key and
// commit to it.
func (p *BB84) handleSift(msg siftMsg) error {
	defer p.Done()

	if err := validateSift(&msg.Sift, len(p.measured)); err != nil {
		return p.SendToParent(&Verdict{Error: err.Error()})
	}
	mismatches := 0
	for i, m := range msg.Sample {
		if p.measured[msg.Matches[m]] != msg.Bits[i] {
			mismatches++
		}
	}
	qber := 0.0
	if len(msg.Sample) > 0 {
		qber = float64(mismatches) / float64(len(msg.Sample))
	}
	if qber > MaxQBER {
		log.Lvlf2("%v aborting key exchange, QBER %.3f above threshold", p.ServerIdentity(), qber)
		return p.SendToParent(&Verdict{QBER: qber, Error: "error rate above threshold, channel is tampered or too noisy"})
	}

	sampled := make(map[int]bool, len(msg.Sample))
	for _, m := range msg.Sample {
		sampled[m] = true
	}
	var keyBits []uint8
	for m, idx := range msg.Matches {
		if !sampled[m] {
			keyBits = append(keyBits, p.measured[idx])
		}
	}
	key := amplify(keyBits, p.keyLength)

	if p.StoreKey != nil {
		p.StoreKey(p.Root().ServerIdentity, key)
	}
	hash := sha256.Sum256(key)
	return p.SendToParent(&Verdict{OK: true, QBER: qber, KeyHash: hash[:]})
}

// handleVerdict runs on Alice and concludes the protocol.
func (p *BB84) handleVerdict(msg verdictMsg) error {
	defer p.Done()

	if !msg.OK {
		p.finish(Result{QBER: msg.QBER, Err: msg.Error})
		return nil
	}
	hash := sha256.Sum256(p.pendingKey)
	if !bytes.Equal(hash[:], msg.KeyHash) {
		// Residual errors below the threshold are not corrected, so the
		// keys can still diverge on a noisy channel.
		p.finish(Result{QBER: msg.QBER, Err: "keys diverged after amplification"})
		return nil
	}
	log.Lvl3(p.ServerIdentity(), "established key with", msg.ServerIdentity)
	p.finish(Result{Key: p.pendingKey, QBER: msg.QBER})
	return nil
}

// abort concludes the exchange on Alice's side and tells Bob, so his
// instance finishes too instead of waiting for a Sift forever.
func (p *BB84) abort(reason string) error {
	defer p.Done()
	if err := p.SendTo(p.Children()[0], &Verdict{Error: reason}); err != nil {
		log.Error(p.ServerIdentity(), "couldn't notify peer of the abort:", err)
	}
	p.finish(Result{Err: reason})
	return xerrors.New(reason)
}

func (p *BB84) finish(res Result) {
	p.doneOnce.Do(func() {
		p.Result <- res
	})
}

// validateSift checks every index of a sift message before it is used,
// so a malformed message is refused instead of panicking the receiver.
func validateSift(msg *Sift, photons int) error {
	if len(msg.Bits) != len(msg.Sample) {
		return xerrors.New("sample and bits lengths don't agree")
	}
	for _, idx := range msg.Matches {
		if idx < 0 || idx >= photons {
			return xerrors.New("match index out of range")
		}
	}
	for _, m := range msg.Sample {
		if m < 0 || m >= len(msg.Matches) {
			return xerrors.New("sample index out of range")
		}
	}
	return nil
}

// measure collapses a photon in the given basis.
func measure(ph Photon, basis uint8) uint8 {
	if ph.Basis == basis {
		return ph.Bit
	}
	return randomBits(1)[0]
}

// InterceptResend is an eavesdropper measuring every photon in a random
// basis and sending a fresh photon onwards. It disturbs about a quarter
// of the sifted bits, which is well above MaxQBER.
func InterceptResend(photons []Photon) []Photon {
	bases := randomBits(len(photons))
	out := make([]Photon, len(photons))
	for i, ph := range photons {
		out[i] = Photon{Basis: bases[i], Bit: measure(ph, bases[i])}
	}
	return out
}

// splitSample partitions the sifted positions into the revealed sample
// (every other position) and the remainder that becomes key material.
func splitSample(n int) (sample, remainder []int) {
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			sample = append(sample, i)
		} else {
			remainder = append(remainder, i)
		}
	}
	return
}

// amplify compresses the raw key bits into length bytes by hashing them
// with a running counter.
func amplify(bits []uint8, length int) []byte {
	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b == 1 {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	var out []byte
	for counter := uint32(0); len(out) < length; counter++ {
		h := sha256.New()
		h.Write(packed)
		binary.Write(h, binary.LittleEndian, counter)
		out = h.Sum(out)
	}
	return out[:length]
}

// randomBits returns n cryptographically random bits as bytes holding 0
// or 1.
func randomBits(n int) []uint8 {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		log.Panic("couldn't read randomness:", err)
	}
	for i := range buf {
		buf[i] &= 1
	}
	return buf
}
