// Package quantumprotocol is a framework for building, testing and
// simulating distributed crypto-protocols. It has two pillars: the
// simulation of quantum key distribution protocols (qkd) and a small
// research ledger with pluggable consensus engines (blockchain,
// consensus, network).
//
// All protocols and services run on top of the onet overlay-network
// library, so they can be exercised in-memory in tests, on localhost,
// or deployed on a roster of real servers.
package quantumprotocol

import (
	"go.dedis.ch/kyber/v3/suites"
)

// Suite is the Ed25519 cipher suite used throughout the framework for
// node identities and signatures.
var Suite = suites.MustFind("Ed25519")
