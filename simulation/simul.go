// This package contains the quantumprotocol simulation configuration
// and the code needed to run it with the onet simulation framework,
// either locally or on a testbed.
package main

import (
	"go.dedis.ch/onet/v3/simul"
)

func main() {
	simul.Start()
}
