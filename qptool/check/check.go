// Package check verifies that all servers of a group definition are up
// and running by exercising their QKD service pairwise.
package check

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.dedis.ch/onet/v3/app"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol/qkd"
)

// Roster runs a short quantum key exchange between consecutive members
// of the group defined in tomlFileName and reports each pair to w.
func Roster(tomlFileName string, w io.Writer) error {
	f, err := os.Open(tomlFileName)
	if err != nil {
		return xerrors.Errorf("opening group file %s: %v", tomlFileName, err)
	}
	defer f.Close()
	g, err := app.ReadGroupDescToml(f)
	if err != nil {
		return err
	}
	ro := g.Roster
	if len(ro.List) < 2 {
		return xerrors.New("need at least two servers to check the roster")
	}

	client := qkd.NewClient()
	for i := range ro.List {
		peer := (i + 1) % len(ro.List)
		start := time.Now()
		_, err := client.ExchangeKey(ro.List[i], ro.List[peer], 8)
		if err != nil {
			fmt.Fprintf(w, "[-] %v <-> %v: %v\n",
				ro.List[i].Address, ro.List[peer].Address, err)
			return xerrors.Errorf("roster check failed: %v", err)
		}
		fmt.Fprintf(w, "[+] %v <-> %v OK (%v)\n",
			ro.List[i].Address, ro.List[peer].Address, time.Since(start).Round(time.Millisecond))
	}
	return nil
}
