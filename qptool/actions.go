package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"go.dedis.ch/kyber/v3/util/encoding"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/app"
	"golang.org/x/xerrors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/quantumprotocol/quantumprotocol"
	"github.com/quantumprotocol/quantumprotocol/blockchain"
	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
	"github.com/quantumprotocol/quantumprotocol/consensus"
	"github.com/quantumprotocol/quantumprotocol/qkd"
	"github.com/quantumprotocol/quantumprotocol/qptool/check"
)

// readRoster loads the roster from the group definition file.
func readRoster(c *cli.Context) (*onet.Roster, error) {
	name := c.GlobalString(optionGroup)
	f, err := os.Open(name)
	if err != nil {
		return nil, xerrors.Errorf("opening group file %s: %v", name, err)
	}
	defer f.Close()
	g, err := app.ReadGroupDescToml(f)
	if err != nil {
		return nil, err
	}
	if len(g.Roster.List) == 0 {
		return nil, xerrors.Errorf("empty or invalid group file: %s", name)
	}
	return g.Roster, nil
}

func parseChainID(arg string) (lib.BlockID, error) {
	if arg == "" {
		return nil, xerrors.New("please give the chain ID")
	}
	id, err := hex.DecodeString(arg)
	if err != nil {
		return nil, xerrors.Errorf("invalid chain ID: %v", err)
	}
	return id, nil
}

func rosterMember(ro *onet.Roster, arg string) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		return 0, xerrors.Errorf("invalid roster index %q: %v", arg, err)
	}
	if i < 0 || i >= len(ro.List) {
		return 0, xerrors.Errorf("roster index %d out of range [0, %d]", i, len(ro.List)-1)
	}
	return i, nil
}

func createGenesis(c *cli.Context) error {
	ro, err := readRoster(c)
	if err != nil {
		return err
	}

	cc := &lib.ChainConfig{
		Consensus:    c.Args().First(),
		Difficulty:   uint32(c.Uint("difficulty")),
		MaxDelegates: c.Int("max-delegates"),
	}
	switch cc.Consensus {
	case consensus.PowName:
	case consensus.PosName, consensus.DposName:
		for _, si := range ro.List {
			pub, err := si.Public.MarshalBinary()
			if err != nil {
				return err
			}
			cc.Validators = append(cc.Validators, lib.Validator{
				Public: pub,
				Stake:  c.Uint64("stake"),
			})
		}
	default:
		return xerrors.Errorf("unknown consensus %q, pick pow, pos or dpos", cc.Consensus)
	}

	genesis, err := blockchain.NewClient().CreateGenesis(ro, cc)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "[+] Created chain", hex.EncodeToString(genesis.Hash))
	return nil
}

func storeBlock(c *cli.Context) error {
	ro, err := readRoster(c)
	if err != nil {
		return err
	}
	if c.NArg() < 4 {
		return xerrors.New("please give: chainID sender recipient amount")
	}
	id, err := parseChainID(c.Args().Get(0))
	if err != nil {
		return err
	}
	amount, err := strconv.ParseUint(c.Args().Get(3), 10, 64)
	if err != nil {
		return xerrors.Errorf("invalid amount: %v", err)
	}

	reply, err := blockchain.NewClient().StoreBlock(ro, id, []lib.Transaction{{
		Sender:    c.Args().Get(1),
		Recipient: c.Args().Get(2),
		Amount:    amount,
	}})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "[+] Stored block %d, acknowledged by %d nodes\n",
		reply.Block.Index, reply.Acks)
	return nil
}

func showChain(c *cli.Context) error {
	ro, err := readRoster(c)
	if err != nil {
		return err
	}
	id, err := parseChainID(c.Args().First())
	if err != nil {
		return err
	}

	chain, err := blockchain.NewClient().GetChain(ro, id)
	if err != nil {
		return err
	}
	for _, b := range chain.Blocks {
		fmt.Fprintf(c.App.Writer, "%4d %s txs=%d producer=%s\n",
			b.Index, hex.EncodeToString(b.Hash), len(b.Transactions),
			hex.EncodeToString(b.Producer))
	}
	return nil
}

func vote(c *cli.Context) error {
	ro, err := readRoster(c)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return xerrors.New("please give: chainID delegateIndex")
	}
	id, err := parseChainID(c.Args().Get(0))
	if err != nil {
		return err
	}
	delegate, err := rosterMember(ro, c.Args().Get(1))
	if err != nil {
		return err
	}
	priv, err := encoding.StringHexToScalar(quantumprotocol.Suite, c.String("key"))
	if err != nil {
		return xerrors.Errorf("invalid voter key: %v", err)
	}
	pub, err := ro.List[delegate].Public.MarshalBinary()
	if err != nil {
		return err
	}

	if err := blockchain.NewClient().Vote(ro, id, priv, pub); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "[+] Vote recorded on all nodes")
	return nil
}

func exchangeKey(c *cli.Context) error {
	ro, err := readRoster(c)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return xerrors.New("please give: aliceIndex bobIndex")
	}
	alice, err := rosterMember(ro, c.Args().Get(0))
	if err != nil {
		return err
	}
	bob, err := rosterMember(ro, c.Args().Get(1))
	if err != nil {
		return err
	}

	reply, err := qkd.NewClient().ExchangeKey(ro.List[alice], ro.List[bob], c.Int("length"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "[+] Established key %s (QBER %.3f)\n",
		hex.EncodeToString(reply.Key), reply.QBER)
	return nil
}

// checkRoster verifies that every server in the group is up and
// running.
func checkRoster(c *cli.Context) error {
	return check.Roster(c.GlobalString(optionGroup), c.App.Writer)
}

func showKey(c *cli.Context) error {
	ro, err := readRoster(c)
	if err != nil {
		return err
	}
	if c.NArg() < 2 {
		return xerrors.New("please give: nodeIndex peerIndex")
	}
	node, err := rosterMember(ro, c.Args().Get(0))
	if err != nil {
		return err
	}
	peer, err := rosterMember(ro, c.Args().Get(1))
	if err != nil {
		return err
	}

	key, err := qkd.NewClient().Key(ro.List[node], ro.List[peer])
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hex.EncodeToString(key))
	return nil
}
