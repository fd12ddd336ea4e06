// Qptool is the command line client of the quantumprotocol project. It
// talks to a roster of qpnodes defined in a group definition file: it
// creates chains, stores blocks, records delegate votes and triggers
// quantum key exchanges.
package main

import (
	"os"

	"go.dedis.ch/onet/v3/log"
	cli "gopkg.in/urfave/cli.v1"
)

const optionGroup = "group"

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "qptool"
	cliApp.Usage = "interact with a quantumprotocol roster"
	cliApp.Version = "0.1"
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  optionGroup + ", g",
			Value: "group.toml",
			Usage: "group definition file of the roster",
		},
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
	}

	cliApp.Commands = []cli.Command{
		{
			Name:      "genesis",
			Usage:     "create a new chain over the roster",
			ArgsUsage: "pow|pos|dpos",
			Action:    createGenesis,
			Flags: []cli.Flag{
				cli.UintFlag{
					Name:  "difficulty",
					Value: 16,
					Usage: "proof-of-work difficulty in leading zero bits",
				},
				cli.Uint64Flag{
					Name:  "stake",
					Value: 1,
					Usage: "stake given to every roster member",
				},
				cli.IntFlag{
					Name:  "max-delegates",
					Usage: "size of the active delegate set (dpos)",
				},
			},
		},
		{
			Name:      "store",
			Usage:     "seal a transaction into a new block",
			ArgsUsage: "chainID sender recipient amount",
			Action:    storeBlock,
		},
		{
			Name:      "chain",
			Usage:     "fetch and verify all blocks of a chain",
			ArgsUsage: "chainID",
			Action:    showChain,
		},
		{
			Name:      "vote",
			Usage:     "record a delegate vote on every node",
			ArgsUsage: "chainID delegateIndex",
			Action:    vote,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "key",
					Usage: "hex private key of the voter",
				},
			},
		},
		{
			Name:      "exchange",
			Usage:     "establish a quantum key between two roster members",
			ArgsUsage: "aliceIndex bobIndex",
			Action:    exchangeKey,
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "length",
					Usage: "key length in bytes",
				},
			},
		},
		{
			Name:      "key",
			Usage:     "show the key a node shares with a peer",
			ArgsUsage: "nodeIndex peerIndex",
			Action:    showKey,
		},
		{
			Name:    "check",
			Aliases: []string{"c"},
			Usage:   "check that all servers in the group are up and running",
			Action:  checkRoster,
		},
	}
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}

	err := cliApp.Run(os.Args)
	log.ErrFatal(err)
}
