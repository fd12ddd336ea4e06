// Qpnode is the server binary of the quantumprotocol project. A qpnode
// runs the Blockchain and QKD services on top of the *onet* overlay
// library and the *kyber* cryptographic primitives.
//
// Set up a configuration with:
//
//	./qpnode setup
//
// then launch the daemon with:
//
//	./qpnode server
package main

import (
	"os"
	"path"

	"go.dedis.ch/onet/v3/app"
	"go.dedis.ch/onet/v3/cfgpath"
	"go.dedis.ch/onet/v3/log"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/quantumprotocol/quantumprotocol"
	_ "github.com/quantumprotocol/quantumprotocol/blockchain/service"
	_ "github.com/quantumprotocol/quantumprotocol/qkd"
	"github.com/quantumprotocol/quantumprotocol/qptool/check"
)

const (
	// DefaultName is the name of the binary and of its configuration
	// directory.
	DefaultName = "qpnode"

	// Version of this binary.
	Version = "0.1"
)

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = DefaultName
	cliApp.Usage = "run a quantumprotocol server"
	cliApp.Version = Version
	serverFlags := []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Value: path.Join(cfgpath.GetConfigPath(DefaultName), app.DefaultServerConfig),
			Usage: "configuration file of the server",
		},
		cli.IntFlag{
			Name:  "debug, d",
			Value: 0,
			Usage: "debug-level: 1 for terse, 5 for maximal",
		},
	}

	cliApp.Commands = []cli.Command{
		{
			Name:    "setup",
			Aliases: []string{"s"},
			Usage:   "Setup server configuration (interactive)",
			Action: func(c *cli.Context) error {
				if c.String("config") != "" {
					log.Fatal("[-] Configuration file option cannot be used for the 'setup' command")
				}
				if c.String("debug") != "" {
					log.Fatal("[-] Debug option cannot be used for the 'setup' command")
				}
				app.InteractiveConfig(quantumprotocol.Suite, DefaultName)
				return nil
			},
		},
		{
			Name:  "server",
			Usage: "Start quantumprotocol server",
			Action: func(c *cli.Context) {
				runServer(c)
			},
			Flags: serverFlags,
		},
		{
			Name:      "check",
			Aliases:   []string{"c"},
			Usage:     "Check if the servers in the group definition are up and running",
			ArgsUsage: "group definition file",
			Action:    checkConfig,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "g",
					Usage: "group definition file",
				},
			},
		},
	}
	cliApp.Flags = serverFlags
	cliApp.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.Int("debug"))
		return nil
	}
	// default action
	cliApp.Action = func(c *cli.Context) error {
		runServer(c)
		return nil
	}

	err := cliApp.Run(os.Args)
	log.ErrFatal(err)
}

func runServer(ctx *cli.Context) {
	config := ctx.String("config")

	app.RunServer(config)
}

// checkConfig contacts all servers and verifies that each of them can
// run a key exchange with its neighbour.
func checkConfig(c *cli.Context) error {
	tomlFileName := c.String("g")
	if c.NArg() > 0 {
		tomlFileName = c.Args().First()
	}
	return check.Roster(tomlFileName, os.Stdout)
}
