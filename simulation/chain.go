package main

import (
	"github.com/BurntSushi/toml"
	"go.dedis.ch/onet/v3"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/onet/v3/simul/monitor"
	"golang.org/x/xerrors"

	"github.com/quantumprotocol/quantumprotocol/blockchain"
	"github.com/quantumprotocol/quantumprotocol/blockchain/lib"
	"github.com/quantumprotocol/quantumprotocol/consensus"
	"github.com/quantumprotocol/quantumprotocol/qkd"
)

func init() {
	onet.SimulationRegister("QuantumChain", NewChainSimulation)
}

// ChainSimulation measures how long it takes to seal and propagate
// blocks through a roster, and one quantum key exchange per round on
// top of it.
type ChainSimulation struct {
	onet.SimulationBFTree
	// Consensus names the engine to run, pow by default.
	Consensus string
	// Difficulty of the proof-of-work engine.
	Difficulty uint32
	// Transactions per block.
	Transactions int
}

// NewChainSimulation is used internally to register the simulation (see
// the init() function above).
func NewChainSimulation(config string) (onet.Simulation, error) {
	cs := &ChainSimulation{}
	_, err := toml.Decode(config, cs)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// Setup implements onet.Simulation.
func (cs *ChainSimulation) Setup(dir string, hosts []string) (*onet.SimulationConfig, error) {
	sc := &onet.SimulationConfig{}
	cs.CreateRoster(sc, hosts, 2000)
	err := cs.CreateTree(sc)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// Node initializes each node before the run.
func (cs *ChainSimulation) Node(config *onet.SimulationConfig) error {
	index, _ := config.Roster.Search(config.Server.ServerIdentity.ID)
	if index < 0 {
		log.Fatal("Didn't find this node in roster")
	}
	log.Lvl3("Initializing node-index", index)
	return cs.SimulationBFTree.Node(config)
}

// Run implements onet.Simulation. It is only called on the root node.
func (cs *ChainSimulation) Run(config *onet.SimulationConfig) error {
	size := config.Tree.Size()
	log.Lvl2("Size is:", size, "rounds:", cs.Rounds)

	cc := &lib.ChainConfig{
		Consensus:  cs.Consensus,
		Difficulty: cs.Difficulty,
	}
	if cc.Consensus == "" {
		cc.Consensus = consensus.PowName
	}
	if cc.Consensus != consensus.PowName {
		for _, si := range config.Roster.List {
			pub, err := si.Public.MarshalBinary()
			if err != nil {
				return err
			}
			cc.Validators = append(cc.Validators, lib.Validator{Public: pub, Stake: 1})
		}
	}

	client := blockchain.NewClient()
	genesis := monitor.NewTimeMeasure("genesis")
	block, err := client.CreateGenesis(config.Roster, cc)
	if err != nil {
		return xerrors.Errorf("creating genesis: %v", err)
	}
	genesis.Record()

	txs := make([]lib.Transaction, cs.Transactions)
	for i := range txs {
		txs[i] = lib.Transaction{Sender: "alice", Recipient: "bob", Amount: uint64(i)}
	}

	qkdClient := qkd.NewClient()
	for round := 0; round < cs.Rounds; round++ {
		log.Lvl1("Starting round", round)

		store := monitor.NewTimeMeasure("store")
		reply, err := client.StoreBlock(config.Roster, block.Hash, txs)
		if err != nil {
			return xerrors.Errorf("storing block in round %d: %v", round, err)
		}
		store.Record()
		monitor.RecordSingleMeasure("acks", float64(reply.Acks))

		if len(config.Roster.List) > 1 {
			exchange := monitor.NewTimeMeasure("qkd")
			_, err := qkdClient.ExchangeKey(config.Roster.List[0], config.Roster.List[1], 0)
			if err != nil {
				return xerrors.Errorf("exchanging key in round %d: %v", round, err)
			}
			exchange.Record()
		}
	}
	return nil
}
