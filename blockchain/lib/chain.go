package lib

import (
	"errors"
	"fmt"
)

// Chain is an in-memory sequence of blocks starting at a genesis block.
type Chain struct {
	Blocks []*Block
}

// NewChain creates a chain from its genesis block.
func NewChain(genesis *Block) (*Chain, error) {
	if genesis == nil {
		return nil, errors.New("nil genesis block")
	}
	if genesis.Index != 0 {
		return nil, errors.New("genesis block must have index 0")
	}
	if err := genesis.VerifyHash(); err != nil {
		return nil, err
	}
	if _, err := DecodeChainConfig(genesis.Data); err != nil {
		return nil, fmt.Errorf("genesis doesn't hold a valid configuration: %v", err)
	}
	return &Chain{Blocks: []*Block{genesis}}, nil
}

// ID of a chain is the hash of its genesis block.
func (c *Chain) ID() BlockID {
	return c.Blocks[0].Hash
}

// Genesis returns the first block.
func (c *Chain) Genesis() *Block {
	return c.Blocks[0]
}

// Latest returns the most recent block.
func (c *Chain) Latest() *Block {
	return c.Blocks[len(c.Blocks)-1]
}

// Config decodes the chain configuration from the genesis block.
func (c *Chain) Config() (*ChainConfig, error) {
	return DecodeChainConfig(c.Blocks[0].Data)
}

// Append adds a block after checking that it links correctly to the
// current head. Consensus-specific checks (work, producer) are done by
// the engines, not here.
func (c *Chain) Append(b *Block) error {
	latest := c.Latest()
	if b.Index != latest.Index+1 {
		return fmt.Errorf("expected index %d but got %d", latest.Index+1, b.Index)
	}
	if !b.PrevHash.Equal(latest.Hash) {
		return errors.New("block doesn't link to the current head")
	}
	if err := b.VerifyHash(); err != nil {
		return err
	}
	c.Blocks = append(c.Blocks, b)
	return nil
}

// Verify walks the whole chain and checks every link and hash.
func (c *Chain) Verify() error {
	if len(c.Blocks) == 0 {
		return errors.New("empty chain")
	}
	if err := c.Blocks[0].VerifyHash(); err != nil {
		return err
	}
	for i := 1; i < len(c.Blocks); i++ {
		if c.Blocks[i].Index != i {
			return fmt.Errorf("block %d carries index %d", i, c.Blocks[i].Index)
		}
		if !c.Blocks[i].PrevHash.Equal(c.Blocks[i-1].Hash) {
			return fmt.Errorf("broken link at block %d", i)
		}
		if err := c.Blocks[i].VerifyHash(); err != nil {
			return fmt.Errorf("block %d: %v", i, err)
		}
	}
	return nil
}
