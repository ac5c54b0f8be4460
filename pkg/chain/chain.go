package chain

import "github.com/divi-project/divid/pkg/util"

// Chain is the currently active chain: a dense height-indexed sequence of
// block indices from genesis to the tip.
type Chain struct {
	blocks []*BlockIndex
}

// Tip returns the last block of the chain, nil for an empty chain.
func (c *Chain) Tip() *BlockIndex {
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// Height returns the height of the tip, -1 for an empty chain.
func (c *Chain) Height() int {
	return len(c.blocks) - 1
}

// At returns the block at the given height or nil when the height is out of
// the chain's range.
func (c *Chain) At(height int) *BlockIndex {
	if height < 0 || height >= len(c.blocks) {
		return nil
	}
	return c.blocks[height]
}

// Contains reports whether the given block lies on the active chain.
func (c *Chain) Contains(b *BlockIndex) bool {
	return c.At(b.Height) == b
}

// Next returns the active-chain successor of the given block, nil when the
// block is the tip or not on the active chain at all.
func (c *Chain) Next(b *BlockIndex) *BlockIndex {
	if !c.Contains(b) {
		return nil
	}
	return c.At(b.Height + 1)
}

// SetTip rebuilds the chain so that it ends in the given block, walking Prev
// pointers down to the fork point. Passing nil empties the chain.
func (c *Chain) SetTip(b *BlockIndex) {
	if b == nil {
		c.blocks = nil
		return
	}
	if len(c.blocks) <= b.Height {
		c.blocks = append(c.blocks, make([]*BlockIndex, b.Height+1-len(c.blocks))...)
	}
	c.blocks = c.blocks[:b.Height+1]
	for b != nil && c.blocks[b.Height] != b {
		c.blocks[b.Height] = b
		b = b.Prev
	}
}

// View binds a header tree to the active chain. It is the read-only sight
// of the chain state the network layer plans downloads against.
type View struct {
	Tree   *HeaderTree
	Active *Chain
}

// BlockIndex looks the given hash up in the header tree, nil when unknown.
func (v *View) BlockIndex(hash util.Uint256) *BlockIndex {
	return v.Tree.Get(hash)
}

// Tip returns the active chain's tip.
func (v *View) Tip() *BlockIndex {
	return v.Active.Tip()
}

// Height returns the active chain's height.
func (v *View) Height() int {
	return v.Active.Height()
}

// At returns the active chain's block at the given height.
func (v *View) At(height int) *BlockIndex {
	return v.Active.At(height)
}
