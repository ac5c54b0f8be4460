package chain

import (
	"errors"
	"fmt"

	"github.com/divi-project/divid/pkg/util"
	"github.com/holiman/uint256"
)

var (
	// ErrHeaderExists happens when the same header is added to the tree twice.
	ErrHeaderExists = errors.New("header already present in the tree")
	// ErrOrphanHeader happens when a header's parent is not in the tree.
	ErrOrphanHeader = errors.New("header's parent is not present in the tree")
)

// HeaderTree is the total-work-ordered tree of all block headers the node
// ever learned about, indexed by hash. The active chain is one path through
// it; forks and not-yet-connected branches stay in the tree as well.
type HeaderTree struct {
	index map[util.Uint256]*BlockIndex
}

// NewHeaderTree returns a new empty HeaderTree.
func NewHeaderTree() *HeaderTree {
	return &HeaderTree{
		index: make(map[util.Uint256]*BlockIndex),
	}
}

// AddGenesis places the genesis block into an empty tree. The given work is
// the genesis block's own proof of work.
func (t *HeaderTree) AddGenesis(hash util.Uint256, work *uint256.Int) (*BlockIndex, error) {
	if len(t.index) != 0 {
		return nil, fmt.Errorf("can't add genesis %s: tree is not empty", hash.StringLE())
	}
	b := &BlockIndex{
		hash:   hash,
		Height: 0,
		Status: ValidTree,
	}
	b.ChainWork.Set(work)
	t.index[hash] = b
	return b, nil
}

// Add links a new header under the given parent, accumulating chain work
// and building the skip pointer. The new index starts at ValidTree.
func (t *HeaderTree) Add(hash util.Uint256, prev util.Uint256, work *uint256.Int) (*BlockIndex, error) {
	if _, ok := t.index[hash]; ok {
		return nil, fmt.Errorf("%w: %s", ErrHeaderExists, hash.StringLE())
	}
	parent, ok := t.index[prev]
	if !ok {
		return nil, fmt.Errorf("%w: %s waits for %s", ErrOrphanHeader, hash.StringLE(), prev.StringLE())
	}
	b := &BlockIndex{
		hash:   hash,
		Height: parent.Height + 1,
		Prev:   parent,
		Status: ValidTree,
	}
	b.ChainWork.Add(&parent.ChainWork, work)
	b.buildSkip()
	t.index[hash] = b
	return b, nil
}

// Get returns the index for the given hash or nil when the hash is unknown.
func (t *HeaderTree) Get(hash util.Uint256) *BlockIndex {
	return t.index[hash]
}

// Len returns the number of headers in the tree.
func (t *HeaderTree) Len() int {
	return len(t.index)
}
