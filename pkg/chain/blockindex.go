package chain

import (
	"github.com/divi-project/divid/pkg/util"
	"github.com/holiman/uint256"
)

// Status is a bit field recording how far a block got through validation
// together with data availability and failure flags.
type Status uint32

// Validation progress levels. Each level implies all the previous ones.
const (
	// ValidUnknown is the default for a freshly seen block.
	ValidUnknown Status = 0
	// ValidHeader means the header was parsed and its proof of work checked.
	ValidHeader Status = 1
	// ValidTree means the parent is known and height and chain work are set.
	ValidTree Status = 2
	// ValidTransactions means the block data passed context-free checks.
	ValidTransactions Status = 3
	// ValidChain means all parent blocks have their transactions counted.
	ValidChain Status = 4
	// ValidScripts means scripts and signatures were fully verified.
	ValidScripts Status = 5

	validMask Status = 7

	// HaveData is set once the full block payload is stored locally.
	HaveData Status = 1 << 3
	// HaveUndo is set once undo data is stored locally.
	HaveUndo Status = 1 << 4
	// FailedValid marks a block that failed validation.
	FailedValid Status = 1 << 5
	// FailedChild marks a descendant of a block that failed validation.
	FailedChild Status = 1 << 6

	failedMask = FailedValid | FailedChild
)

// BlockIndex is a node of the block header tree. It is created once the
// header is linked to a known parent and never moves afterwards, so pointers
// to it stay valid for the lifetime of the tree.
type BlockIndex struct {
	hash util.Uint256

	// Height is the distance from genesis, genesis itself being 0.
	Height int
	// Prev points to the parent index, nil for genesis.
	Prev *BlockIndex
	// skip points to a further-away ancestor allowing O(log n) GetAncestor.
	skip *BlockIndex

	// ChainWork is the cumulative proof of work from genesis up to and
	// including this block.
	ChainWork uint256.Int

	Status Status

	// ChainTx is the cumulative number of transactions from genesis up to
	// and including this block, 0 when not yet known (some ancestor's data
	// is still missing).
	ChainTx uint64
}

// Hash returns the block's hash.
func (b *BlockIndex) Hash() util.Uint256 {
	return b.hash
}

// IsValid checks whether the block reached the given validation level and
// never failed validation. Only a plain level may be passed, not a bit
// combination.
func (b *BlockIndex) IsValid(upTo Status) bool {
	if upTo&^validMask != 0 {
		panic("chain: IsValid called with non-level status bits")
	}
	if b.Status&failedMask != 0 {
		return false
	}
	return b.Status&validMask >= upTo
}

// HasData reports whether the full block payload is stored locally.
func (b *BlockIndex) HasData() bool {
	return b.Status&HaveData != 0
}

// GetAncestor returns the ancestor of the block at the given height or nil
// if the height is out of range. It walks the skip pointers where possible,
// falling back to Prev steps in between.
func (b *BlockIndex) GetAncestor(height int) *BlockIndex {
	if height > b.Height || height < 0 {
		return nil
	}

	walk := b
	h := b.Height
	for h > height {
		hSkip := skipHeight(h)
		hSkipPrev := skipHeight(h - 1)
		if walk.skip != nil &&
			(hSkip == height ||
				(hSkip > height && !(hSkipPrev < hSkip-2 && hSkipPrev >= height))) {
			// Only follow the skip pointer if Prev's skip would not be
			// a better fit.
			walk = walk.skip
			h = hSkip
		} else {
			walk = walk.Prev
			h--
		}
	}
	return walk
}

// buildSkip computes the skip pointer for a freshly linked index.
func (b *BlockIndex) buildSkip() {
	if b.Prev != nil {
		b.skip = b.Prev.GetAncestor(skipHeight(b.Height))
	}
}

// invertLowestOne turns the lowest '1' bit in the binary representation of
// a number into a '0'.
func invertLowestOne(n int) int {
	return n & (n - 1)
}

// skipHeight determines which ancestor height the skip pointer at the given
// height refers to.
func skipHeight(height int) int {
	if height < 2 {
		return 0
	}
	// Determine which height to jump back to. Any number strictly lower
	// than height is acceptable, but the following expression uses the
	// skip list to reach far-away heights quickly while keeping close
	// heights reachable in few steps.
	if height&1 == 1 {
		return invertLowestOne(invertLowestOne(height-1)) + 1
	}
	return invertLowestOne(height)
}

// LastCommonAncestor finds the highest block the two given chains have in
// common. Both arguments must belong to the same tree.
func LastCommonAncestor(a, b *BlockIndex) *BlockIndex {
	if a.Height > b.Height {
		a = a.GetAncestor(b.Height)
	} else if b.Height > a.Height {
		b = b.GetAncestor(a.Height)
	}

	for a != b && a != nil && b != nil {
		a = a.Prev
		b = b.Prev
	}
	return a
}
