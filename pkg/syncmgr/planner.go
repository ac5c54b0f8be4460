package syncmgr

import (
	"github.com/divi-project/divid/pkg/chain"
	"go.uber.org/zap"
)

// blockBatchSize is the number of successors resolved per GetAncestor call
// while walking towards the peer's tip. GetAncestor costs about as much as
// following ~100 Prev links, so batches of this size keep the amortized
// cost of the walk flat.
const blockBatchSize = 128

// FindNextBlocksToDownload selects up to count blocks to request from the
// peer: the oldest blocks past the last common block that are neither
// stored locally nor in flight anywhere, limited to a sliding window above
// the last common block. When the window is exhausted without a single
// selection because some other peer's request blocks progress, that peer
// is returned as the staller (NoPeer otherwise).
func (r *Registry) FindNextBlocksToDownload(id PeerID, count int) ([]*chain.BlockIndex, PeerID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if count <= 0 {
		return nil, NoPeer
	}
	st := r.mustState(id)

	// Make sure bestKnownBlock is up to date, we'll need it.
	r.processBlockAvailability(st)

	tip := r.ledger.Tip()
	if st.bestKnownBlock == nil || tip == nil || st.bestKnownBlock.ChainWork.Lt(&tip.ChainWork) {
		// This peer has nothing interesting.
		return nil, NoPeer
	}

	if st.lastCommonBlock == nil {
		// Bootstrap quickly by guessing a parent of our best tip is the
		// forking point. Guessing wrong in either direction is not a
		// problem.
		h := st.bestKnownBlock.Height
		if ah := r.ledger.Height(); ah < h {
			h = ah
		}
		st.lastCommonBlock = r.ledger.At(h)
	}

	// If the peer reorganized, our previous lastCommonBlock may not be an
	// ancestor of its current tip anymore. Go back enough to fix that.
	st.lastCommonBlock = chain.LastCommonAncestor(st.lastCommonBlock, st.bestKnownBlock)
	if st.lastCommonBlock == st.bestKnownBlock {
		return nil, NoPeer
	}

	// Never fetch further than the best block we know the peer has, nor
	// more than the download window beyond the last linked block we have
	// in common with it. The +1 is so we can detect stalling, namely when
	// we would be able to download the next block if the window were one
	// larger.
	windowEnd := st.lastCommonBlock.Height + r.window
	maxHeight := st.bestKnownBlock.Height
	if windowEnd+1 < maxHeight {
		maxHeight = windowEnd + 1
	}

	var (
		blocks     = make([]*chain.BlockIndex, 0, count)
		toFetch    []*chain.BlockIndex
		walk       = st.lastCommonBlock
		waitingFor = NoPeer
	)
	for walk.Height < maxHeight {
		// Resolve up to 128 (or more, if the caller wants more) successors
		// of walk towards bestKnownBlock: one GetAncestor for the far
		// endpoint, then Prev links backwards to fill the batch in
		// forward order.
		n := count - len(blocks)
		if n < blockBatchSize {
			n = blockBatchSize
		}
		if left := maxHeight - walk.Height; left < n {
			n = left
		}
		if cap(toFetch) < n {
			toFetch = make([]*chain.BlockIndex, n)
		} else {
			toFetch = toFetch[:n]
		}
		walk = st.bestKnownBlock.GetAncestor(walk.Height + n)
		toFetch[n-1] = walk
		for i := n - 1; i > 0; i-- {
			toFetch[i-1] = toFetch[i].Prev
		}

		// Iterate over the batch in forward order, adding blocks that are
		// neither downloaded nor in flight, advancing lastCommonBlock as
		// long as all ancestors are already stored and connected.
		for _, b := range toFetch {
			if !b.IsValid(chain.ValidTree) {
				// We consider the chain this peer is on invalid.
				r.log.Debug("peer is on an invalid chain",
					zap.Int64("peer", int64(id)),
					zap.Stringer("block", b.Hash()))
				return nil, NoPeer
			}
			if b.HasData() {
				if b.ChainTx > 0 {
					st.lastCommonBlock = b
				}
				continue
			}
			ref, inFlight := r.inFlight[b.Hash()]
			if !inFlight {
				// The block is not already downloaded and not yet in
				// flight.
				if b.Height > windowEnd {
					// We reached the end of the window.
					if len(blocks) == 0 && waitingFor != id {
						// We aren't able to fetch anything, but we would
						// be if the download window was one larger.
						if waitingFor != NoPeer {
							incStallAttributionsMetric()
						}
						return nil, waitingFor
					}
					return blocks, NoPeer
				}
				blocks = append(blocks, b)
				if len(blocks) == count {
					return blocks, NoPeer
				}
			} else if waitingFor == NoPeer {
				// This is the first already-in-flight block.
				waitingFor = ref.peer
			}
		}
	}
	return blocks, NoPeer
}
