package syncmgr

import (
	"github.com/divi-project/divid/pkg/chain"
	"github.com/divi-project/divid/pkg/util"
)

// betterThanBestKnown reports whether b should replace the peer's current
// best known block. Equal chain work promotes too: a more recently learned
// tip of the same weight is assumed to be the better candidate.
func betterThanBestKnown(st *PeerState, b *chain.BlockIndex) bool {
	return st.bestKnownBlock == nil || b.ChainWork.Cmp(&st.bestKnownBlock.ChainWork) >= 0
}

// ProcessBlockAvailability checks whether the last unknown block the peer
// advertised has become known in the meantime and promotes it to the
// peer's best known block if so. Hashes that are still unknown (or known
// without any chain work attached) stay pending for the next call.
func (r *Registry) ProcessBlockAvailability(id PeerID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.processBlockAvailability(r.mustState(id))
}

func (r *Registry) processBlockAvailability(st *PeerState) {
	if st.lastUnknownBlock.Equals(util.Uint256{}) {
		return
	}
	b := r.ledger.BlockIndex(st.lastUnknownBlock)
	if b == nil || b.ChainWork.IsZero() {
		return
	}
	if betterThanBestKnown(st, b) {
		st.bestKnownBlock = b
	}
	st.lastUnknownBlock = util.Uint256{}
}

// UpdateBlockAvailability records that the peer announced the given block.
// Known blocks with chain work update the peer's best known block; unknown
// ones are remembered for later resolution, the latest announcement
// superseding any earlier pending one.
func (r *Registry) UpdateBlockAvailability(id PeerID, hash util.Uint256) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.mustState(id)
	r.processBlockAvailability(st)

	b := r.ledger.BlockIndex(hash)
	if b != nil && !b.ChainWork.IsZero() {
		// An actually better block was announced.
		if betterThanBestKnown(st, b) {
			st.bestKnownBlock = b
		}
	} else {
		// An unknown block was announced; just assume the latest one is
		// the best one.
		st.lastUnknownBlock = hash
	}
}
