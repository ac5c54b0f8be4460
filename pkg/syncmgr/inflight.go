package syncmgr

import (
	"github.com/divi-project/divid/pkg/chain"
	"github.com/divi-project/divid/pkg/util"
	"go.uber.org/zap"
)

// MarkBlockAsInFlight records an outstanding request for the given block
// against the peer. The index may be nil when the request is made off a
// bare hash rather than a validated header. A block already in flight
// anywhere is first reconciled as received, so each hash is tracked at most
// once globally.
func (r *Registry) MarkBlockAsInFlight(id PeerID, hash util.Uint256, index *chain.BlockIndex) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.mustState(id)

	// Make sure it's not listed somewhere already.
	r.markBlockAsReceived(hash)

	entry := &queuedBlock{
		hash:                           hash,
		index:                          index,
		queuedAt:                       r.nowMicros(),
		queuedValidatedHeadersAtInsert: r.queuedValidatedHeaders,
		validatedHeaders:               index != nil,
	}
	if entry.validatedHeaders {
		r.queuedValidatedHeaders++
	}
	elem := st.blocksInFlight.PushBack(entry)
	st.blocksInFlightCount++
	r.inFlight[hash] = inFlightRef{peer: id, elem: elem}

	updateBlocksInFlightMetric(len(r.inFlight))
	updateQueuedValidatedHeadersMetric(r.queuedValidatedHeaders)
	r.log.Debug("requesting block",
		zap.Stringer("hash", hash),
		zap.Int64("peer", int64(id)))
}

// MarkBlockAsReceived drops the in-flight record for the given block, if
// any, clearing the owning peer's stall timer along the way. Unknown
// hashes are ignored.
func (r *Registry) MarkBlockAsReceived(hash util.Uint256) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.markBlockAsReceived(hash)
}

func (r *Registry) markBlockAsReceived(hash util.Uint256) {
	ref, ok := r.inFlight[hash]
	if !ok {
		return
	}
	st := r.mustState(ref.peer)
	entry := ref.elem.Value.(*queuedBlock)
	if entry.validatedHeaders {
		r.decCounter(&r.queuedValidatedHeaders, "queued validated headers")
	}
	st.blocksInFlight.Remove(ref.elem)
	r.decCounter(&st.blocksInFlightCount, "peer blocks in flight")
	st.stallingSince = 0
	delete(r.inFlight, hash)

	updateBlocksInFlightMetric(len(r.inFlight))
	updateQueuedValidatedHeadersMetric(r.queuedValidatedHeaders)
}

// BlockIsInFlight reports whether a request for the given block is
// outstanding against any peer.
func (r *Registry) BlockIsInFlight(hash util.Uint256) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	_, ok := r.inFlight[hash]
	return ok
}

// SourceOfInFlightBlock returns the peer the given block was requested
// from, NoPeer when it is not in flight. Callers that can't handle NoPeer
// guard with BlockIsInFlight.
func (r *Registry) SourceOfInFlightBlock(hash util.Uint256) PeerID {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	ref, ok := r.inFlight[hash]
	if !ok {
		return NoPeer
	}
	return ref.peer
}
