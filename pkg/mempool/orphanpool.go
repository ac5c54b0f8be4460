package mempool

import (
	"sync"

	"github.com/divi-project/divid/pkg/syncmgr"
	"github.com/divi-project/divid/pkg/util"
	"go.uber.org/zap"
)

// DefaultOrphanCapacity is the maximum number of orphan transactions kept
// unless configured otherwise.
const DefaultOrphanCapacity = 100

// OrphanPool keeps transactions whose inputs are not known yet, attributed
// to the peer that relayed them. The attribution lets the registry drop a
// peer's orphans the moment it disconnects. The pool has its own lock: it
// is called from peer finalization under the registry lock and must not
// call back into it.
type OrphanPool struct {
	mtx      sync.Mutex
	byHash   map[util.Uint256]syncmgr.PeerID
	byPeer   map[syncmgr.PeerID]map[util.Uint256]struct{}
	capacity int
	log      *zap.Logger
}

// NewOrphanPool returns an empty pool holding up to capacity orphans,
// DefaultOrphanCapacity when capacity is not positive.
func NewOrphanPool(capacity int, log *zap.Logger) *OrphanPool {
	if capacity <= 0 {
		capacity = DefaultOrphanCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &OrphanPool{
		byHash:   make(map[util.Uint256]syncmgr.PeerID),
		byPeer:   make(map[syncmgr.PeerID]map[util.Uint256]struct{}),
		capacity: capacity,
		log:      log,
	}
}

// Add records an orphan transaction relayed by the given peer. When the
// pool is full an arbitrary orphan is evicted first. Re-adding a known
// orphan moves the attribution to the latest relayer.
func (p *OrphanPool) Add(hash util.Uint256, peer syncmgr.PeerID) {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	if prev, ok := p.byHash[hash]; ok {
		if prev == peer {
			return
		}
		p.removeFromPeer(prev, hash)
	} else if len(p.byHash) >= p.capacity {
		for victim := range p.byHash {
			p.log.Debug("orphan pool overflow",
				zap.Stringer("evicted", victim))
			p.remove(victim)
			break
		}
	}
	p.byHash[hash] = peer
	if p.byPeer[peer] == nil {
		p.byPeer[peer] = make(map[util.Uint256]struct{})
	}
	p.byPeer[peer][hash] = struct{}{}
}

// Has reports whether the given orphan is in the pool.
func (p *OrphanPool) Has(hash util.Uint256) bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	_, ok := p.byHash[hash]
	return ok
}

// Len returns the number of orphans in the pool.
func (p *OrphanPool) Len() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return len(p.byHash)
}

// EraseOrphansFor drops every orphan attributed to the given peer and
// returns how many were dropped.
func (p *OrphanPool) EraseOrphansFor(id syncmgr.PeerID) int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	hashes := p.byPeer[id]
	for hash := range hashes {
		delete(p.byHash, hash)
	}
	delete(p.byPeer, id)
	if len(hashes) > 0 {
		p.log.Debug("erased orphans",
			zap.Int64("peer", int64(id)),
			zap.Int("count", len(hashes)))
	}
	return len(hashes)
}

// remove drops a single orphan together with its peer attribution.
// Requires the pool lock.
func (p *OrphanPool) remove(hash util.Uint256) {
	peer, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	p.removeFromPeer(peer, hash)
}

func (p *OrphanPool) removeFromPeer(peer syncmgr.PeerID, hash util.Uint256) {
	hashes := p.byPeer[peer]
	delete(hashes, hash)
	if len(hashes) == 0 {
		delete(p.byPeer, peer)
	}
}
