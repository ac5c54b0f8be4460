package syncmgr

import (
	"container/list"
	"fmt"
	"sync"
	"time"

	"github.com/divi-project/divid/pkg/chain"
	"github.com/divi-project/divid/pkg/config"
	"github.com/divi-project/divid/pkg/util"
	"go.uber.org/zap"
)

// Ledger is the chain view the registry tracks availability against and
// plans downloads from. All methods are pure in-memory lookups; they never
// call back into the registry.
type Ledger interface {
	// BlockIndex resolves a hash against the header tree, nil when unknown.
	BlockIndex(hash util.Uint256) *chain.BlockIndex
	// Tip returns the active chain's tip, nil for an empty chain.
	Tip() *chain.BlockIndex
	// Height returns the active chain's height, -1 for an empty chain.
	Height() int
	// At returns the active chain's block at the given height.
	At(height int) *chain.BlockIndex
}

// AddressRecorder learns about addresses of peers that disconnected cleanly
// with a clean misbehavior record.
type AddressRecorder interface {
	RecordConnected(addr string)
}

// OrphanPool drops orphan transactions attributed to a disconnecting peer.
type OrphanPool interface {
	EraseOrphansFor(id PeerID) int
}

type inFlightRef struct {
	peer PeerID
	// elem is the entry's handle within the owning peer's blocksInFlight
	// list, letting receipt erase it without scanning.
	elem *list.Element
}

// Registry owns all per-peer synchronization state together with the global
// in-flight block map. A single lock guards everything, taken by every
// exported method at entry; invariants spanning peers (the counters, the
// in-flight map) hold whenever the lock is released.
type Registry struct {
	mtx sync.Mutex

	peers    map[PeerID]*PeerState
	inFlight map[util.Uint256]inFlightRef

	queuedValidatedHeaders int
	preferredDownloadPeers int
	syncStartedPeers       int

	window  int
	ledger  Ledger
	addrs   AddressRecorder
	orphans OrphanPool
	log     *zap.Logger
	timeNow func() time.Time
}

// New returns a Registry planning against the given ledger. A non-positive
// BlockDownloadWindow is replaced with the default; the registry does not
// use the other sync configuration fields. The addrs and
// orphans collaborators may be nil, in which case the corresponding
// finalization steps are skipped.
func New(cfg config.SyncConfiguration, ledger Ledger, addrs AddressRecorder, orphans OrphanPool, log *zap.Logger) *Registry {
	if ledger == nil {
		panic("syncmgr: nil ledger")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BlockDownloadWindow <= 0 {
		cfg.BlockDownloadWindow = config.DefaultBlockDownloadWindow
	}
	return &Registry{
		peers:    make(map[PeerID]*PeerState),
		inFlight: make(map[util.Uint256]inFlightRef),
		window:   cfg.BlockDownloadWindow,
		ledger:   ledger,
		addrs:    addrs,
		orphans:  orphans,
		log:      log,
		timeNow:  time.Now,
	}
}

// state returns the peer's state or nil when the id is unknown.
func (r *Registry) state(id PeerID) *PeerState {
	return r.peers[id]
}

// mustState returns the peer's state, panicking for unknown ids: every
// caller is contractually required to pass ids of live peers only.
func (r *Registry) mustState(id PeerID) *PeerState {
	st := r.peers[id]
	if st == nil {
		panic(fmt.Sprintf("syncmgr: operation on unknown peer %d", id))
	}
	return st
}

// Initialize registers a freshly connected peer. It panics when the id is
// already present.
func (r *Registry) Initialize(id PeerID, info ConnectInfo) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, ok := r.peers[id]; ok {
		panic(fmt.Sprintf("syncmgr: peer %d initialized twice", id))
	}
	r.peers[id] = newPeerState(id, info)
	updatePeerCountMetric(len(r.peers))
	r.log.Info("peer registered",
		zap.Int64("peer", int64(id)),
		zap.String("address", info.Address))
}

// Finalize releases everything the registry holds for a disconnecting
// peer: its sync-started and preferred-download counter contributions, its
// in-flight blocks and their validated-header counter contributions, and
// its orphan transactions. Well-behaved peers that completed the handshake
// get their address recorded as recently connected. After Finalize returns
// the id is unknown to the registry.
func (r *Registry) Finalize(id PeerID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.mustState(id)
	if st.syncStarted {
		r.decCounter(&r.syncStartedPeers, "sync started peers")
	}
	if st.misbehavior == 0 && st.currentlyConnected && r.addrs != nil {
		r.addrs.RecordConnected(st.address)
	}
	for e := st.blocksInFlight.Front(); e != nil; e = e.Next() {
		entry := e.Value.(*queuedBlock)
		if entry.validatedHeaders {
			r.decCounter(&r.queuedValidatedHeaders, "queued validated headers")
		}
		delete(r.inFlight, entry.hash)
	}
	if r.orphans != nil {
		r.orphans.EraseOrphansFor(id)
	}
	if st.preferredDownload {
		r.decCounter(&r.preferredDownloadPeers, "preferred download peers")
	}
	delete(r.peers, id)

	updatePeerCountMetric(len(r.peers))
	updatePreferredDownloadMetric(r.preferredDownloadPeers)
	updateSyncStartedMetric(r.syncStartedPeers)
	updateBlocksInFlightMetric(len(r.inFlight))
	updateQueuedValidatedHeadersMetric(r.queuedValidatedHeaders)
	r.log.Info("peer unregistered", zap.Int64("peer", int64(id)))
}

// Lookup returns a snapshot of the peer's state. The second return is false
// for unknown ids; Lookup never registers anything.
func (r *Registry) Lookup(id PeerID) (PeerInfo, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.state(id)
	if st == nil {
		return PeerInfo{}, false
	}
	return st.info(), true
}

// PeerCount returns the number of registered peers.
func (r *Registry) PeerCount() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.peers)
}

// UpdatePreferredDownload recomputes whether the peer is eligible to serve
// initial block download from its connection flags, keeping the global
// count in sync. It must be called again whenever any of the flags change.
func (r *Registry) UpdatePreferredDownload(id PeerID, flags ConnFlags) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.mustState(id)
	if st.preferredDownload {
		r.decCounter(&r.preferredDownloadPeers, "preferred download peers")
	}
	st.preferredDownload = (flags.Outbound || flags.Whitelisted) && !flags.OneShot && !flags.LightClient
	if st.preferredDownload {
		r.preferredDownloadPeers++
	}
	updatePreferredDownloadMetric(r.preferredDownloadPeers)
}

// HavePreferredDownloadPeers reports whether at least one connected peer is
// eligible to serve initial block download.
func (r *Registry) HavePreferredDownloadPeers() bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.preferredDownloadPeers > 0
}

// SyncStartedPeerCount returns the number of peers initial sync was
// started with.
func (r *Registry) SyncStartedPeerCount() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.syncStartedPeers
}

// RecordPeerStartedToSync marks the peer as the one headers sync was
// started with. Calling it again for the same peer is a no-op, which keeps
// the counter paired with the decrement in Finalize.
func (r *Registry) RecordPeerStartedToSync(id PeerID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.mustState(id)
	if st.syncStarted {
		return
	}
	st.syncStarted = true
	r.syncStartedPeers++
	updateSyncStartedMetric(r.syncStartedPeers)
}

// SetCurrentlyConnected marks the peer's handshake as completed, making it
// eligible for the recently-connected address record on disconnect.
func (r *Registry) SetCurrentlyConnected(id PeerID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.mustState(id).currentlyConnected = true
}

// Misbehaving bumps the peer's misbehavior score by howMuch. Scoring
// consequences (banning, disconnecting) are the caller's business, the
// registry only keeps the count.
func (r *Registry) Misbehaving(id PeerID, howMuch int, reason string) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.mustState(id)
	st.misbehavior += howMuch
	r.log.Warn("peer misbehaving",
		zap.Int64("peer", int64(id)),
		zap.Int("score", st.misbehavior),
		zap.String("reason", reason))
}

// MisbehaviorScore returns the peer's accumulated misbehavior score.
func (r *Registry) MisbehaviorScore(id PeerID) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.mustState(id).misbehavior
}

// RecordScanningError counts a failed masternode scan attributed to this
// peer at the given height.
func (r *Registry) RecordScanningError(id PeerID, height int) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.mustState(id)
	st.scanningErrorCount++
	st.lastScanningErrorHeight = height
}

// MarkPeerAsStalling starts the peer's stall timer unless it is already
// running. The timer is cleared when any block arrives from the peer.
func (r *Registry) MarkPeerAsStalling(id PeerID) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	st := r.mustState(id)
	if st.stallingSince != 0 {
		return
	}
	st.stallingSince = r.nowMicros()
	r.log.Info("stalling block download",
		zap.Int64("peer", int64(id)))
}

// StallingSince returns the microsecond timestamp the peer's stall timer
// was started at, 0 when the peer is not stalling.
func (r *Registry) StallingSince(id PeerID) int64 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.mustState(id).stallingSince
}

// BlocksInFlight returns the number of block requests outstanding against
// the peer.
func (r *Registry) BlocksInFlight(id PeerID) int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return r.mustState(id).blocksInFlightCount
}

func (r *Registry) nowMicros() int64 {
	return r.timeNow().UnixMicro()
}

// decCounter decrements one of the derived global counters, none of which
// may ever drop below zero.
func (r *Registry) decCounter(c *int, name string) {
	*c--
	if *c < 0 {
		panic("syncmgr: " + name + " counter underflow")
	}
}
