package syncmgr

import (
	"container/list"

	"github.com/divi-project/divid/pkg/chain"
	"github.com/divi-project/divid/pkg/util"
)

// PeerID identifies a single peer connection. Ids are unique per connection
// instance and are never reused within a process run.
type PeerID int64

// NoPeer is the PeerID value standing for "no peer at all".
const NoPeer PeerID = -1

// ConnectInfo carries the connection attributes the registry records for a
// freshly connected peer.
type ConnectInfo struct {
	Name    string
	Address string
}

// ConnFlags are the connection attributes deciding whether a peer is
// eligible to serve initial block download.
type ConnFlags struct {
	Outbound    bool
	Whitelisted bool
	OneShot     bool
	LightClient bool
}

// queuedBlock is a single outstanding block request.
type queuedBlock struct {
	hash util.Uint256
	// index is set when the request was made off a validated header, nil
	// when only the hash is known.
	index    *chain.BlockIndex
	queuedAt int64 // microseconds
	// queuedValidatedHeadersAtInsert snapshots the global validated-header
	// counter at insertion time.
	queuedValidatedHeadersAtInsert int
	validatedHeaders               bool
}

// PeerState is everything the registry tracks about one connected peer. It
// is owned by the Registry and only ever touched under its lock.
type PeerState struct {
	id      PeerID
	name    string
	address string

	misbehavior        int
	syncStarted        bool
	currentlyConnected bool
	preferredDownload  bool

	// blocksInFlight holds *queuedBlock entries in request order. A
	// list is used so that the global in-flight map can keep stable
	// element handles and erase entries in O(1) on receipt.
	blocksInFlight      *list.List
	blocksInFlightCount int

	// stallingSince is the time the peer was first attributed a download
	// stall, 0 when it is not stalling. Cleared whenever a block arrives
	// from it.
	stallingSince int64 // microseconds

	// bestKnownBlock is the best header this peer is known to have
	// announced, lastCommonBlock the highest block shared between its
	// chain and ours.
	bestKnownBlock  *chain.BlockIndex
	lastCommonBlock *chain.BlockIndex
	// lastUnknownBlock is the hash of the most recent announcement that
	// could not be resolved against the header tree yet.
	lastUnknownBlock util.Uint256

	scanningErrorCount      int
	lastScanningErrorHeight int
}

func newPeerState(id PeerID, info ConnectInfo) *PeerState {
	return &PeerState{
		id:             id,
		name:           info.Name,
		address:        info.Address,
		blocksInFlight: list.New(),
	}
}

// PeerInfo is a point-in-time copy of the externally interesting parts of a
// peer's state, as returned by Registry.Lookup.
type PeerInfo struct {
	ID                PeerID
	Name              string
	Address           string
	Misbehavior       int
	SyncStarted       bool
	PreferredDownload bool
	BlocksInFlight    int
	StallingSince     int64
	// BestKnownHeight and LastCommonHeight are -1 while unknown.
	BestKnownHeight  int
	LastCommonHeight int
	LastUnknownBlock util.Uint256

	ScanningErrorCount      int
	LastScanningErrorHeight int
}

func (s *PeerState) info() PeerInfo {
	pi := PeerInfo{
		ID:                      s.id,
		Name:                    s.name,
		Address:                 s.address,
		Misbehavior:             s.misbehavior,
		SyncStarted:             s.syncStarted,
		PreferredDownload:       s.preferredDownload,
		BlocksInFlight:          s.blocksInFlightCount,
		StallingSince:           s.stallingSince,
		BestKnownHeight:         -1,
		LastCommonHeight:        -1,
		LastUnknownBlock:        s.lastUnknownBlock,
		ScanningErrorCount:      s.scanningErrorCount,
		LastScanningErrorHeight: s.lastScanningErrorHeight,
	}
	if s.bestKnownBlock != nil {
		pi.BestKnownHeight = s.bestKnownBlock.Height
	}
	if s.lastCommonBlock != nil {
		pi.LastCommonHeight = s.lastCommonBlock.Height
	}
	return pi
}
