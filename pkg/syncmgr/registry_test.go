package syncmgr

import (
	"testing"

	"github.com/divi-project/divid/internal/random"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAndLookup(t *testing.T) {
	tr := newTestRegistry(t, 16)

	_, ok := tr.Lookup(1)
	require.False(t, ok)

	tr.Initialize(1, ConnectInfo{Name: "alice", Address: "10.0.0.1:51472"})
	info, ok := tr.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, PeerID(1), info.ID)
	assert.Equal(t, "alice", info.Name)
	assert.Equal(t, "10.0.0.1:51472", info.Address)
	assert.Equal(t, -1, info.BestKnownHeight)
	assert.Equal(t, -1, info.LastCommonHeight)
	assert.Equal(t, 1, tr.PeerCount())

	require.Panics(t, func() {
		tr.Initialize(1, ConnectInfo{})
	})
	checkInvariants(t, tr.Registry)
}

func TestLookupNeverInserts(t *testing.T) {
	tr := newTestRegistry(t, 16)

	_, ok := tr.Lookup(42)
	require.False(t, ok)
	require.Equal(t, 0, tr.PeerCount())
}

func TestOperationsOnUnknownPeerPanic(t *testing.T) {
	tr := newTestRegistry(t, 16)

	require.Panics(t, func() { tr.Finalize(7) })
	require.Panics(t, func() { tr.UpdatePreferredDownload(7, ConnFlags{}) })
	require.Panics(t, func() { tr.RecordPeerStartedToSync(7) })
	require.Panics(t, func() { tr.ProcessBlockAvailability(7) })
	require.Panics(t, func() { tr.UpdateBlockAvailability(7, random.Uint256()) })
	require.Panics(t, func() { tr.MarkBlockAsInFlight(7, random.Uint256(), nil) })
	require.Panics(t, func() { tr.FindNextBlocksToDownload(7, 16) })
}

func TestUpdatePreferredDownload(t *testing.T) {
	tr := newTestRegistry(t, 16)
	tr.Initialize(1, ConnectInfo{})
	tr.Initialize(2, ConnectInfo{})

	require.False(t, tr.HavePreferredDownloadPeers())

	// Outbound full node qualifies.
	tr.UpdatePreferredDownload(1, ConnFlags{Outbound: true})
	require.True(t, tr.HavePreferredDownloadPeers())

	// Whitelisted inbound qualifies too.
	tr.UpdatePreferredDownload(2, ConnFlags{Whitelisted: true})
	checkInvariants(t, tr.Registry)

	// Repeated updates with the same flags don't drift the counter.
	tr.UpdatePreferredDownload(1, ConnFlags{Outbound: true})
	tr.UpdatePreferredDownload(1, ConnFlags{Outbound: true})
	checkInvariants(t, tr.Registry)

	t.Run("disqualifiers", func(t *testing.T) {
		tr.UpdatePreferredDownload(1, ConnFlags{Outbound: true, OneShot: true})
		tr.UpdatePreferredDownload(2, ConnFlags{Whitelisted: true, LightClient: true})
		require.False(t, tr.HavePreferredDownloadPeers())
		checkInvariants(t, tr.Registry)
	})

	t.Run("plain inbound does not qualify", func(t *testing.T) {
		tr.UpdatePreferredDownload(1, ConnFlags{})
		require.False(t, tr.HavePreferredDownloadPeers())
	})
}

func TestRecordPeerStartedToSync(t *testing.T) {
	tr := newTestRegistry(t, 16)
	tr.Initialize(1, ConnectInfo{})
	tr.Initialize(2, ConnectInfo{})

	require.Equal(t, 0, tr.SyncStartedPeerCount())
	tr.RecordPeerStartedToSync(1)
	require.Equal(t, 1, tr.SyncStartedPeerCount())

	// Repeating for the same peer is a no-op.
	tr.RecordPeerStartedToSync(1)
	require.Equal(t, 1, tr.SyncStartedPeerCount())

	tr.RecordPeerStartedToSync(2)
	require.Equal(t, 2, tr.SyncStartedPeerCount())
	checkInvariants(t, tr.Registry)

	tr.Finalize(1)
	require.Equal(t, 1, tr.SyncStartedPeerCount())
	checkInvariants(t, tr.Registry)
}

func TestMisbehaving(t *testing.T) {
	tr := newTestRegistry(t, 16)
	tr.Initialize(1, ConnectInfo{})

	require.Equal(t, 0, tr.MisbehaviorScore(1))
	tr.Misbehaving(1, 20, "bad inv")
	tr.Misbehaving(1, 30, "bad headers")
	require.Equal(t, 50, tr.MisbehaviorScore(1))
}

func TestRecordScanningError(t *testing.T) {
	tr := newTestRegistry(t, 16)
	tr.Initialize(1, ConnectInfo{})

	tr.RecordScanningError(1, 1200)
	tr.RecordScanningError(1, 1450)
	info, ok := tr.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, 2, info.ScanningErrorCount)
	assert.Equal(t, 1450, info.LastScanningErrorHeight)
}

func TestFinalizeCleanup(t *testing.T) {
	tr := newTestRegistry(t, 16)
	blocks := tr.chain.extend(tr.chain.genesis(), 5)

	tr.Initialize(1, ConnectInfo{Name: "bob", Address: "10.0.0.2:51472"})
	tr.UpdatePreferredDownload(1, ConnFlags{Outbound: true})
	tr.RecordPeerStartedToSync(1)
	tr.SetCurrentlyConnected(1)

	// One request off a validated header, one off a bare hash.
	x, y := blocks[0], blocks[1]
	tr.MarkBlockAsInFlight(1, x.Hash(), x)
	tr.MarkBlockAsInFlight(1, y.Hash(), nil)
	require.Equal(t, 2, tr.BlocksInFlight(1))
	require.Equal(t, 1, tr.queuedValidatedHeaders)
	checkInvariants(t, tr.Registry)

	tr.Finalize(1)

	_, ok := tr.Lookup(1)
	require.False(t, ok)
	require.False(t, tr.BlockIsInFlight(x.Hash()))
	require.False(t, tr.BlockIsInFlight(y.Hash()))
	require.Equal(t, 0, tr.queuedValidatedHeaders)
	require.Equal(t, 0, tr.SyncStartedPeerCount())
	require.False(t, tr.HavePreferredDownloadPeers())
	require.Equal(t, []string{"10.0.0.2:51472"}, tr.addrs.addrs)
	require.Equal(t, []PeerID{1}, tr.orphans.erased)
	checkInvariants(t, tr.Registry)

	// The blocks are free to be requested from someone else now.
	tr.Initialize(2, ConnectInfo{})
	tr.MarkBlockAsInFlight(2, x.Hash(), x)
	require.Equal(t, PeerID(2), tr.SourceOfInFlightBlock(x.Hash()))
	checkInvariants(t, tr.Registry)
}

func TestFinalizeSkipsAddressRecord(t *testing.T) {
	t.Run("misbehaving peer", func(t *testing.T) {
		tr := newTestRegistry(t, 16)
		tr.Initialize(1, ConnectInfo{Address: "10.0.0.3:51472"})
		tr.SetCurrentlyConnected(1)
		tr.Misbehaving(1, 10, "spam")
		tr.Finalize(1)
		require.Empty(t, tr.addrs.addrs)
	})
	t.Run("handshake never completed", func(t *testing.T) {
		tr := newTestRegistry(t, 16)
		tr.Initialize(1, ConnectInfo{Address: "10.0.0.4:51472"})
		tr.Finalize(1)
		require.Empty(t, tr.addrs.addrs)
	})
}

func TestMarkPeerAsStalling(t *testing.T) {
	tr := newTestRegistry(t, 16)
	tr.Initialize(1, ConnectInfo{})

	require.EqualValues(t, 0, tr.StallingSince(1))
	tr.MarkPeerAsStalling(1)
	started := tr.StallingSince(1)
	require.EqualValues(t, tr.clock, started)

	// A second mark doesn't restart the timer.
	tr.clock += 500000
	tr.MarkPeerAsStalling(1)
	require.Equal(t, started, tr.StallingSince(1))

	// A block arriving from the peer clears it.
	b := tr.chain.extend(tr.chain.genesis(), 1)[0]
	tr.MarkBlockAsInFlight(1, b.Hash(), b)
	tr.MarkBlockAsReceived(b.Hash())
	require.EqualValues(t, 0, tr.StallingSince(1))
}

// TestRandomizedOperationSweep drives the registry through a pile of
// random operation sequences, recounting every derived value after each
// step.
func TestRandomizedOperationSweep(t *testing.T) {
	tr := newTestRegistry(t, 32)
	blocks := tr.chain.extend(tr.chain.genesis(), 64)

	peers := []PeerID{}
	nextID := PeerID(0)
	for step := 0; step < 500; step++ {
		switch op := random.Int(0, 10); {
		case op == 0 || len(peers) == 0:
			tr.Initialize(nextID, ConnectInfo{Name: random.String(8)})
			peers = append(peers, nextID)
			nextID++
		case op == 1 && len(peers) > 1:
			i := random.Int(0, len(peers))
			tr.Finalize(peers[i])
			peers = append(peers[:i], peers[i+1:]...)
		case op < 4:
			b := blocks[random.Int(0, len(blocks))]
			id := peers[random.Int(0, len(peers))]
			if random.Int(0, 2) == 0 {
				tr.MarkBlockAsInFlight(id, b.Hash(), b)
			} else {
				tr.MarkBlockAsInFlight(id, b.Hash(), nil)
			}
		case op < 6:
			tr.MarkBlockAsReceived(blocks[random.Int(0, len(blocks))].Hash())
		case op < 7:
			tr.UpdatePreferredDownload(peers[random.Int(0, len(peers))], ConnFlags{
				Outbound:    random.Int(0, 2) == 0,
				Whitelisted: random.Int(0, 2) == 0,
				OneShot:     random.Int(0, 4) == 0,
				LightClient: random.Int(0, 4) == 0,
			})
		case op < 8:
			tr.RecordPeerStartedToSync(peers[random.Int(0, len(peers))])
		default:
			tr.UpdateBlockAvailability(peers[random.Int(0, len(peers))], blocks[random.Int(0, len(blocks))].Hash())
		}
		checkInvariants(t, tr.Registry)
	}
}
