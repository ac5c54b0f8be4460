package syncmgr

import (
	"testing"
	"time"

	"github.com/divi-project/divid/internal/random"
	"github.com/divi-project/divid/pkg/chain"
	"github.com/divi-project/divid/pkg/config"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testChain builds header trees for registry tests. Every block carries
// unit work, so chain work compares the same way height does.
type testChain struct {
	t    *testing.T
	tree *chain.HeaderTree
	view *chain.View
}

func newTestChain(t *testing.T) *testChain {
	tree := chain.NewHeaderTree()
	genesis, err := tree.AddGenesis(random.Uint256(), uint256.NewInt(1))
	require.NoError(t, err)
	genesis.Status = chain.ValidTransactions | chain.HaveData
	genesis.ChainTx = 1
	active := &chain.Chain{}
	active.SetTip(genesis)
	return &testChain{
		t:    t,
		tree: tree,
		view: &chain.View{Tree: tree, Active: active},
	}
}

func (tc *testChain) genesis() *chain.BlockIndex {
	return tc.view.At(0)
}

// extend adds n fresh headers on top of parent, returning them in height
// order.
func (tc *testChain) extend(parent *chain.BlockIndex, n int) []*chain.BlockIndex {
	blocks := make([]*chain.BlockIndex, 0, n)
	for i := 0; i < n; i++ {
		b, err := tc.tree.Add(random.Uint256(), parent.Hash(), uint256.NewInt(1))
		require.NoError(tc.t, err)
		blocks = append(blocks, b)
		parent = b
	}
	return blocks
}

// connect marks the block as stored and transaction-counted. Ancestors
// must be connected first.
func (tc *testChain) connect(b *chain.BlockIndex) {
	require.True(tc.t, b.Prev == nil || b.Prev.ChainTx > 0, "parent must be connected first")
	b.Status = chain.ValidTransactions | chain.HaveData
	if b.Prev == nil {
		b.ChainTx = 1
	} else {
		b.ChainTx = b.Prev.ChainTx + 1
	}
}

// connectAll connects the given blocks in order and moves the active tip
// to the last of them.
func (tc *testChain) connectAll(blocks []*chain.BlockIndex) {
	for _, b := range blocks {
		tc.connect(b)
	}
	tc.view.Active.SetTip(blocks[len(blocks)-1])
}

type fakeAddrRecorder struct {
	addrs []string
}

func (f *fakeAddrRecorder) RecordConnected(addr string) {
	f.addrs = append(f.addrs, addr)
}

type fakeOrphanPool struct {
	erased []PeerID
}

func (f *fakeOrphanPool) EraseOrphansFor(id PeerID) int {
	f.erased = append(f.erased, id)
	return 0
}

// testRegistry is a Registry wired to a test chain, fake collaborators and
// a settable clock.
type testRegistry struct {
	*Registry
	chain   *testChain
	addrs   *fakeAddrRecorder
	orphans *fakeOrphanPool
	clock   int64 // microseconds
}

func newTestRegistry(t *testing.T, window int) *testRegistry {
	tc := newTestChain(t)
	tr := &testRegistry{
		chain:   tc,
		addrs:   &fakeAddrRecorder{},
		orphans: &fakeOrphanPool{},
		clock:   1600000000000000,
	}
	tr.Registry = New(
		config.SyncConfiguration{BlockDownloadWindow: window},
		tc.view, tr.addrs, tr.orphans, zaptest.NewLogger(t))
	tr.Registry.timeNow = func() time.Time { return time.UnixMicro(tr.clock) }
	return tr
}

// checkInvariants verifies the cross-peer bookkeeping: the in-flight map
// and the per-peer lists form a bijection and every derived counter equals
// what a full recount gives.
func checkInvariants(t *testing.T, r *Registry) {
	t.Helper()
	r.mtx.Lock()
	defer r.mtx.Unlock()

	var entries, validated, preferred, syncStarted int
	for id, st := range r.peers {
		require.Equal(t, st.blocksInFlight.Len(), st.blocksInFlightCount)
		for e := st.blocksInFlight.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*queuedBlock)
			ref, ok := r.inFlight[entry.hash]
			require.True(t, ok, "in-flight entry missing from the global map")
			require.Equal(t, id, ref.peer)
			require.Same(t, e, ref.elem)
			if entry.validatedHeaders {
				validated++
			}
			entries++
		}
		if st.preferredDownload {
			preferred++
		}
		if st.syncStarted {
			syncStarted++
		}
	}
	require.Equal(t, entries, len(r.inFlight))
	require.Equal(t, validated, r.queuedValidatedHeaders)
	require.Equal(t, preferred, r.preferredDownloadPeers)
	require.Equal(t, syncStarted, r.syncStartedPeers)
}

// requireAncestor asserts that anc lies on b's chain.
func requireAncestor(t *testing.T, anc, b *chain.BlockIndex) {
	t.Helper()
	require.Same(t, anc, b.GetAncestor(anc.Height))
}
