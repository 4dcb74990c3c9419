package sync

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/djkazic/p2pool-go/internal/sharechain"
	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"
)

func newTestHandle(t *testing.T) (sharechain.ChainHandle, *sharechain.BoltStore, func()) {
	t.Helper()
	dir := t.TempDir()
	store, err := sharechain.NewBoltStore(filepath.Join(dir, "store.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	chain, err := sharechain.NewChain(store, types.NetworkSignet, zap.NewNop())
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	actor := sharechain.NewChainActor(chain, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go actor.Run(ctx)
	cleanup := func() {
		cancel()
		_ = store.Close()
	}
	return sharechain.NewChainHandle(actor), store, cleanup
}

func childOf(t *testing.T, parent types.ShareHash, nonce string) *types.ShareBlock {
	t.Helper()
	diff := types.NewDecimalFromFloat(1.0)
	header := types.ShareHeader{
		MinerShare: types.MinerShare{
			WorkInfoID: 1,
			Enonce1:    "fdf8b667",
			Nonce2:     "0000000000000000",
			Nonce:      nonce,
			Ntime:      1700000000,
			Diff:       diff,
			Sdiff:      diff,
			Hash:       types.ShareHash{byte(len(nonce)), 0x77},
		},
		PrevShareBlockHash: &parent,
	}
	block, err := types.NewShareBlockBuilder(header).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return block
}

// fakePeer adapts a ChainHandle directly to the Peer interface, skipping
// any wire encoding — the sync driver is transport-agnostic, so this is a
// faithful stand-in for a remote node.
type fakePeer struct {
	remote sharechain.ChainHandle
}

func (p fakePeer) GetShareHeaders(ctx context.Context, locator []types.ShareHash, stop types.ShareHash) ([]types.ShareHeader, error) {
	return p.remote.GetHeadersForLocator(ctx, locator, stop, 0)
}

func (p fakePeer) GetShareBlocks(ctx context.Context, hashes []types.ShareHash) ([]*types.ShareBlock, error) {
	blocks := make([]*types.ShareBlock, 0, len(hashes))
	for _, hash := range hashes {
		block, found, err := p.remote.GetShare(ctx, hash)
		if err != nil {
			return nil, err
		}
		if found {
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

func TestSyncWith_CatchesUpToPeerTip(t *testing.T) {
	ctx := context.Background()

	remote, _, remoteCleanup := newTestHandle(t)
	defer remoteCleanup()
	local, _, localCleanup := newTestHandle(t)
	defer localCleanup()

	tip, err := remote.GetChainTip(ctx)
	if err != nil {
		t.Fatalf("GetChainTip: %v", err)
	}
	b1 := childOf(t, tip, "00000001")
	b1Hash, err := remote.AddShare(ctx, nil, b1)
	if err != nil {
		t.Fatalf("AddShare b1: %v", err)
	}
	b2 := childOf(t, b1Hash, "00000002")
	b2Hash, err := remote.AddShare(ctx, nil, b2)
	if err != nil {
		t.Fatalf("AddShare b2: %v", err)
	}

	driver := NewDriver(local, nil, zap.NewNop())
	inserted, err := driver.SyncWith(ctx, fakePeer{remote: remote})
	if err != nil {
		t.Fatalf("SyncWith: %v", err)
	}
	if inserted != 2 {
		t.Errorf("SyncWith() inserted = %d, want 2", inserted)
	}

	localTip, err := local.GetChainTip(ctx)
	if err != nil {
		t.Fatalf("GetChainTip: %v", err)
	}
	if localTip != b2Hash {
		t.Errorf("local chain tip = %s, want %s", localTip, b2Hash)
	}

	remoteTotal, err := remote.GetTotalDifficulty(ctx)
	if err != nil {
		t.Fatalf("remote GetTotalDifficulty: %v", err)
	}
	localTotal, err := local.GetTotalDifficulty(ctx)
	if err != nil {
		t.Fatalf("local GetTotalDifficulty: %v", err)
	}
	if !localTotal.Equal(remoteTotal.Decimal) {
		t.Errorf("local total difficulty = %s, want %s", localTotal, remoteTotal)
	}
}

func TestSyncWith_NoOpWhenAlreadyCaughtUp(t *testing.T) {
	ctx := context.Background()

	remote, _, remoteCleanup := newTestHandle(t)
	defer remoteCleanup()
	local, _, localCleanup := newTestHandle(t)
	defer localCleanup()

	driver := NewDriver(local, nil, zap.NewNop())
	inserted, err := driver.SyncWith(ctx, fakePeer{remote: remote})
	if err != nil {
		t.Fatalf("SyncWith: %v", err)
	}
	if inserted != 0 {
		t.Errorf("SyncWith() inserted = %d, want 0 (P7: requester already has all main-chain headers)", inserted)
	}
}

func TestSyncWith_ValidatorRejectsBadTimestamp(t *testing.T) {
	ctx := context.Background()

	remote, _, remoteCleanup := newTestHandle(t)
	defer remoteCleanup()
	local, localStore, localCleanup := newTestHandle(t)
	defer localCleanup()

	tip, _ := remote.GetChainTip(ctx)
	b1 := childOf(t, tip, "00000001")
	b1.Header.MinerShare.Ntime = 1
	if _, err := remote.AddShare(ctx, nil, b1); err != nil {
		t.Fatalf("AddShare b1: %v", err)
	}

	validator := sharechain.NewValidator(localStore, sharechain.SystemTimeSource{})
	driver := NewDriver(local, validator, zap.NewNop())
	inserted, err := driver.SyncWith(ctx, fakePeer{remote: remote})
	if err != nil {
		t.Fatalf("SyncWith: %v", err)
	}
	if inserted != 0 {
		t.Errorf("SyncWith() inserted = %d, want 0 (validator should reject the stale timestamp)", inserted)
	}
}
