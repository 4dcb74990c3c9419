package sharechain

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/djkazic/p2pool-go/internal/types"
)

func newTestActor(t *testing.T) (ChainHandle, *BoltStore, func()) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewBoltStore(filepath.Join(dir, "store.db"), testLogger(t))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	chain, err := NewChain(store, types.NetworkSignet, testLogger(t))
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	actor := NewChainActor(chain, testLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go actor.Run(ctx)
	handle := NewChainHandle(actor)
	cleanup := func() {
		cancel()
		_ = store.Close()
	}
	return handle, store, cleanup
}

func childOf(t *testing.T, parent types.ShareHash, diff float64, nonce string) *types.ShareBlock {
	t.Helper()
	d := types.NewDecimalFromFloat(diff)
	header := types.ShareHeader{
		MinerShare: types.MinerShare{
			WorkInfoID: 1,
			Enonce1:    "fdf8b667",
			Nonce2:     "0000000000000000",
			Nonce:      nonce,
			Ntime:      1700000000,
			Diff:       d,
			Sdiff:      d,
			Hash:       types.ShareHash{byte(len(nonce)), 0x22},
		},
		PrevShareBlockHash: &parent,
	}
	block, err := types.NewShareBlockBuilder(header).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return block
}

func TestChainHandle_AddShareAndGetTips(t *testing.T) {
	handle, _, cleanup := newTestActor(t)
	defer cleanup()
	ctx := context.Background()

	tip, err := handle.GetChainTip(ctx)
	if err != nil {
		t.Fatalf("GetChainTip: %v", err)
	}

	child := childOf(t, tip, 1.0, "00000001")
	childHash, err := handle.AddShare(ctx, nil, child)
	if err != nil {
		t.Fatalf("AddShare: %v", err)
	}

	newTip, err := handle.GetChainTip(ctx)
	if err != nil {
		t.Fatalf("GetChainTip: %v", err)
	}
	if newTip != childHash {
		t.Errorf("GetChainTip() = %s, want %s", newTip, childHash)
	}

	height, err := handle.GetTipHeight(ctx)
	if err != nil {
		t.Fatalf("GetTipHeight: %v", err)
	}
	if height != 1 {
		t.Errorf("GetTipHeight() = %d, want 1", height)
	}
}

func TestChainHandle_AddShareWithValidator(t *testing.T) {
	handle, store, cleanup := newTestActor(t)
	defer cleanup()
	ctx := context.Background()

	validator := NewValidator(store, FixedTimeSource{T: time.Unix(1700000000, 0)})

	tip, err := handle.GetChainTip(ctx)
	if err != nil {
		t.Fatalf("GetChainTip: %v", err)
	}
	child := childOf(t, tip, 1.0, "00000001")
	if _, err := handle.AddShare(ctx, validator, child); err != nil {
		t.Fatalf("AddShare: %v", err)
	}

	missingParent := types.ShareHash{0xff}
	orphan := childOf(t, missingParent, 1.0, "00000002")
	if _, err := handle.AddShare(ctx, validator, orphan); err == nil {
		t.Error("AddShare with unresolved parent should have been rejected by the validator")
	}
}

func TestChainHandle_WorkbaseRoundTrip(t *testing.T) {
	handle, _, cleanup := newTestActor(t)
	defer cleanup()
	ctx := context.Background()

	wb := types.Workbase{WorkInfoID: 7, Payload: []byte("snapshot")}
	if err := handle.StoreWorkbase(ctx, wb); err != nil {
		t.Fatalf("StoreWorkbase: %v", err)
	}
	got, found, err := handle.GetWorkbase(ctx, 7)
	if err != nil {
		t.Fatalf("GetWorkbase: %v", err)
	}
	if !found || string(got.Payload) != "snapshot" {
		t.Errorf("GetWorkbase() = %+v (found=%v), want payload %q", got, found, "snapshot")
	}
}

func TestChainHandle_BuildLocatorAndMissingHashes(t *testing.T) {
	handle, _, cleanup := newTestActor(t)
	defer cleanup()
	ctx := context.Background()

	tip, _ := handle.GetChainTip(ctx)
	a := childOf(t, tip, 1.0, "00000001")
	aHash, err := handle.AddShare(ctx, nil, a)
	if err != nil {
		t.Fatalf("AddShare a: %v", err)
	}
	b := childOf(t, aHash, 1.0, "00000002")
	bHash, err := handle.AddShare(ctx, nil, b)
	if err != nil {
		t.Fatalf("AddShare b: %v", err)
	}

	locator, err := handle.BuildLocator(ctx)
	if err != nil {
		t.Fatalf("BuildLocator: %v", err)
	}
	if len(locator) == 0 || locator[0] != bHash {
		t.Errorf("BuildLocator()[0] = %v, want %v", locator, bHash)
	}

	unknown := types.ShareHash{0xaa, 0xbb}
	missing, err := handle.GetMissingBlockhashes(ctx, []types.ShareHash{aHash, unknown})
	if err != nil {
		t.Fatalf("GetMissingBlockhashes: %v", err)
	}
	if len(missing) != 1 || missing[0] != unknown {
		t.Errorf("GetMissingBlockhashes() = %v, want [%v]", missing, unknown)
	}
}
