package emission

import (
	"context"
	"path/filepath"
	"testing"
	"time"

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

func sampleEmission(nonce string) Emission {
	diff := types.NewDecimalFromFloat(1.0)
	return Emission{
		PplnsShare: types.MinerShare{
			WorkInfoID: 1,
			Enonce1:    "fdf8b667",
			Nonce2:     "0000000000000000",
			Nonce:      nonce,
			Ntime:      uint32(time.Now().Unix()),
			Diff:       diff,
			Sdiff:      diff,
			Hash:       types.ShareHash{byte(len(nonce)), 0x99},
		},
		MinerPubkey: [types.PubkeySize]byte{0x02},
		MerkleRoot:  [32]byte{0xaa},
	}
}

func TestBridge_AcceptsValidEmission(t *testing.T) {
	ctx := context.Background()
	chain, _, cleanup := newTestHandle(t)
	defer cleanup()

	var accepted *types.ShareBlock
	bridge := NewBridge(chain, nil, func(b *types.ShareBlock) { accepted = b }, zap.NewNop())

	sender, receiver := NewChannel(4)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go bridge.Run(runCtx, receiver)

	sender <- sampleEmission("00000001")

	deadline := time.Now().Add(2 * time.Second)
	for accepted == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if accepted == nil {
		t.Fatal("onAccepted was never called")
	}

	tip, err := chain.GetChainTip(ctx)
	if err != nil {
		t.Fatalf("GetChainTip: %v", err)
	}
	acceptedHash, err := accepted.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if tip != acceptedHash {
		t.Errorf("chain tip = %s, want %s", tip, acceptedHash)
	}
}

func TestBridge_RejectsInvalidEmissionWithoutPanicking(t *testing.T) {
	ctx := context.Background()
	chain, store, cleanup := newTestHandle(t)
	defer cleanup()

	validator := sharechain.NewValidator(store, sharechain.SystemTimeSource{})

	genesisTip, err := chain.GetChainTip(ctx)
	if err != nil {
		t.Fatalf("GetChainTip: %v", err)
	}

	var accepted *types.ShareBlock
	bridge := NewBridge(chain, validator, func(b *types.ShareBlock) { accepted = b }, zap.NewNop())

	sender, receiver := NewChannel(4)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go bridge.Run(runCtx, receiver)

	bad := sampleEmission("00000002")
	bad.PplnsShare.Ntime = 1
	sender <- bad

	time.Sleep(50 * time.Millisecond)
	if accepted != nil {
		t.Error("onAccepted should not be called for a share with a stale timestamp")
	}

	tip, err := chain.GetChainTip(ctx)
	if err != nil {
		t.Fatalf("GetChainTip: %v", err)
	}
	if tip != genesisTip {
		t.Errorf("chain tip = %s, want unchanged genesis tip %s", tip, genesisTip)
	}
}

func TestBridge_StopsOnContextCancel(t *testing.T) {
	chain, _, cleanup := newTestHandle(t)
	defer cleanup()

	bridge := NewBridge(chain, nil, nil, zap.NewNop())
	_, receiver := NewChannel(1)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bridge.Run(runCtx, receiver)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestEmission_IsBlockFound(t *testing.T) {
	e := sampleEmission("00000003")
	if e.IsBlockFound() {
		t.Error("IsBlockFound() = true for an emission with no BitcoinBlock bytes")
	}
	e.BitcoinBlock = []byte{0x01, 0x02}
	if !e.IsBlockFound() {
		t.Error("IsBlockFound() = false for an emission carrying BitcoinBlock bytes")
	}
}
