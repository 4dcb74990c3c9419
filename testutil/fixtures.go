// Package testutil provides shared sample data for internal/*'s tests,
// rewritten from the teacher's stratum-era fixtures (SampleBlockTemplate,
// SampleShare against a fixed-difficulty Bitcoin header) to the share-chain
// core's own model: MinerShare submissions, ShareHeader/ShareBlock DAG
// nodes and a disposable BoltStore.
package testutil

import (
	"testing"

	"github.com/djkazic/p2pool-go/internal/sharechain"
	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"
)

// SampleMinerShare returns a MinerShare for testing, distinguished by nonce
// so callers building chains of shares can avoid colliding hashes.
func SampleMinerShare(nonce string) types.MinerShare {
	diff := types.NewDecimalFromFloat(1.0)
	return types.MinerShare{
		WorkInfoID: 1,
		ClientID:   1,
		Enonce1:    "fdf8b667",
		Nonce2:     "0000000000000000",
		Nonce:      nonce,
		Ntime:      1700000000,
		Diff:       diff,
		Sdiff:      diff,
		Hash:       HashFromNonce(nonce),
		Username:   "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx",
	}
}

// SampleShareBlock builds a standalone ShareBlock (no parent, no
// transactions) for testing code that only needs a well-formed block.
func SampleShareBlock(t *testing.T, nonce string) *types.ShareBlock {
	t.Helper()
	header := types.ShareHeader{MinerShare: SampleMinerShare(nonce)}
	block, err := types.NewShareBlockBuilder(header).Build()
	if err != nil {
		t.Fatalf("testutil: build sample share block: %v", err)
	}
	return block
}

// SampleChildBlock builds a ShareBlock whose PrevShareBlockHash points at
// parent's hash, for constructing linear test chains.
func SampleChildBlock(t *testing.T, parent *types.ShareBlock, nonce string) *types.ShareBlock {
	t.Helper()
	parentHash, err := parent.Hash()
	if err != nil {
		t.Fatalf("testutil: hash parent: %v", err)
	}
	header := types.ShareHeader{
		MinerShare:         SampleMinerShare(nonce),
		PrevShareBlockHash: &parentHash,
	}
	block, err := types.NewShareBlockBuilder(header).Build()
	if err != nil {
		t.Fatalf("testutil: build sample child block: %v", err)
	}
	return block
}

// SampleShareChain builds a linear chain of count blocks rooted in a
// standalone genesis (not the network genesis — callers that need a Chain
// wired to a real Store should use SampleChain instead).
func SampleShareChain(t *testing.T, count int) []*types.ShareBlock {
	t.Helper()
	blocks := make([]*types.ShareBlock, count)
	blocks[0] = SampleShareBlock(t, "00000000")
	for i := 1; i < count; i++ {
		blocks[i] = SampleChildBlock(t, blocks[i-1], hexNonce(i))
	}
	return blocks
}

// SampleStore opens a BoltStore backed by t.TempDir(), closed automatically
// via t.Cleanup.
func SampleStore(t *testing.T) *sharechain.BoltStore {
	t.Helper()
	store, err := sharechain.NewBoltStore(t.TempDir()+"/sharechain.db", zap.NewNop())
	if err != nil {
		t.Fatalf("testutil: open sample store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// SampleChain opens a disposable Store and builds a Chain against it for
// the given network's genesis.
func SampleChain(t *testing.T, network types.Network) (*sharechain.Chain, *sharechain.BoltStore) {
	t.Helper()
	store := SampleStore(t)
	chain, err := sharechain.NewChain(store, network, zap.NewNop())
	if err != nil {
		t.Fatalf("testutil: build sample chain: %v", err)
	}
	return chain, store
}

// HashFromNonce derives a deterministic, distinguishable ShareHash from a
// nonce string for use as a MinerShare's bitcoin blockhash in tests.
func HashFromNonce(nonce string) types.ShareHash {
	var h types.ShareHash
	copy(h[:], nonce)
	h[31] = byte(len(nonce))
	return h
}

func hexNonce(i int) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 8)
	for pos := 7; pos >= 0; pos-- {
		b[pos] = digits[i&0xf]
		i >>= 4
	}
	return string(b)
}
