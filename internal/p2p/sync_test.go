package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/djkazic/p2pool-go/internal/types"
	"go.uber.org/zap"
)

// fakeChainReader is an in-memory ChainReader standing in for a
// sharechain.ChainHandle, so the sync protocol can be tested without
// standing up a full BoltStore-backed chain.
type fakeChainReader struct {
	headers []types.ShareHeader
	blocks  map[types.ShareHash]*types.ShareBlock
}

func (f *fakeChainReader) GetHeadersForLocator(ctx context.Context, locator []types.ShareHash, stop types.ShareHash, limit int) ([]types.ShareHeader, error) {
	return f.headers, nil
}

func (f *fakeChainReader) GetShare(ctx context.Context, hash types.ShareHash) (*types.ShareBlock, bool, error) {
	block, ok := f.blocks[hash]
	return block, ok, nil
}

func newTestHosts(t *testing.T) (host.Host, host.Host, func()) {
	t.Helper()
	h1, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New h1: %v", err)
	}
	h2, err := libp2p.New(libp2p.ListenAddrStrings("/ip4/127.0.0.1/tcp/0"))
	if err != nil {
		t.Fatalf("libp2p.New h2: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h1Info := peer.AddrInfo{ID: h1.ID(), Addrs: h1.Addrs()}
	if err := h2.Connect(ctx, h1Info); err != nil {
		t.Fatalf("connect: %v", err)
	}

	cleanup := func() {
		_ = h1.Close()
		_ = h2.Close()
	}
	return h1, h2, cleanup
}

func sampleBlockForSync(t *testing.T, nonce string) *types.ShareBlock {
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
			Hash:       types.ShareHash{byte(len(nonce)), 0x11},
		},
	}
	block, err := types.NewShareBlockBuilder(header).WithTransactions([]types.Transaction{{Raw: []byte("coinbase-payload")}}).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return block
}

func TestSyncer_GetShareHeaders(t *testing.T) {
	server, client, cleanup := newTestHosts(t)
	defer cleanup()

	header := types.ShareHeader{MinerShare: types.MinerShare{Nonce: "1", Hash: types.ShareHash{0x01}}}
	reader := &fakeChainReader{headers: []types.ShareHeader{header}}
	logger := zap.NewNop()
	NewSyncer(server, reader, logger)

	remote := NewRemotePeer(client, server.ID(), logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	headers, err := remote.GetShareHeaders(ctx, nil, types.ShareHash{})
	if err != nil {
		t.Fatalf("GetShareHeaders: %v", err)
	}
	if len(headers) != 1 || !headers[0].Equal(header) {
		t.Errorf("GetShareHeaders() = %+v, want [%+v]", headers, header)
	}
}

func TestSyncer_GetShareBlocksCompressesAndDecompressesCoinbase(t *testing.T) {
	server, client, cleanup := newTestHosts(t)
	defer cleanup()

	block := sampleBlockForSync(t, "00000001")
	hash, err := block.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	reader := &fakeChainReader{blocks: map[types.ShareHash]*types.ShareBlock{hash: block}}
	logger := zap.NewNop()
	NewSyncer(server, reader, logger)

	remote := NewRemotePeer(client, server.ID(), logger)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	blocks, err := remote.GetShareBlocks(ctx, []types.ShareHash{hash, {0xff}})
	if err != nil {
		t.Fatalf("GetShareBlocks: %v", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("GetShareBlocks() returned %d blocks, want 1 (unknown hash should be skipped)", len(blocks))
	}
	if string(blocks[0].Transactions[0].Raw) != "coinbase-payload" {
		t.Errorf("coinbase round trip = %q, want %q", blocks[0].Transactions[0].Raw, "coinbase-payload")
	}
}

func TestPubSub_PublishAndReceiveShare(t *testing.T) {
	h1, h2, cleanup := newTestHosts(t)
	defer cleanup()

	logger := zap.NewNop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	incoming1 := make(chan *types.ShareBlock, 1)
	incoming2 := make(chan *types.ShareBlock, 1)
	ps1, err := NewPubSub(ctx, h1, incoming1, logger)
	if err != nil {
		t.Fatalf("NewPubSub h1: %v", err)
	}
	if _, err := NewPubSub(ctx, h2, incoming2, logger); err != nil {
		t.Fatalf("NewPubSub h2: %v", err)
	}

	// Give gossipsub's mesh a moment to form after the earlier Connect.
	time.Sleep(200 * time.Millisecond)

	block := sampleBlockForSync(t, "00000002")
	if err := ps1.PublishShare(block); err != nil {
		t.Fatalf("PublishShare: %v", err)
	}

	select {
	case got := <-incoming2:
		if string(got.Transactions[0].Raw) != "coinbase-payload" {
			t.Errorf("received coinbase = %q, want %q", got.Transactions[0].Raw, "coinbase-payload")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive published share within timeout")
	}
}
